package cos_test

import (
	"testing"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/cos"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCos(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("id helpers", func() {
	It("generates session ids that pass IsAlphaNice", func() {
		cos.InitShortID(1)
		for i := 0; i < 16; i++ {
			id := cos.GenSessionID()
			Expect(cos.IsAlphaNice(id)).To(BeTrue())
			Expect(len(id)).To(BeNumerically(">=", cos.LenShortID))
		}
	})

	It("rejects ids with leading/trailing separators", func() {
		Expect(cos.IsAlphaNice("-bad")).To(BeFalse())
		Expect(cos.IsAlphaNice("bad-")).To(BeFalse())
		Expect(cos.IsAlphaNice("good-id_1")).To(BeTrue())
	})

	It("GenTie returns a 3-character tie-breaker", func() {
		tie := cos.GenTie()
		Expect(len(tie)).To(Equal(3))
	})
})

var _ = Describe("Errs aggregation", func() {
	It("dedups identical errors and caps at the limit", func() {
		var errs cos.Errs
		for i := 0; i < 20; i++ {
			errs.Add(errNotFoundSample())
		}
		Expect(errs.Cnt()).To(Equal(1))
	})
})

func errNotFoundSample() error { return cos.NewErrNotFound("peer %s", "P2") }
