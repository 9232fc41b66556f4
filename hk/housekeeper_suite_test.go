package hk_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/LatticeX-Foundation/rosetta-io-go/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("housekeeper", func() {
	It("fires a registered cleanup repeatedly", func() {
		var n int32
		hk.Reg("counter", func() time.Duration {
			atomic.AddInt32(&n, 1)
			return 50 * time.Millisecond
		}, 10*time.Millisecond)
		Eventually(func() int32 { return atomic.LoadInt32(&n) }, 2*time.Second).Should(BeNumerically(">=", 3))
		hk.Unreg("counter")
	})

	It("stops firing once unregistered", func() {
		var n int32
		hk.Reg("stoppable", func() time.Duration {
			atomic.AddInt32(&n, 1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)
		Eventually(func() int32 { return atomic.LoadInt32(&n) }, time.Second).Should(BeNumerically(">=", 1))
		hk.Unreg("stoppable")
		time.Sleep(50 * time.Millisecond)
		seen := atomic.LoadInt32(&n)
		time.Sleep(100 * time.Millisecond)
		Expect(atomic.LoadInt32(&n)).To(Equal(seen))
	})
})
