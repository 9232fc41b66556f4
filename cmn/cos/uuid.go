package cos

import (
	"crypto/rand"
	"sync/atomic"

	"github.com/teris-io/shortid"
)

// Alphabet for generating ids (len > 0x3f so GenTie's mask always
// indexes in range).
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const (
	// LenShortID is the nominal length of a shortid-generated id, see
	// https://github.com/teris-io/shortid#id-length
	LenShortID = 9
	tooLongID  = 32
)

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenSessionID produces a short, human-loggable id for ephemeral identifiers,
// such as the per-Connection session id that conn.New assigns.
func GenSessionID() string {
	if sid == nil {
		InitShortID(0)
	}
	uuid := sid.MustGenerate()
	var h, t string
	if !isAlpha(uuid[0]) {
		h = string(rune('A' + int(rtie.Add(1))%26))
	}
	if c := uuid[len(uuid)-1]; c == '-' || c == '_' {
		t = string(rune('a' + int(rtie.Add(1))%26))
	}
	return h + uuid + t
}

// GenTie returns a 3-character fast tie-breaker, used when two independently
// generated ids must be disambiguated without a round trip.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAlphaNice reports whether s is a legal node/task id: letters, digits,
// '-', '_', not starting or ending with a separator, bounded length.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l == 0 || l > tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

const randAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CryptoRandS returns a cryptographically random alphanumeric string of
// length l, used where a collision-resistant id is needed without a
// round trip through the shortid worker/seed state (e.g. test node ids).
func CryptoRandS(l int) string {
	b := make([]byte, l)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = randAlphabet[int(b[i])%len(randAlphabet)]
	}
	return string(b)
}
