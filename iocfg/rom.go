package iocfg

import "go.uber.org/atomic"

// rom is the process-wide read-mostly config cache: one atomic swap on
// update, lock-free reads through Get rather than a mutex per read. The
// conn, ioclient and ioserver packages do not read it; each keeps the
// Config it was constructed with.
var rom = func() *atomic.Pointer[Config] {
	p := atomic.NewPointer[Config](nil)
	d := Default()
	p.Store(&d)
	return p
}()

// Set installs cfg as the current global config. Called once per Channel
// creation, since Create parses configJSON once.
func Set(cfg Config) { rom.Store(&cfg) }

// Get returns the current global config snapshot.
func Get() Config { return *rom.Load() }
