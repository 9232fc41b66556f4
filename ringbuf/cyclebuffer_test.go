package ringbuf_test

import (
	"sync"
	"testing"
	"time"

	"github.com/LatticeX-Foundation/rosetta-io-go/ringbuf"
	"github.com/LatticeX-Foundation/rosetta-io-go/tools/tassert"
)

func TestWriteReadRoundTrip(t *testing.T) {
	cb := ringbuf.New("t", 16)
	n := cb.Write([]byte("hello"))
	tassert.Fatalf(t, n == 5, "wrote %d, want 5", n)
	tassert.Fatalf(t, cb.Used() == 5, "used %d, want 5", cb.Used())

	out := make([]byte, 5)
	got, err := cb.Read(out, time.Second)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, got == 5, "read %d, want 5", got)
	tassert.Fatalf(t, string(out) == "hello", "got %q", out)
	tassert.Fatalf(t, cb.Used() == 0, "used %d, want 0", cb.Used())
}

func TestWrapAround(t *testing.T) {
	cb := ringbuf.New("t", 8)
	cb.Write([]byte("123456"))
	buf := make([]byte, 4)
	_, err := cb.Read(buf, time.Second)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, string(buf) == "1234", "got %q", buf)

	// rPos=4, wPos=6; used=2 ("56"), free=6, so the next write wraps
	cb.Write([]byte("abcdef"))
	out := make([]byte, 8)
	got, err := cb.Read(out, time.Second)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, got == 8, "got %d", got)
	tassert.Fatalf(t, string(out) == "56abcdef", "got %q", out)
}

func TestGrowthPreservesContent(t *testing.T) {
	cb := ringbuf.New("t", 4)
	cb.Write([]byte("ab"))
	cb.Write([]byte("cdefgh")) // forces growth: free(2) < len(6)
	tassert.Fatalf(t, cb.Capacity() > 4, "expected growth, capacity=%d", cb.Capacity())
	out := make([]byte, 8)
	got, err := cb.Read(out, time.Second)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, got == 8, "got %d", got)
	tassert.Fatalf(t, string(out) == "abcdefgh", "got %q", out)
}

func TestUsedPlusFreeInvariant(t *testing.T) {
	cb := ringbuf.New("t", 4)
	for i := 0; i < 50; i++ {
		cb.Write([]byte("xyz"))
		tassert.Fatalf(t, cb.Used()+cb.Free() == cb.Capacity(), "invariant broken at %d", i)
		buf := make([]byte, 3)
		_, err := cb.Read(buf, time.Second)
		tassert.CheckError(t, err)
		tassert.Fatalf(t, cb.Used()+cb.Free() == cb.Capacity(), "invariant broken after read %d", i)
	}
}

func TestReadTimeoutZero(t *testing.T) {
	cb := ringbuf.New("t", 8)
	buf := make([]byte, 4)
	_, err := cb.Read(buf, 0)
	tassert.Fatalf(t, err == ringbuf.ErrTimeout, "got %v, want ErrTimeout", err)
}

func TestReadTimeoutElapses(t *testing.T) {
	cb := ringbuf.New("t", 8)
	buf := make([]byte, 4)
	start := time.Now()
	_, err := cb.Read(buf, 150*time.Millisecond)
	elapsed := time.Since(start)
	tassert.Fatalf(t, err == ringbuf.ErrTimeout, "got %v, want ErrTimeout", err)
	tassert.Fatalf(t, elapsed >= 150*time.Millisecond, "returned too early: %v", elapsed)
}

func TestBlockedReadUnblocksOnWrite(t *testing.T) {
	cb := ringbuf.New("t", 8)
	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var err error
	out := make([]byte, 5)
	go func() {
		defer wg.Done()
		got, err = cb.Read(out, 2*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	cb.Write([]byte("hello"))
	wg.Wait()
	tassert.CheckError(t, err)
	tassert.Fatalf(t, got == 5, "got %d", got)
	tassert.Fatalf(t, string(out) == "hello", "got %q", out)
}

func TestCloseUnblocksReader(t *testing.T) {
	cb := ringbuf.New("t", 8)
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := cb.Read(buf, 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cb.Close()
	select {
	case err := <-done:
		tassert.Fatalf(t, err == ringbuf.ErrClosed, "got %v, want ErrClosed", err)
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock on Close")
	}
}

func TestPeekBytesDiscardNeverPartial(t *testing.T) {
	cb := ringbuf.New("t", 16)
	cb.Write([]byte("12345"))
	_, ok := cb.PeekBytes(10)
	tassert.Fatalf(t, !ok, "PeekBytes should fail when underbuffered")
	tassert.Fatalf(t, cb.Used() == 5, "used changed after failed peek: %d", cb.Used())

	b, ok := cb.PeekBytes(5)
	tassert.Fatalf(t, ok, "PeekBytes should succeed")
	tassert.Fatalf(t, string(b) == "12345", "got %q", b)
	tassert.Fatalf(t, cb.Used() == 5, "peek must not advance: %d", cb.Used())

	cb.Discard(5)
	tassert.Fatalf(t, cb.Used() == 0, "discard should drain: %d", cb.Used())
}

func TestReadSomeReturnsWhateverIsBuffered(t *testing.T) {
	cb := ringbuf.New("t", 64<<10)
	cb.Write([]byte("hello"))
	buf := make([]byte, 64<<10)
	got, err := cb.ReadSome(buf, time.Second)
	tassert.CheckError(t, err)
	tassert.Fatalf(t, got == 5, "got %d, want 5 (ReadSome must not wait for buf to fill)", got)
	tassert.Fatalf(t, string(buf[:got]) == "hello", "got %q", buf[:got])
	tassert.Fatalf(t, cb.Used() == 0, "used %d, want 0", cb.Used())
}

func TestReadSomeBlocksUntilAnyData(t *testing.T) {
	cb := ringbuf.New("t", 64<<10)
	done := make(chan int, 1)
	go func() {
		buf := make([]byte, 64<<10)
		n, _ := cb.ReadSome(buf, 2*time.Second)
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	cb.Write([]byte("x"))
	select {
	case n := <-done:
		tassert.Fatalf(t, n == 1, "got %d, want 1", n)
	case <-time.After(time.Second):
		t.Fatal("ReadSome did not unblock on Write")
	}
}

func TestReadSomeTimeoutZero(t *testing.T) {
	cb := ringbuf.New("t", 8)
	buf := make([]byte, 4)
	_, err := cb.ReadSome(buf, 0)
	tassert.Fatalf(t, err == ringbuf.ErrTimeout, "got %v, want ErrTimeout", err)
}

func TestIdleShrink(t *testing.T) {
	cb := ringbuf.New("t", 4)
	cb.Write([]byte("abcdefgh")) // forces growth well above 4
	tassert.Fatalf(t, cb.Capacity() > 4, "expected growth")
	out := make([]byte, 8)
	cb.Read(out, time.Second)
	shrank := cb.IdleShrink(0)
	tassert.Fatalf(t, shrank, "expected shrink")
	tassert.Fatalf(t, cb.Capacity() == 4, "capacity %d, want 4", cb.Capacity())
}
