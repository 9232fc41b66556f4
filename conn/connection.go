package conn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/cos"
	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
	"github.com/LatticeX-Foundation/rosetta-io-go/hk"
	"github.com/LatticeX-Foundation/rosetta-io-go/iocfg"
	"github.com/LatticeX-Foundation/rosetta-io-go/metrics"
	"github.com/LatticeX-Foundation/rosetta-io-go/ringbuf"
	"github.com/LatticeX-Foundation/rosetta-io-go/wire"
)

const (
	scratchSize        = 8 << 10
	lockIDPrefix       = "lock:"
	pumpPollPeriod     = 200 * time.Millisecond
	idleShrinkInterval = 30 * time.Second
)

// Connection owns one TCP (or TLS) socket and is shared across every
// task currently exchanging messages with peerNodeID.
type Connection struct {
	netConn       net.Conn
	currentNodeID string
	peerNodeID    string
	isServer      bool
	cfg           iocfg.Config
	errCb         ErrorCallback
	metricsReg    *metrics.Registry

	state    atomic.Int32
	reusable atomic.Bool
	refCount atomic.Int64

	rawRecv *ringbuf.CycleBuffer
	rawSend *ringbuf.CycleBuffer

	idMu      sync.Mutex
	perIDRecv map[string]*ringbuf.CycleBuffer

	stopOnce sync.Once
	stopCh   chan struct{}
	pumpEg   *errgroup.Group
	pumpOnce sync.Once

	// sessionID correlates log lines for this dial/accept across
	// reconnects to the same peer; it never crosses the wire.
	sessionID string
	hkName    string
}

// New wraps an already-connected (and already handshaken, see package
// ioclient/ioserver) socket. The Connection starts in StateConnected;
// TLS and the identification handshake happen before New is called,
// separating dial/accept plumbing from the steady-state connection
// object.
func New(netConn net.Conn, currentNodeID, peerNodeID string, isServer bool, cfg iocfg.Config, errCb ErrorCallback, reg *metrics.Registry) *Connection {
	c := &Connection{
		netConn:       netConn,
		currentNodeID: currentNodeID,
		peerNodeID:    peerNodeID,
		isServer:      isServer,
		cfg:           cfg,
		errCb:         errCb,
		metricsReg:    reg,
		rawRecv:       ringbuf.New("rawRecv:"+peerNodeID, int(cfg.RawRecvSize)),
		rawSend:       ringbuf.New("rawSend:"+peerNodeID, int(cfg.RawSendSize)),
		perIDRecv:     make(map[string]*ringbuf.CycleBuffer),
		stopCh:        make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	c.reusable.Store(true)
	c.sessionID = cos.GenSessionID()
	c.hkName = fmt.Sprintf("conn-idle-shrink:%s:%s", peerNodeID, c.sessionID)
	hk.Reg(c.hkName, c.idleShrink, idleShrinkInterval)
	return c
}

// idleShrink is the hk-registered callback that, every tick, shrinks
// rawRecv, rawSend, and any near-empty per-id ring that has sat idle past
// cfg.IdleTeardown back down to its original capacity, then reports every
// ring's current size to the metrics registry on the same pass.
func (c *Connection) idleShrink() time.Duration {
	c.rawRecv.IdleShrink(c.cfg.IdleTeardown)
	c.rawSend.IdleShrink(c.cfg.IdleTeardown)
	c.idMu.Lock()
	rings := make(map[string]*ringbuf.CycleBuffer, len(c.perIDRecv))
	for id, ring := range c.perIDRecv {
		rings[id] = ring
	}
	c.idMu.Unlock()
	for _, ring := range rings {
		ring.IdleShrink(c.cfg.IdleTeardown)
	}
	c.reportRingMetrics(rings)
	return idleShrinkInterval
}

// reportRingMetrics sets the RingUsed/RingCapacity gauges for rawRecv,
// rawSend, and every per-id ring in perID; a nil metricsReg (no Registry
// configured) makes this a no-op.
func (c *Connection) reportRingMetrics(perID map[string]*ringbuf.CycleBuffer) {
	if c.metricsReg == nil {
		return
	}
	set := func(ring string, cb *ringbuf.CycleBuffer) {
		c.metricsReg.RingUsed.WithLabelValues(c.peerNodeID, ring).Set(float64(cb.Used()))
		c.metricsReg.RingCapacity.WithLabelValues(c.peerNodeID, ring).Set(float64(cb.Capacity()))
	}
	set("rawRecv", c.rawRecv)
	set("rawSend", c.rawSend)
	for id, ring := range perID {
		set(id, ring)
	}
}

// Snapshot reports this Connection's frame/byte counters (read back from
// the metrics Registry) and aggregate ring sizes as a plain Go struct, for
// a caller that wants point-in-time introspection without scraping
// Prometheus. A Connection built without a Registry reports zero counters.
func (c *Connection) Snapshot() metrics.Snapshot {
	used := c.rawRecv.Used() + c.rawSend.Used()
	cap := c.rawRecv.Capacity() + c.rawSend.Capacity()
	c.idMu.Lock()
	for _, ring := range c.perIDRecv {
		used += ring.Used()
		cap += ring.Capacity()
	}
	c.idMu.Unlock()
	if c.metricsReg == nil {
		return metrics.Snapshot{PeerID: c.peerNodeID, RingUsed: used, RingCap: cap}
	}
	return c.metricsReg.Snapshot(c.peerNodeID, used, cap)
}

func (c *Connection) State() State       { return State(c.state.Load()) }
func (c *Connection) PeerNodeID() string { return c.peerNodeID }
func (c *Connection) IsReusable() bool   { return c.reusable.Load() }
func (c *Connection) RefCount() int64    { return c.refCount.Load() }

// SessionID is a short, human-loggable id identifying this particular
// dial/accept; it is regenerated on every reconnect to the same peer so
// log lines from two successive connections to one peer aren't confused.
func (c *Connection) SessionID() string { return c.sessionID }

// UnrecvSize is the sum of buffered-but-undelivered bytes across every
// per-id ring: a pool only tears down a zero-refcount Connection once
// this is also zero.
func (c *Connection) UnrecvSize() int {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	total := 0
	for _, ring := range c.perIDRecv {
		total += ring.Used()
	}
	return total
}

func (c *Connection) perIDRing(idKey string, create bool) *ringbuf.CycleBuffer {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	ring, ok := c.perIDRecv[idKey]
	if !ok && create {
		ring = ringbuf.New(idKey, int(c.cfg.PerIDRecvSize))
		c.perIDRecv[idKey] = ring
	}
	return ring
}

// spawnPumps starts the reader and writer pumps exactly once per
// Connection lifetime.
func (c *Connection) spawnPumps() {
	c.pumpOnce.Do(func() {
		c.pumpEg = &errgroup.Group{}
		c.pumpEg.Go(func() error { c.readerPump(); return nil })
		c.pumpEg.Go(func() error { c.writerPump(); return nil })
	})
}

// Start is the task-entry half of the rendezvous: the first task to attach
// spins up the pumps; every task (first or not) sends a "lock:"+taskID
// marker frame to its peer and returns without waiting for the peer's
// own marker, which the matching Stop consumes.
func (c *Connection) Start(taskID string) error {
	first := c.refCount.Add(1) == 1
	if first {
		c.spawnPumps()
	}
	lockID := []byte(lockIDPrefix + taskID)
	if _, err := c.Send(lockID, []byte{1}, 0); err != nil {
		c.refCount.Add(-1)
		return err
	}
	return nil
}

// Stop is the task-exit rendezvous: it blocks (bounded by
// cfg.ConnectTimeoutMs) until it observes the peer's own "lock:"+taskID
// marker, guaranteeing neither side tears down mid-handshake — expiry
// returns ErrRendezvousTimeout rather than hanging — then decrements the
// task refcount.
func (c *Connection) Stop(taskID string) error {
	lockID := []byte(lockIDPrefix + taskID)
	timeout := time.Duration(c.cfg.ConnectTimeoutMs) * time.Millisecond
	_, err := c.Recv(lockID, make([]byte, 1), 1, timeout)
	c.refCount.Add(-1)
	if err == ErrTimeout {
		return ErrRendezvousTimeout
	}
	return err
}

// Send encodes (id, payload) and appends it to the send ring; it never
// blocks on the socket itself, since backpressure is implicit in ring
// growth. timeout is accepted for interface symmetry with Recv but
// unused, since CycleBuffer.Write never blocks.
func (c *Connection) Send(id, payload []byte, _ time.Duration) (int, error) {
	if c.State() != StateConnected {
		return 0, ErrUnconnected
	}
	wirePayload := payload
	if c.cfg.Compression {
		wirePayload = wire.CompressPayload(payload)
	}
	rec, err := wire.Encode(id, wirePayload)
	if err != nil {
		return 0, err
	}
	c.rawSend.Write(rec)
	if c.metricsReg != nil {
		c.metricsReg.FramesSent.WithLabelValues(c.peerNodeID).Inc()
		c.metricsReg.BytesSent.WithLabelValues(c.peerNodeID).Add(float64(len(rec)))
	}
	return len(payload), nil
}

// Recv waits for n bytes tagged id, copies them into out, and returns n.
// It maps ringbuf's ErrTimeout/ErrClosed to the documented E_TIMEOUT /
// E_UNCONNECTED return codes: a ring closed out from under a waiting
// Recv unblocks it with ErrUnconnected, not a hang.
func (c *Connection) Recv(id []byte, out []byte, n int, timeout time.Duration) (int, error) {
	ring := c.perIDRing(string(id), true)
	got, err := ring.Read(out[:n], timeout)
	if err != nil {
		switch err {
		case ringbuf.ErrTimeout:
			return 0, ErrTimeout
		case ringbuf.ErrClosed:
			return 0, ErrUnconnected
		default:
			return 0, err
		}
	}
	if c.metricsReg != nil {
		c.metricsReg.FramesRecv.WithLabelValues(c.peerNodeID).Inc()
		c.metricsReg.BytesRecv.WithLabelValues(c.peerNodeID).Add(float64(got))
	}
	return got, nil
}

// Close transitions Connected/Closing -> Closed: stops the pumps,
// closes every per-id ring (unblocking any waiting Recv with
// ErrUnconnected), and closes the socket.
func (c *Connection) Close() error {
	c.state.Store(int32(StateClosing))
	c.reusable.Store(false)
	hk.Unreg(c.hkName)
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.pumpEg != nil {
		_ = c.pumpEg.Wait()
	}

	c.idMu.Lock()
	for _, ring := range c.perIDRecv {
		ring.Close()
	}
	c.idMu.Unlock()
	c.rawRecv.Close()
	c.rawSend.Close()

	err := c.netConn.Close()
	c.state.Store(int32(StateClosed))
	return err
}

func (c *Connection) fail(err error) {
	c.reusable.Store(false)
	c.state.Store(int32(StateFailed))
	if c.errCb != nil {
		c.errCb(c.currentNodeID, c.peerNodeID, ErrnoGeneric, err.Error())
	}
	nlog.Warningf("conn: peer %s (session %s) failed: %v", c.peerNodeID, c.sessionID, err)
	c.stopOnce.Do(func() { close(c.stopCh) })

	// close every per-id ring so a Recv blocked on one unblocks with
	// ErrUnconnected once its buffered bytes no longer satisfy it
	c.idMu.Lock()
	for _, ring := range c.perIDRecv {
		ring.Close()
	}
	c.idMu.Unlock()
}
