// Package ioclient implements the outbound half of the transport: dial,
// the identification handshake, retry-with-backoff, and a process-wide
// pool keyed by host:port so that concurrent tasks targeting the same peer
// share one TCP connection. The key uses the host exactly as the caller
// passes it; the host is not resolved to an IP first, so two spellings of
// one address get separate pool entries.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ioclient

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/cos"
	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
	"github.com/LatticeX-Foundation/rosetta-io-go/conn"
	"github.com/LatticeX-Foundation/rosetta-io-go/hk"
	"github.com/LatticeX-Foundation/rosetta-io-go/iocfg"
	"github.com/LatticeX-Foundation/rosetta-io-go/metrics"
)

const idleSweepInterval = 30 * time.Second

var (
	// ErrConnectExhausted is returned by Connect when dialing fails: after
	// cfg.ConnectRetries attempts, or after the first non-retriable error.
	ErrConnectExhausted = errors.New("ioclient: exhausted connect retries")
	ackByte              = byte('1')
)

// Dialer is the client-side connection pool: one per io runtime, not a
// package singleton, so tests stay hermetic.
type Dialer struct {
	currentNodeID string
	cfg           iocfg.Config
	errCb         conn.ErrorCallback
	metricsReg    *metrics.Registry

	mu        sync.Mutex
	pool      map[string]*conn.Connection
	idleSince map[string]time.Time

	sf     singleflight.Group
	hkName string
}

func New(currentNodeID string, cfg iocfg.Config, errCb conn.ErrorCallback, reg *metrics.Registry) *Dialer {
	d := &Dialer{
		currentNodeID: currentNodeID,
		cfg:           cfg,
		errCb:         errCb,
		metricsReg:    reg,
		pool:          make(map[string]*conn.Connection),
		idleSince:     make(map[string]time.Time),
	}
	d.hkName = fmt.Sprintf("ioclient-idle-teardown:%s:%p", currentNodeID, d)
	hk.Reg(d.hkName, d.sweepIdle, idleSweepInterval)
	return d
}

// sweepIdle is the hk-registered idle-teardown pass: any pooled
// Connection with no attached tasks is given one sweep to settle, then
// evicted once it has carried a zero refcount with no undelivered bytes
// for at least cfg.IdleTeardown. A Connection still in active use by a
// task is exempt, no matter how long it has been pooled.
func (d *Dialer) sweepIdle() time.Duration {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pool))
	for key, c := range d.pool {
		if c.RefCount() > 0 {
			delete(d.idleSince, key)
			continue
		}
		keys = append(keys, key)
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.evictIfIdle(key)
	}
	return idleSweepInterval
}

// evictIfIdle closes and removes the pooled Connection at key once it has
// been continuously idle (zero refcount, zero undelivered bytes) for at
// least cfg.IdleTeardown; a Connection touched again before then has its
// idle clock reset.
func (d *Dialer) evictIfIdle(key string) {
	d.mu.Lock()
	c, ok := d.pool[key]
	if !ok || c.RefCount() > 0 {
		delete(d.idleSince, key)
		d.mu.Unlock()
		return
	}
	since, seen := d.idleSince[key]
	if !seen {
		d.idleSince[key] = time.Now()
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if time.Since(since) < d.cfg.IdleTeardown || c.UnrecvSize() != 0 {
		return
	}
	d.mu.Lock()
	if d.pool[key] == c {
		delete(d.pool, key)
		delete(d.idleSince, key)
	}
	d.mu.Unlock()
	_ = c.Close()
}

// Connect returns the pooled Connection for peerID at host:port, dialing
// and handshaking if no reusable entry exists yet, then attaches taskID
// to it via the Start rendezvous.
func (d *Dialer) Connect(peerID, host string, port int, taskID string) (*conn.Connection, error) {
	key := fmt.Sprintf("%s:%d", host, port)

	if c := d.lookupReusable(key); c != nil {
		if err := c.Start(taskID); err != nil {
			return nil, err
		}
		return c, nil
	}

	v, err, _ := d.sf.Do(key, func() (interface{}, error) {
		if c := d.lookupReusable(key); c != nil {
			return c, nil
		}
		c, dialErr := d.dialWithRetry(peerID, host, port)
		if dialErr != nil {
			if d.metricsReg != nil {
				d.metricsReg.DialFailures.WithLabelValues(peerID).Inc()
			}
			return nil, dialErr
		}
		d.mu.Lock()
		d.pool[key] = c
		d.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	c := v.(*conn.Connection)
	if startErr := c.Start(taskID); startErr != nil {
		return nil, startErr
	}
	return c, nil
}

func (d *Dialer) lookupReusable(key string) *conn.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.pool[key]
	if ok && c.IsReusable() {
		return c
	}
	return nil
}

// dialWithRetry retries a dial/handshake failure only while
// cos.IsRetriableConnErr says the underlying syscall error is the kind that
// can plausibly succeed on a later attempt (refused, reset, broken pipe,
// timeout); anything else (e.g. a malformed address) fails fast instead of
// burning through the whole backoff schedule.
func (d *Dialer) dialWithRetry(peerID, host string, port int) (*conn.Connection, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	timeout := time.Duration(d.cfg.ConnectTimeoutMs) * time.Millisecond
	backoff := time.Duration(d.cfg.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < d.cfg.ConnectRetries; attempt++ {
		netConn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			lastErr = err
			nlog.Warningf("ioclient: dial %s attempt %d/%d failed: %v", addr, attempt+1, d.cfg.ConnectRetries, err)
			if !cos.IsRetriableConnErr(err) {
				break
			}
			time.Sleep(backoff)
			continue
		}
		c, err := d.handshake(netConn, peerID)
		if err != nil {
			lastErr = err
			_ = netConn.Close()
			if !cos.IsRetriableConnErr(err) {
				break
			}
			time.Sleep(backoff)
			continue
		}
		return c, nil
	}
	return nil, errors.Wrapf(ErrConnectExhausted, "dialing %s: %v", addr, lastErr)
}

// handshake performs the 3-step identification: read the server's
// 1-byte ACK, write u64 idLen (including itself) + the local node id,
// then optionally layer TLS.
func (d *Dialer) handshake(netConn net.Conn, peerID string) (*conn.Connection, error) {
	ack := make([]byte, 1)
	if _, err := readFull(netConn, ack); err != nil {
		return nil, errors.Wrap(err, "ioclient: reading ACK")
	}
	if ack[0] != ackByte {
		return nil, errors.Errorf("ioclient: unexpected ACK byte %x", ack[0])
	}

	idBytes := []byte(d.currentNodeID)
	idLen := uint64(8 + len(idBytes))
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint64(hdr, idLen)
	if _, err := netConn.Write(append(hdr, idBytes...)); err != nil {
		return nil, errors.Wrap(err, "ioclient: writing client id")
	}

	if d.cfg.TLS != nil {
		tlsConn := tls.Client(netConn, d.cfg.TLS)
		if err := tlsConn.Handshake(); err != nil {
			return nil, errors.Wrap(err, "ioclient: TLS handshake")
		}
		netConn = tlsConn
	}

	return conn.New(netConn, d.currentNodeID, peerID, false, d.cfg, d.errCb, d.metricsReg), nil
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Release detaches taskID from the peer's Connection and, if that leaves
// it idle, hands it straight to evictIfIdle rather than waiting for the
// next sweep — an explicit eviction path for a caller that wants
// synchronous teardown instead of the periodic idle sweep. Ordinary
// per-task teardown (package iochannel's Destroy) calls Connection.Stop
// directly and leaves the Connection pooled for reuse by the next task.
func (d *Dialer) Release(host string, port int, taskID string) error {
	key := fmt.Sprintf("%s:%d", host, port)
	d.mu.Lock()
	c, ok := d.pool[key]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.Stop(taskID)
	if c.RefCount() == 0 {
		d.mu.Lock()
		d.idleSince[key] = time.Time{}
		d.mu.Unlock()
		d.evictIfIdle(key)
	}
	return err
}

// CloseAll tears down every pooled Connection; used at runtime shutdown.
func (d *Dialer) CloseAll() {
	hk.Unreg(d.hkName)
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, c := range d.pool {
		_ = c.Close()
		delete(d.pool, key)
	}
}
