// Package iochannel is the public façade: Create, Destroy, Send, Recv,
// Flush, and the cached node-id accessors. It multiplexes calls onto the
// conn.Connection reached via overlay resolution, wiring together
// ioclient (dial) and ioserver (accept).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package iochannel

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/cos"
	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
	"github.com/LatticeX-Foundation/rosetta-io-go/conn"
	"github.com/LatticeX-Foundation/rosetta-io-go/iocfg"
	"github.com/LatticeX-Foundation/rosetta-io-go/ioclient"
	"github.com/LatticeX-Foundation/rosetta-io-go/ioserver"
	"github.com/LatticeX-Foundation/rosetta-io-go/metrics"
	"github.com/LatticeX-Foundation/rosetta-io-go/overlay"
	"github.com/LatticeX-Foundation/rosetta-io-go/wire"
)

var (
	ErrUnknownPeer = errors.New("iochannel: peer is not part of this channel's topology")
)

// ErrorCallback is surfaced one level up from conn.ErrorCallback so a
// single application-level callback can be registered at Create time
// regardless of which peer Connection failed.
type ErrorCallback func(currentNodeID, peerNodeID string, errno int, message string)

// Channel is one logical task's view of the overlay: the set of peer
// Connections it holds a reference into, plus cached topology
// accessors.
type Channel struct {
	taskID  string
	nodeID  string
	topo    *overlay.Topology
	cfg     iocfg.Config
	errCb   ErrorCallback
	metrics *metrics.Registry

	dialer *ioclient.Dialer
	server *ioserver.Server

	mu        sync.Mutex
	peerConns map[string]*conn.Connection
}

var registry = struct {
	mu       sync.Mutex
	channels map[string]*Channel
	sf       singleflight.Group
}{channels: make(map[string]*Channel)}

// nodeRuntime is the process-wide ioclient.Dialer/ioserver.Server pair
// for one currentNodeID, shared by every Channel created for that node
// regardless of taskID — this is what makes cross-task connection reuse
// hold: a second task's Create reuses the same Dialer pool entry instead
// of building a fresh one. The runtime is scoped to one nodeID and
// lazily built on first use, not a single hidden global.
type nodeRuntime struct {
	dialer  *ioclient.Dialer
	server  *ioserver.Server
	metrics *metrics.Registry
}

var runtimes = struct {
	mu sync.Mutex
	m  map[string]*nodeRuntime
}{m: make(map[string]*nodeRuntime)}

// getRuntime returns the shared runtime for nodeID, building it on first
// call. The error callback and config of whichever Create call builds
// the runtime apply to every Connection it subsequently dials/accepts,
// across all tasks — the callback is process-wide per node.
func getRuntime(nodeID string, cfg iocfg.Config, errCb conn.ErrorCallback) *nodeRuntime {
	runtimes.mu.Lock()
	defer runtimes.mu.Unlock()
	rt, ok := runtimes.m[nodeID]
	if ok {
		return rt
	}
	reg := metrics.New()
	rt = &nodeRuntime{
		dialer:  ioclient.New(nodeID, cfg, errCb, reg),
		server:  ioserver.New(nodeID, cfg, errCb, reg),
		metrics: reg,
	}
	runtimes.m[nodeID] = rt
	return rt
}

// Create returns the Channel for taskID, building it on first call and
// returning the existing one on every subsequent call: idempotent, with
// concurrent callers for the same taskId blocking on the in-flight build
// rather than racing two builds.
func Create(taskID, nodeID string, configJSON []byte, errorCallback ErrorCallback) (*Channel, error) {
	registry.mu.Lock()
	if ch, ok := registry.channels[taskID]; ok {
		registry.mu.Unlock()
		return ch, nil
	}
	registry.mu.Unlock()

	v, err, _ := registry.sf.Do(taskID, func() (interface{}, error) {
		registry.mu.Lock()
		if ch, ok := registry.channels[taskID]; ok {
			registry.mu.Unlock()
			return ch, nil
		}
		registry.mu.Unlock()

		ch, buildErr := build(taskID, nodeID, configJSON, errorCallback)
		if buildErr != nil {
			return nil, buildErr
		}
		registry.mu.Lock()
		registry.channels[taskID] = ch
		registry.mu.Unlock()
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Channel), nil
}

func build(taskID, nodeID string, configJSON []byte, errorCallback ErrorCallback) (*Channel, error) {
	topo, err := overlay.Resolve(nodeID, configJSON)
	if err != nil {
		return nil, errors.Wrap(err, "iochannel: overlay resolution")
	}
	cfg := iocfg.Parse(configJSON)
	iocfg.Set(cfg)

	connCb := func(currentNodeID, peerNodeID string, errno int, message string) {
		if errorCallback != nil {
			errorCallback(currentNodeID, peerNodeID, errno, message)
		}
	}
	rt := getRuntime(nodeID, cfg, connCb)

	ch := &Channel{
		taskID:    taskID,
		nodeID:    nodeID,
		topo:      topo,
		cfg:       cfg,
		errCb:     errorCallback,
		metrics:   rt.metrics,
		dialer:    rt.dialer,
		server:    rt.server,
		peerConns: make(map[string]*conn.Connection),
	}

	if topo.CurrentNode.Port > 0 {
		if err := ch.server.Listen(fmt.Sprintf(":%d", topo.CurrentNode.Port)); err != nil {
			return nil, errors.Wrap(err, "iochannel: listen")
		}
		expected := make([]string, 0, len(topo.ClientInfos))
		for _, peer := range topo.ClientInfos {
			expected = append(expected, peer.ID)
		}
		ch.server.RegisterExpected(expected)
	}

	if err := ch.connectOutbound(); err != nil {
		return nil, err
	}
	if err := ch.acceptInbound(); err != nil {
		return nil, err
	}
	return ch, nil
}

// connectOutbound dials every peer in topo.ServerInfos concurrently and
// attaches taskID to each resulting Connection.
func (ch *Channel) connectOutbound() error {
	if len(ch.topo.ServerInfos) == 0 {
		return nil
	}
	var g errgroup.Group
	var mu sync.Mutex
	for _, peer := range ch.topo.ServerInfos {
		peer := peer
		g.Go(func() error {
			c, err := ch.dialer.Connect(peer.ID, peer.Host, peer.Port, ch.taskID)
			if err != nil {
				return errors.Wrapf(err, "iochannel: connecting to %s", peer.ID)
			}
			mu.Lock()
			ch.peerConns[peer.ID] = c
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// acceptInbound waits for every peer in topo.ClientInfos to dial us,
// bounded by the topology's connect timeout.
func (ch *Channel) acceptInbound() error {
	if len(ch.topo.ClientInfos) == 0 {
		return nil
	}
	ids := make([]string, 0, len(ch.topo.ClientInfos))
	for _, peer := range ch.topo.ClientInfos {
		ids = append(ids, peer.ID)
	}
	timeout := time.Duration(ch.topo.Connect.TimeoutMs) * time.Millisecond
	peers, err := ch.server.WaitForPeers(ids, timeout)
	if err != nil {
		return errors.Wrap(err, "iochannel: waiting for inbound peers")
	}
	for id, c := range peers {
		if err := c.Start(ch.taskID); err != nil {
			return errors.Wrapf(err, "iochannel: starting task on inbound peer %s", id)
		}
		ch.mu.Lock()
		ch.peerConns[id] = c
		ch.mu.Unlock()
	}
	return nil
}

func (ch *Channel) connFor(peerID string) (*conn.Connection, error) {
	ch.mu.Lock()
	c, ok := ch.peerConns[peerID]
	ch.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPeer, "peer %q", peerID)
	}
	return c, nil
}

// Send encodes messageIDHex (a hex-encoded id) and writes payload to
// peerID's Connection, returning the number of payload bytes accepted.
func (ch *Channel) Send(peerID, messageIDHex string, payload []byte, timeout time.Duration) (int, error) {
	c, err := ch.connFor(peerID)
	if err != nil {
		return 0, err
	}
	id, err := wire.HexToID(messageIDHex)
	if err != nil {
		return 0, err
	}
	return c.Send(id, payload, timeout)
}

// Recv blocks until n bytes tagged messageIDHex have arrived from
// peerID, or timeout/disconnect.
func (ch *Channel) Recv(peerID, messageIDHex string, buf []byte, n int, timeout time.Duration) (int, error) {
	c, err := ch.connFor(peerID)
	if err != nil {
		return 0, err
	}
	id, err := wire.HexToID(messageIDHex)
	if err != nil {
		return 0, err
	}
	return c.Recv(id, buf, n, timeout)
}

// Flush is a no-op for the TCP backend; meaningful only for alternate
// back-ends this module does not implement.
func (ch *Channel) Flush() {
	if ch.metrics != nil {
		ch.metrics.FlushCalls.Inc()
	}
}

// Snapshot returns peerID's Connection counters and ring sizes as a plain
// Go struct, for a test or caller that wants point-in-time introspection
// without scraping Prometheus.
func (ch *Channel) Snapshot(peerID string) (metrics.Snapshot, error) {
	c, err := ch.connFor(peerID)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (ch *Channel) GetCurrentNodeID() string { return ch.topo.CurrentNode.ID }
func (ch *Channel) GetDataNodeIDs() []string { return ch.topo.DataNodeIDs }
func (ch *Channel) GetComputationNodeIDs() map[string]int {
	return ch.topo.ComputationNodeIDs
}
func (ch *Channel) GetResultNodeIDs() []string      { return ch.topo.ResultNodeIDs }
func (ch *Channel) GetConnectedNodeIDs() []string   { return ch.topo.GetConnectedNodeIDs() }
func (ch *Channel) Metrics() *metrics.Registry       { return ch.metrics }

// Destroy removes taskID's mapping and calls Stop on every Connection it
// references. A Connection that reaches zero refcount stays pooled and
// reusable rather than being torn down per-task; actual eviction happens
// only on peer-initiated close, I/O error, ioclient's idle-teardown
// sweep, or explicit process-wide shutdown (ioclient.Dialer.CloseAll /
// ioserver.Server.Close). Every peer's Stop failure is reported, not just
// the first, via cos.Errs.
func Destroy(ch *Channel) error {
	registry.mu.Lock()
	delete(registry.channels, ch.taskID)
	registry.mu.Unlock()

	ch.mu.Lock()
	conns := make(map[string]*conn.Connection, len(ch.peerConns))
	for id, c := range ch.peerConns {
		conns[id] = c
	}
	ch.mu.Unlock()

	var errs cos.Errs
	for peerID, c := range conns {
		if err := c.Stop(ch.taskID); err != nil {
			nlog.Warningf("iochannel: stop task %s on peer %s: %v", ch.taskID, peerID, err)
			errs.Add(err)
		}
	}
	if errs.Cnt() == 0 {
		return nil
	}
	return &errs
}
