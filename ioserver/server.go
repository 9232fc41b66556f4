// Package ioserver implements the listening side of the transport: accept
// + handshake, a process-wide pool keyed by client-id, and a
// "wait until all expected peers have connected" rendezvous.
//
// Rather than hand-roll an epoll loop with a "whose turn is it to drive
// epoll_wait" condition variable, this package leans on the Go runtime's
// own netpoller — one Accept loop goroutine plus one per-Connection
// reader-pump goroutine (package conn) *is* the shared reactor. There is
// no separate epollfd, no turn-taking: every accepted socket is
// immediately and independently serviced by its own goroutine.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ioserver

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
	"github.com/LatticeX-Foundation/rosetta-io-go/conn"
	"github.com/LatticeX-Foundation/rosetta-io-go/iocfg"
	"github.com/LatticeX-Foundation/rosetta-io-go/metrics"
)

var ErrWaitTimeout = errors.New("ioserver: timed out waiting for expected peers")

const ackByte = byte('1')

// Server is the listening socket plus the process-wide pool keyed by
// client-id. It is created and owned explicitly by the caller (package
// iochannel) rather than held as package-level statics, so tests stay
// hermetic.
type Server struct {
	currentNodeID string
	cfg           iocfg.Config
	errCb         conn.ErrorCallback
	metricsReg    *metrics.Registry

	ln net.Listener

	mu       sync.Mutex
	pool     map[string]*conn.Connection
	expected map[string]bool
	notifyCh chan struct{}
}

func New(currentNodeID string, cfg iocfg.Config, errCb conn.ErrorCallback, reg *metrics.Registry) *Server {
	return &Server{
		currentNodeID: currentNodeID,
		cfg:           cfg,
		errCb:         errCb,
		metricsReg:    reg,
		pool:          make(map[string]*conn.Connection),
		expected:      make(map[string]bool),
		notifyCh:      make(chan struct{}),
	}
}

// Listen binds the listening socket once and starts the accept loop;
// subsequent calls on an already-listening Server are no-ops — the first
// caller creates the listener, and later callers join it instead of
// creating a new one.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "ioserver: listen")
	}
	s.ln = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// RegisterExpected adds clientIDs to the set accept() will admit. The set
// is shared by every task on this Server; while it is empty the Server is
// permissive — it accepts any client-id — since the zero-configuration common case (one task,
// implicit peer set from the overlay) has nothing to register against.
func (s *Server) RegisterExpected(clientIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range clientIDs {
		s.expected[id] = true
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		netConn, err := ln.Accept()
		if err != nil {
			return
		}
		go s.handleAccept(netConn)
	}
}

// handleAccept performs the server half of the identification exchange:
// write the ACK byte, read the client's idLen-prefixed node id, validate
// it, then publish a Connection into the pool.
func (s *Server) handleAccept(netConn net.Conn) {
	if _, err := netConn.Write([]byte{ackByte}); err != nil {
		netConn.Close()
		return
	}
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(netConn, hdr); err != nil {
		netConn.Close()
		return
	}
	idLen := binary.LittleEndian.Uint64(hdr)
	if idLen < 8 {
		netConn.Close()
		return
	}
	idBytes := make([]byte, idLen-8)
	if _, err := io.ReadFull(netConn, idBytes); err != nil {
		netConn.Close()
		return
	}
	clientID := string(idBytes)

	if !s.admits(clientID) {
		nlog.Warningf("ioserver: rejecting unexpected client id %q", clientID)
		netConn.Close()
		return
	}

	c := conn.New(netConn, s.currentNodeID, clientID, true, s.cfg, s.errCb, s.metricsReg)
	s.publish(clientID, c)
}

func (s *Server) admits(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.expected) == 0 {
		return true
	}
	return s.expected[clientID]
}

func (s *Server) publish(clientID string, c *conn.Connection) {
	s.mu.Lock()
	s.pool[clientID] = c
	ch := s.notifyCh
	s.notifyCh = make(chan struct{})
	s.mu.Unlock()
	close(ch)
}

// Get returns the pooled Connection for clientID, if any.
func (s *Server) Get(clientID string) (*conn.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pool[clientID]
	return c, ok
}

// WaitForPeers blocks until every id in clientIDs has a pooled
// Connection or timeout elapses, using the same closed-and-replaced
// notification channel idiom as ringbuf.CycleBuffer instead of a timed
// polling loop.
func (s *Server) WaitForPeers(clientIDs []string, timeout time.Duration) (map[string]*conn.Connection, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		result := make(map[string]*conn.Connection, len(clientIDs))
		complete := true
		for _, id := range clientIDs {
			if c, ok := s.pool[id]; ok {
				result[id] = c
			} else {
				complete = false
			}
		}
		ch := s.notifyCh
		s.mu.Unlock()

		if complete {
			return result, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrWaitTimeout
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return nil, ErrWaitTimeout
		}
	}
}

// Close tears down the listener and every pooled Connection.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	pool := s.pool
	s.pool = make(map[string]*conn.Connection)
	s.mu.Unlock()

	for _, c := range pool {
		_ = c.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
