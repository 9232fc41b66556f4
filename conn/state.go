// Package conn implements the per-connection duplex messaging engine:
// one socket, a raw receive ring, a raw send ring, per-id demux rings, a
// reader pump, a writer pump, and reference-counted sharing across
// tasks.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package conn

import "github.com/pkg/errors"

// State is the Connection lifecycle: Invalid -> Handshaking ->
// Handshaked -> Connected -> Closing -> Closed, with Failed reachable
// from any pre-Closed state on fatal I/O error.
type State int32

const (
	StateInvalid State = iota
	StateHandshaking
	StateHandshaked
	StateConnected
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateHandshaking:
		return "handshaking"
	case StateHandshaked:
		return "handshaked"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// These are exposed as Go error sentinels rather than raw negative ints;
// package iochannel returns them to its callers unchanged and does not
// map them to numeric return codes. The Errno constants below carry the
// numeric codes; fail() passes ErrnoGeneric to the ErrorCallback.
var (
	ErrTimeout     = errors.New("conn: timed out")
	ErrUnconnected = errors.New("conn: peer not connected")
	ErrGeneric     = errors.New("conn: generic I/O error")

	// ErrRendezvousTimeout: a stop() that never observes the peer's
	// matching start() marker within ConnectTimeoutMs returns this
	// distinct error kind instead of hanging or silently proceeding.
	ErrRendezvousTimeout = errors.New("conn: rendezvous timeout waiting for peer task start")
)

const (
	ErrnoGeneric     = -1
	ErrnoTimeout     = -3
	ErrnoUnconnected = -4
)

// ErrorCallback is invoked from I/O paths on non-recoverable peer
// errors.
type ErrorCallback func(currentNodeID, peerNodeID string, errno int, message string)
