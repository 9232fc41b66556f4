// Package iocfg holds the tunables every other package reads instead of
// hardcoding: ring buffer sizes, connect retry policy, idle-teardown, and
// optional TLS. Values come from the overlay configuration document's
// sibling TUNING fields or fall back to the defaults below.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package iocfg

import (
	"crypto/tls"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Config is immutable once built by Parse/Default; callers that need to
// change it build a new one and call Set (a read-mostly-config
// pattern: readers load a pointer without locking, writers swap it).
type Config struct {
	RawRecvSize      int64
	RawSendSize      int64
	PerIDRecvSize    int64
	ConnectTimeoutMs int
	ConnectRetries   int
	RetryBackoffMs   int
	IdleTeardown     time.Duration
	Compression      bool
	TLS              *tls.Config
}

const (
	defaultRawRecvSize   = 10 << 20  // 10 MiB
	defaultRawSendSize   = 128 << 20 // 128 MiB
	defaultPerIDRecv     = 8 << 10   // 8 KiB
	defaultConnTimeoutMs = 10000
	defaultRetries       = 5
	defaultBackoffMs     = 500
	defaultIdleTeardown  = 5 * time.Minute
)

// Default returns the zero-config tunables: sane defaults for a caller
// that never sets TUNING at all.
func Default() Config {
	return Config{
		RawRecvSize:      defaultRawRecvSize,
		RawSendSize:      defaultRawSendSize,
		PerIDRecvSize:    defaultPerIDRecv,
		ConnectTimeoutMs: defaultConnTimeoutMs,
		ConnectRetries:   defaultRetries,
		RetryBackoffMs:   defaultBackoffMs,
		IdleTeardown:     defaultIdleTeardown,
	}
}

type rawTuning struct {
	RawRecvSize      int64 `json:"RAW_RECV_BYTES"`
	RawSendSize      int64 `json:"RAW_SEND_BYTES"`
	PerIDRecvSize    int64 `json:"PER_ID_RECV_BYTES"`
	ConnectTimeoutMs int   `json:"CONNECT_TIMEOUT_MS"`
	ConnectRetries   int   `json:"CONNECT_RETRIES"`
	RetryBackoffMs   int   `json:"RETRY_BACKOFF_MS"`
	IdleTeardownMs   int   `json:"IDLE_TEARDOWN_MS"`
	Compression      bool  `json:"COMPRESSION"`
}

// Parse overlays any ambient-tuning fields present in configJSON onto
// Default(); an absent or malformed TUNING object is not an error — a
// caller that never set tuning still gets workable defaults.
func Parse(configJSON []byte) Config {
	cfg := Default()
	var wrapper struct {
		Tuning *rawTuning `json:"TUNING"`
	}
	if err := jsoniter.Unmarshal(configJSON, &wrapper); err != nil || wrapper.Tuning == nil {
		return cfg
	}
	t := wrapper.Tuning
	if t.RawRecvSize > 0 {
		cfg.RawRecvSize = t.RawRecvSize
	}
	if t.RawSendSize > 0 {
		cfg.RawSendSize = t.RawSendSize
	}
	if t.PerIDRecvSize > 0 {
		cfg.PerIDRecvSize = t.PerIDRecvSize
	}
	if t.ConnectTimeoutMs > 0 {
		cfg.ConnectTimeoutMs = t.ConnectTimeoutMs
	}
	if t.ConnectRetries >= 1 {
		cfg.ConnectRetries = t.ConnectRetries
	}
	if t.RetryBackoffMs > 0 {
		cfg.RetryBackoffMs = t.RetryBackoffMs
	}
	if t.IdleTeardownMs > 0 {
		cfg.IdleTeardown = time.Duration(t.IdleTeardownMs) * time.Millisecond
	}
	cfg.Compression = t.Compression
	return cfg
}
