// Package wire is the pure framing codec for one on-wire record. Encode
// and Decode touch no socket or ring buffer, separating "how much of this
// record have I sent/received" bookkeeping from the socket loop driving
// it, so they can be exercised directly by property tests.
//
// Record layout (little-endian):
//
//	offset 0          : u64 totalLen  // length of this record, including these 8 bytes
//	offset 8          : u8  idLen     // = 1 + len(id)
//	offset 9          : id bytes      // idLen-1 bytes
//	offset 9+len(id)  : payload bytes
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

const (
	lenTotalLen = 8
	lenIDLen    = 1
	// HeaderLen is the fixed-size prefix every record begins with: enough
	// to learn totalLen and idLen without looking at the id or payload.
	HeaderLen = lenTotalLen + lenIDLen
	// MinRecordLen is the smallest legal totalLen: header + a 1-byte id,
	// zero-length payload.
	MinRecordLen = HeaderLen + 1
	// MaxIDLen bounds idLen-1 to what fits in a byte minus the 1 implied
	// by idLen itself: idLen counts its own byte, so the raw id can be at
	// most 254 bytes.
	MaxIDLen = 254
)

var (
	ErrRecordTooShort = errors.New("wire: totalLen below minimum record size")
	ErrIDTooLong      = errors.New("wire: id exceeds 254 bytes")
	ErrBadIDLen       = errors.New("wire: idLen < 1")
	ErrOddHexID       = errors.New("wire: hex id must have even length")
)

// Encode builds one self-delimited record for (id, payload). id is the
// raw (already-binary) message id; use HexToID first if the caller passes
// a hex-encoded id (the default public-API mode).
func Encode(id, payload []byte) ([]byte, error) {
	if len(id) == 0 {
		return nil, ErrBadIDLen
	}
	if len(id) > MaxIDLen {
		return nil, ErrIDTooLong
	}
	idLen := 1 + len(id)
	total := lenTotalLen + lenIDLen + len(id) + len(payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(total))
	buf[8] = byte(idLen)
	copy(buf[9:9+len(id)], id)
	copy(buf[9+len(id):], payload)
	return buf, nil
}

// Decode splits one complete record (exactly totalLen bytes, as already
// verified by the caller via PeekHeader) into (id, payload). It never
// partially consumes: either it returns a complete (id, payload) pair or
// an error; there is no partial-record return value.
func Decode(record []byte) (id, payload []byte, err error) {
	if len(record) < MinRecordLen {
		return nil, nil, ErrRecordTooShort
	}
	total := binary.LittleEndian.Uint64(record[0:8])
	if total != uint64(len(record)) {
		return nil, nil, errors.Errorf("wire: totalLen %d does not match record length %d", total, len(record))
	}
	idLen := int(record[8])
	if idLen < 1 {
		return nil, nil, ErrBadIDLen
	}
	rawIDLen := idLen - 1
	if HeaderLen+rawIDLen > len(record) {
		return nil, nil, errors.New("wire: idLen overruns record")
	}
	id = append([]byte(nil), record[HeaderLen:HeaderLen+rawIDLen]...)
	payload = append([]byte(nil), record[HeaderLen+rawIDLen:]...)
	return id, payload, nil
}

// PeekHeader reads totalLen and idLen out of the first HeaderLen bytes of
// a buffer without validating the rest of the record; used by the reader
// pump (package conn) to decide whether a full record has been buffered
// yet.
func PeekHeader(header []byte) (totalLen uint64, idLen uint8, err error) {
	if len(header) < HeaderLen {
		return 0, 0, errors.New("wire: short header")
	}
	totalLen = binary.LittleEndian.Uint64(header[0:8])
	idLen = header[8]
	if totalLen < MinRecordLen {
		return 0, 0, ErrRecordTooShort
	}
	if idLen < 1 {
		return 0, 0, ErrBadIDLen
	}
	return totalLen, idLen, nil
}

// HexToID converts a hex-encoded message id (pairs of hex digits) to its
// binary form, halving its length on the wire. It is a bijection on
// even-length lowercase hex strings; uppercase digits are accepted, but
// IDToHex maps the result back to lowercase.
func HexToID(hexID string) ([]byte, error) {
	if len(hexID)%2 != 0 {
		return nil, ErrOddHexID
	}
	id, err := hex.DecodeString(hexID)
	if err != nil {
		return nil, errors.Wrap(err, "wire: invalid hex id")
	}
	return id, nil
}

// IDToHex is the inverse of HexToID.
func IDToHex(id []byte) string { return hex.EncodeToString(id) }

// Checksum is an optional, out-of-band integrity aid over a payload (not
// part of the wire record itself, which has no checksum field). Callers
// that want end-to-end integrity
// checking beyond TCP's own can compute this on Send and verify it after
// Recv out of band.
func Checksum(payload []byte) uint64 { return xxhash.Checksum64(payload) }

// TextID is an alternate, literal-text id mode: rather than gating it
// behind a Go
// build tag (which would make both modes unreachable in the same test
// binary), it is exposed as an explicit alternate constructor so a caller
// can opt in per-channel. TextID is the identity conversion: the ASCII
// bytes of id are used directly as the on-wire id, unhalved.
func TextID(id string) []byte { return []byte(id) }
