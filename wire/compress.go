package wire

import "github.com/klauspost/compress/s2"

// CompressPayload and DecompressPayload are an optional, symmetric
// transform applied to a frame's payload before Encode / after Decode
// when a channel's configuration enables compression (TUNING.COMPRESSION).
// Both peers read the same overlay configuration document, so whether a
// connection compresses is agreed out of band rather than carried as an
// in-frame flag — the record layout is fixed and has no spare bit for one.
func CompressPayload(payload []byte) []byte {
	return s2.Encode(nil, payload)
}

func DecompressPayload(compressed []byte) ([]byte, error) {
	return s2.Decode(nil, compressed)
}
