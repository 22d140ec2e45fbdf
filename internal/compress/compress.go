// Package compress implements the engine's Compression Layer (C7):
// transparent, per-block compression for regular-file payloads. A block is
// compressed only when it clears both the configured size threshold and a
// real-benefit check; otherwise it is stored raw and marked as such in its
// header. The on-disk block header layout is fixed by spec.md §6.
package compress

import (
	"encoding/binary"

	"github.com/klauspost/compress/s2"

	"github.com/razorfs/razorfs/internal/errs"
)

// Magic identifies a block header. Fixed by spec.md §6 to resolve the
// inconsistent compression magic/layout observed across prototypes.
var Magic = [4]byte{'R', 'Z', 'C', 'P'}

// HeaderBytes is the fixed header size: 4-byte magic, 4-byte original
// length, 4-byte stored length, all little-endian.
const HeaderBytes = 12

// EncodeBlock compresses data with s2 (klauspost/compress's Snappy-compatible,
// faster codec) when both conditions hold: len(data) >= threshold, and the
// compressed output is strictly smaller than the original minus the header
// it would otherwise carry -- not just smaller than the original, since a
// candidate that only wins by less than HeaderBytes nets out larger (or no
// better) once the header itself is counted. Otherwise the block is stored
// raw -- detectable on decode because storedLen equals originalLen.
func EncodeBlock(data []byte, threshold int) []byte {
	origLen := len(data)

	var payload []byte
	if origLen >= threshold {
		candidate := s2.Encode(nil, data)
		if len(candidate) < origLen-HeaderBytes {
			payload = candidate
		}
	}
	if payload == nil {
		payload = data
	}

	out := make([]byte, HeaderBytes+len(payload))
	copy(out[0:4], Magic[:])
	binary.LittleEndian.PutUint32(out[4:8], uint32(origLen))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(payload)))
	copy(out[HeaderBytes:], payload)
	return out
}

// DecodeBlock reverses EncodeBlock, transparently decompressing when the
// header indicates the payload was actually compressed.
func DecodeBlock(encoded []byte) ([]byte, error) {
	if len(encoded) < HeaderBytes {
		return nil, errs.Wrap(errs.ErrCorrupt, "compress: block shorter than header")
	}
	if encoded[0] != Magic[0] || encoded[1] != Magic[1] || encoded[2] != Magic[2] || encoded[3] != Magic[3] {
		return nil, errs.Wrap(errs.ErrCorrupt, "compress: bad block magic")
	}

	origLen := binary.LittleEndian.Uint32(encoded[4:8])
	storedLen := binary.LittleEndian.Uint32(encoded[8:12])

	payload := encoded[HeaderBytes:]
	if uint32(len(payload)) != storedLen {
		return nil, errs.Wrap(errs.ErrCorrupt, "compress: stored length mismatch")
	}

	if storedLen == origLen {
		out := make([]byte, origLen)
		copy(out, payload)
		return out, nil
	}

	out, err := s2.Decode(nil, payload)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrCorrupt, err, "compress: s2 decode failed")
	}
	if uint32(len(out)) != origLen {
		return nil, errs.Wrap(errs.ErrCorrupt, "compress: decompressed length mismatch")
	}
	return out, nil
}

// WasCompressed reports whether an already-encoded block was actually
// compressed (as opposed to stored raw because it failed the threshold or
// benefit check). Useful for metrics and for the compression-ratio test
// scenario in spec.md §8.
func WasCompressed(encoded []byte) (bool, error) {
	if len(encoded) < HeaderBytes {
		return false, errs.Wrap(errs.ErrCorrupt, "compress: block shorter than header")
	}
	origLen := binary.LittleEndian.Uint32(encoded[4:8])
	storedLen := binary.LittleEndian.Uint32(encoded[8:12])
	return storedLen != origLen, nil
}
