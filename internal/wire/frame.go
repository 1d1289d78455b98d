// Package wire implements the length-prefixed, checksummed frame codec
// used on every peer-to-peer and scheduler socket (spec §4.1 "Wire
// framing", §6 "Wire protocol").
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/minio/highwayhash"
)

// highwayKey is a fixed, non-secret key: the checksum exists to catch
// truncated or corrupted frames, not to authenticate peers (authentication
// is an explicit non-goal, spec.md §1).
var highwayKey = make([]byte, highwayhash.Size)

const checksumSize = 8

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupted length prefix turning into an unbounded allocation.
const MaxFrameSize = 256 * 1024 * 1024

// WriteFrame writes payload as one frame: a big-endian uint32 length,
// payload, and an 8-byte HighwayHash checksum of payload. A zero-length
// payload is the reserved end-of-stream marker (§4.1) and is written with
// no checksum trailer.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return binary.Write(w, binary.BigEndian, uint32(0))
	}
	if uint64(len(payload)) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	sum := highwayhash.Sum64(payload, highwayKey)
	var sumBytes [checksumSize]byte
	binary.BigEndian.PutUint64(sumBytes[:], sum)
	_, err := w.Write(sumBytes[:])
	return err
}

// ErrEndOfStream is returned by ReadFrame when it reads the zero-length
// end-of-stream marker.
var ErrEndOfStream = fmt.Errorf("wire: end of stream")

// ErrChecksumMismatch is returned by ReadFrame when a frame's trailing
// checksum does not match its payload.
var ErrChecksumMismatch = fmt.Errorf("wire: frame checksum mismatch")

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrEndOfStream
	}
	if uint64(n) > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var sumBuf [checksumSize]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return nil, err
	}
	want := binary.BigEndian.Uint64(sumBuf[:])
	got := highwayhash.Sum64(payload, highwayKey)
	if want != got {
		return nil, ErrChecksumMismatch
	}
	return payload, nil
}
