package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrShortPayload is returned when a payload is truncated.
	ErrShortPayload = errors.New("patch payload truncated")

	// ErrPayloadTooLarge is returned when a payload exceeds the region cap.
	ErrPayloadTooLarge = errors.New("patch payload exceeds patch region")
)

// Payload format: a 4-byte little-endian new-image length, followed by a
// zstd frame containing the new image XORed against the base image (the
// shorter of the two zero-extended). Program rebuilds mostly shift and
// tweak bytes in place, so the XOR stream is long runs of zeros and
// compresses far below the full image size.

// BuildPayload computes the incremental payload that turns base into next.
func BuildPayload(base, next []byte) ([]byte, error) {
	n := len(base)
	if len(next) > n {
		n = len(next)
	}
	xored := make([]byte, n)
	for i := range xored {
		var b, x byte
		if i < len(base) {
			b = base[i]
		}
		if i < len(next) {
			x = next[i]
		}
		xored[i] = b ^ x
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()

	payload := make([]byte, 4, 4+n/16)
	binary.LittleEndian.PutUint32(payload, uint32(len(next)))
	return enc.EncodeAll(xored, payload), nil
}

// ApplyPayload reconstructs the new image from the base image and a payload
// produced by BuildPayload. This is the host-side mirror of what the
// external reconstruction step does on the brain with the staged snapshot.
func ApplyPayload(base, payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, ErrShortPayload
	}
	newLen := binary.LittleEndian.Uint32(payload)

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	xored, err := dec.DecodeAll(payload[4:], nil)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPayload
		}
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	if uint32(len(xored)) < newLen {
		return nil, ErrShortPayload
	}

	next := make([]byte, newLen)
	for i := range next {
		var b byte
		if i < len(base) {
			b = base[i]
		}
		next[i] = b ^ xored[i]
	}
	return next, nil
}
