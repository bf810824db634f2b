// Package patch implements the patch descriptor layout and the host-side
// construction of incremental program patches.
//
// The descriptor is a fixed-layout record at a reserved address in brain
// memory. The upload tool writes it; the boot substrate reads it exactly
// once, at the next boot, to decide whether to snapshot the pristine image
// into the staging buffer. The substrate never writes the descriptor.
package patch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/torquelabs/brainstem/internal/types"
)

var (
	// ErrShortDescriptor is returned when a buffer cannot hold the header.
	ErrShortDescriptor = errors.New("descriptor shorter than header")

	// ErrNoPatch is returned when the magic word does not match.
	ErrNoPatch = errors.New("no pending patch")

	// ErrBadVersion is returned for an unsupported patch format version.
	ErrBadVersion = errors.New("unsupported patch format version")
)

// Descriptor is the decoded fixed-layout patch header.
type Descriptor struct {
	// Magic is the raw word at offset 0. A pending patch carries
	// types.PatchMagic; anything else means no patch.
	Magic uint32

	// Version is the patch format version at offset 4.
	Version uint32

	// PayloadLen is the patch payload length at offset 8. The payload
	// follows the header in the patch region.
	PayloadLen uint32

	// BaseLen is the length of the unpatched base image at offset 12.
	// The staging protocol copies exactly this many bytes.
	BaseLen uint32
}

// Pending reports whether the descriptor marks a patch awaiting staging.
func (d Descriptor) Pending() bool {
	return d.Magic == types.PatchMagic
}

// Decode parses a descriptor header from raw memory bytes.
// It decodes whatever is there; Pending decides whether it means anything.
func Decode(raw []byte) (Descriptor, error) {
	if len(raw) < types.PatchHeaderSize {
		return Descriptor{}, ErrShortDescriptor
	}
	return Descriptor{
		Magic:      binary.LittleEndian.Uint32(raw[types.PatchOffMagic:]),
		Version:    binary.LittleEndian.Uint32(raw[types.PatchOffVersion:]),
		PayloadLen: binary.LittleEndian.Uint32(raw[types.PatchOffPayloadLen:]),
		BaseLen:    binary.LittleEndian.Uint32(raw[types.PatchOffBaseLen:]),
	}, nil
}

// Encode serializes the header into a PatchHeaderSize byte buffer.
func (d Descriptor) Encode() []byte {
	buf := make([]byte, types.PatchHeaderSize)
	binary.LittleEndian.PutUint32(buf[types.PatchOffMagic:], d.Magic)
	binary.LittleEndian.PutUint32(buf[types.PatchOffVersion:], d.Version)
	binary.LittleEndian.PutUint32(buf[types.PatchOffPayloadLen:], d.PayloadLen)
	binary.LittleEndian.PutUint32(buf[types.PatchOffBaseLen:], d.BaseLen)
	return buf
}

// Validate checks the fields a host-side consumer relies on. The boot
// substrate deliberately performs no such validation; see the staging
// protocol for the trust model.
func (d Descriptor) Validate() error {
	if !d.Pending() {
		return ErrNoPatch
	}
	if d.Version != types.PatchVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, d.Version)
	}
	return nil
}
