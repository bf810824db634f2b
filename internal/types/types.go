// Package types defines the core memory and program-image types shared by
// the brainstem substrate.
//
// The substrate models a fixed-function application processor: every region
// of brain memory has a name, a base address, and a size fixed at link time.
// Program images are identified by a blake3 fingerprint rendered in base58.
package types

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants for core types.
const (
	FingerprintSize = 32

	// WordSize is the native word size of the target processor (ARMv7-A).
	WordSize = 4
)

var (
	// ErrInvalidFingerprint is returned when a fingerprint has invalid length.
	ErrInvalidFingerprint = errors.New("invalid fingerprint: must be 32 bytes")

	// ErrInvalidSlot is returned for program slot numbers outside 1..8.
	ErrInvalidSlot = errors.New("invalid slot: must be in range 1..8")
)

// Address is a physical address in brain memory.
type Address uint32

// String formats the address in the conventional 0x%08x form.
func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// Aligned reports whether the address is aligned to the native word size.
func (a Address) Aligned() bool {
	return a%WordSize == 0
}

// Region describes one reserved, fixed-address range of brain memory.
// Regions are supplied once by the link-time layout and never move.
type Region struct {
	// Name identifies the region in diagnostics ("image", "stack", ...).
	Name string

	// Base is the first address of the region.
	Base Address

	// Size is the region length in bytes.
	Size uint32
}

// End returns the first address past the region.
func (r Region) End() Address {
	return r.Base + Address(r.Size)
}

// Contains reports whether [addr, addr+size) lies entirely inside the region.
func (r Region) Contains(addr Address, size uint32) bool {
	if addr < r.Base {
		return false
	}
	off := uint32(addr - r.Base)
	if off > r.Size {
		return false
	}
	return size <= r.Size-off
}

// Offset returns addr relative to the region base.
// The caller must have checked Contains first.
func (r Region) Offset(addr Address) uint32 {
	return uint32(addr - r.Base)
}

func (r Region) String() string {
	return fmt.Sprintf("%s [%s..%s)", r.Name, r.Base, r.End())
}

// Fingerprint is the blake3-256 digest of a program image.
type Fingerprint [FingerprintSize]byte

// FingerprintOf computes the fingerprint of an image.
func FingerprintOf(image []byte) Fingerprint {
	return blake3.Sum256(image)
}

// FingerprintFromBytes creates a Fingerprint from a byte slice.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(b) != FingerprintSize {
		return f, ErrInvalidFingerprint
	}
	copy(f[:], b)
	return f, nil
}

// FingerprintFromBase58 parses a base58-encoded fingerprint.
func FingerprintFromBase58(s string) (Fingerprint, error) {
	var f Fingerprint
	data, err := base58.Decode(s)
	if err != nil {
		return f, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != FingerprintSize {
		return f, ErrInvalidFingerprint
	}
	copy(f[:], data)
	return f, nil
}

// String returns the base58-encoded representation.
func (f Fingerprint) String() string {
	return base58.Encode(f[:])
}

// Short returns a truncated base58 form that fits on one screen line.
func (f Fingerprint) Short() string {
	s := base58.Encode(f[:])
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// IsZero returns true if the fingerprint is all zeros.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Bytes returns the fingerprint as a byte slice.
func (f Fingerprint) Bytes() []byte {
	return f[:]
}

// Slot is a program slot number on the brain (1..8).
type Slot uint8

// SlotCount is the number of program slots the brain exposes.
const SlotCount = 8

// SlotFromInt validates and converts a slot number.
func SlotFromInt(n int) (Slot, error) {
	if n < 1 || n > SlotCount {
		return 0, ErrInvalidSlot
	}
	return Slot(n), nil
}

func (s Slot) String() string {
	return fmt.Sprintf("slot %d", uint8(s))
}
