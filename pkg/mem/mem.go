// Package mem implements the fixed-address memory model of the brain.
//
// An AddressSpace maps the link-time regions (image, stack, patch, staging)
// onto backing buffers and provides the raw access primitives the substrate
// is built on: translation, typed little-endian loads and stores, and the
// block-copy primitive used by the patch staging protocol.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/torquelabs/brainstem/internal/types"
)

var (
	// ErrInvalidMemoryAccess is returned for accesses outside any region
	// or straddling a region boundary.
	ErrInvalidMemoryAccess = errors.New("invalid memory access")

	// ErrUnknownRegion is returned when looking up a region name that is
	// not part of the layout.
	ErrUnknownRegion = errors.New("unknown memory region")

	// ErrDuplicateRegion is returned when a layout names a region twice.
	ErrDuplicateRegion = errors.New("duplicate memory region")

	// ErrRegionOverlap is returned when two layout regions overlap.
	ErrRegionOverlap = errors.New("memory regions overlap")
)

// mapping is one region plus its backing buffer.
type mapping struct {
	region types.Region
	data   []byte
}

// AddressSpace is the brain's user memory: a fixed set of disjoint regions.
// It is not safe for concurrent use; the boot path is single-threaded by
// contract and later users serialize through the runtime.
type AddressSpace struct {
	mappings []mapping
}

// NewAddressSpace allocates backing storage for a layout.
// Regions must be disjoint and uniquely named.
func NewAddressSpace(layout []types.Region) (*AddressSpace, error) {
	as := &AddressSpace{}
	seen := make(map[string]bool, len(layout))
	for _, r := range layout {
		if seen[r.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRegion, r.Name)
		}
		seen[r.Name] = true
		for _, m := range as.mappings {
			if r.Base < m.region.End() && m.region.Base < r.End() {
				return nil, fmt.Errorf("%w: %s and %s", ErrRegionOverlap, r.Name, m.region.Name)
			}
		}
		as.mappings = append(as.mappings, mapping{
			region: r,
			data:   make([]byte, r.Size),
		})
	}
	return as, nil
}

// Region returns the layout entry with the given name.
func (as *AddressSpace) Region(name string) (types.Region, error) {
	for _, m := range as.mappings {
		if m.region.Name == name {
			return m.region, nil
		}
	}
	return types.Region{}, fmt.Errorf("%w: %s", ErrUnknownRegion, name)
}

// RegionBytes returns the full backing buffer of a named region.
// The slice aliases the address space; writes through it are visible to
// subsequent reads.
func (as *AddressSpace) RegionBytes(name string) ([]byte, error) {
	for _, m := range as.mappings {
		if m.region.Name == name {
			return m.data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, name)
}

// ResetRegion zero-fills a named region. Used by the stack initializer:
// whatever the host left there is permanently gone afterward.
func (as *AddressSpace) ResetRegion(name string) error {
	data, err := as.RegionBytes(name)
	if err != nil {
		return err
	}
	for i := range data {
		data[i] = 0
	}
	return nil
}

// Translate converts [addr, addr+size) to a slice of backing memory.
// The range must lie entirely within one region.
func (as *AddressSpace) Translate(addr types.Address, size uint32) ([]byte, error) {
	for _, m := range as.mappings {
		if m.region.Contains(addr, size) {
			off := m.region.Offset(addr)
			return m.data[off : off+size], nil
		}
	}
	return nil, fmt.Errorf("%w: %s (size %d)", ErrInvalidMemoryAccess, addr, size)
}

// Read copies bytes out of memory into p.
func (as *AddressSpace) Read(addr types.Address, p []byte) error {
	src, err := as.Translate(addr, uint32(len(p)))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

// Read32 reads a 32-bit little-endian word.
func (as *AddressSpace) Read32(addr types.Address) (uint32, error) {
	src, err := as.Translate(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(src), nil
}

// Write copies p into memory at addr.
func (as *AddressSpace) Write(addr types.Address, p []byte) error {
	dst, err := as.Translate(addr, uint32(len(p)))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Write32 writes a 32-bit little-endian word.
func (as *AddressSpace) Write32(addr types.Address, x uint32) error {
	dst, err := as.Translate(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst, x)
	return nil
}

// Memcpy is the raw block-copy host primitive: n bytes from src to dst.
// Source and destination may live in different regions; each side must fit
// its region. n == 0 is a no-op and never faults.
func (as *AddressSpace) Memcpy(dst, src types.Address, n uint32) error {
	if n == 0 {
		return nil
	}
	s, err := as.Translate(src, n)
	if err != nil {
		return fmt.Errorf("memcpy source: %w", err)
	}
	d, err := as.Translate(dst, n)
	if err != nil {
		return fmt.Errorf("memcpy destination: %w", err)
	}
	copy(d, s)
	return nil
}
