package types

import (
	"errors"
	"testing"
)

// TestRegionContains tests range checks at the region edges.
func TestRegionContains(t *testing.T) {
	r := Region{Name: "r", Base: 0x1000, Size: 0x100}

	tests := []struct {
		name string
		addr Address
		size uint32
		want bool
	}{
		{"whole region", 0x1000, 0x100, true},
		{"first byte", 0x1000, 1, true},
		{"last byte", 0x10FF, 1, true},
		{"past end", 0x10FF, 2, false},
		{"below base", 0x0FFF, 1, false},
		{"at end, empty", 0x1100, 0, true},
		{"overflow size", 0x1000, 0xFFFFFFFF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Contains(tt.addr, tt.size); got != tt.want {
				t.Errorf("Contains(%s, %d) = %v, want %v", tt.addr, tt.size, got, tt.want)
			}
		})
	}

	if got := r.End(); got != 0x1100 {
		t.Errorf("End() = %s, want 0x00001100", got)
	}
}

// TestLayoutDisjoint tests that the shipped layout has no overlaps and
// stays inside user memory.
func TestLayoutDisjoint(t *testing.T) {
	layout := DefaultLayout()
	for i, a := range layout {
		if a.End() > MemoryTop {
			t.Errorf("%s ends at %s, past memory top %s", a.Name, a.End(), MemoryTop)
		}
		for _, b := range layout[i+1:] {
			if a.Base < b.End() && b.Base < a.End() {
				t.Errorf("regions %s and %s overlap", a.Name, b.Name)
			}
		}
	}

	if StackTop != StackBase+Address(StackSize) {
		t.Errorf("StackTop = %s, want %s", StackTop, StackBase+Address(StackSize))
	}
	if StagingSize < ImageMaxSize {
		t.Errorf("staging capacity %d below max program size %d", StagingSize, ImageMaxSize)
	}
}

// TestFingerprint tests digesting and rendering.
func TestFingerprint(t *testing.T) {
	a := FingerprintOf([]byte("image a"))
	b := FingerprintOf([]byte("image b"))
	if a == b {
		t.Error("distinct images share a fingerprint")
	}
	if a.IsZero() {
		t.Error("IsZero() = true for a real fingerprint")
	}

	back, err := FingerprintFromBase58(a.String())
	if err != nil {
		t.Fatalf("FingerprintFromBase58() failed: %v", err)
	}
	if back != a {
		t.Error("base58 round trip changed the fingerprint")
	}

	if got := len(a.Short()); got > 12 {
		t.Errorf("Short() length = %d, want <= 12", got)
	}

	if _, err := FingerprintFromBytes(make([]byte, 31)); !errors.Is(err, ErrInvalidFingerprint) {
		t.Errorf("FingerprintFromBytes(31) = %v, want ErrInvalidFingerprint", err)
	}
}

// TestSlots tests slot validation.
func TestSlots(t *testing.T) {
	for n := 1; n <= SlotCount; n++ {
		if _, err := SlotFromInt(n); err != nil {
			t.Errorf("SlotFromInt(%d) = %v, want nil", n, err)
		}
	}
	for _, n := range []int{0, -1, 9, 100} {
		if _, err := SlotFromInt(n); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("SlotFromInt(%d) = %v, want ErrInvalidSlot", n, err)
		}
	}
}

// TestAddressAligned tests word alignment.
func TestAddressAligned(t *testing.T) {
	if !Address(0x1000).Aligned() {
		t.Error("Aligned(0x1000) = false")
	}
	if Address(0x1002).Aligned() {
		t.Error("Aligned(0x1002) = true")
	}
}
