package boot

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zeebo/blake3"
)

// wantStub is an independent copy of the shipped staging routine. The
// reconstruction tool pattern-matches these exact bytes in release builds;
// any change to stub.go must fail here first and be coordinated with the
// tool before this copy is updated.
var wantStub = []uint32{
	0xE3000000, 0xE34007A0, 0xE5901000, 0xE30B21DF,
	0xE1510002, 0x1A00000A, 0xE590100C, 0xE3002000,
	0xE3402380, 0xE3003000, 0xE34037C0, 0xE3510000,
	0x0A000003, 0xE4D24001, 0xE4C34001, 0xE2411001,
	0xEAFFFFF9, 0xE12FFF1E,
}

// TestStubDrift pins the staging routine bytes and their digest.
func TestStubDrift(t *testing.T) {
	want := make([]byte, 4*len(wantStub))
	for i, w := range wantStub {
		binary.LittleEndian.PutUint32(want[4*i:], w)
	}

	got := StubBytes()
	if !bytes.Equal(got, want) {
		t.Fatalf("staging stub drifted from the shipped sequence\n got %x\nwant %x", got, want)
	}

	if got, want := StubChecksum(), blake3.Sum256(want); got != want {
		t.Errorf("StubChecksum() = %x, want %x", got, want)
	}
}

// TestStubLayoutConstants tests that the stub encodes the same link-time
// addresses the Go boot path uses. movw/movt pairs carry the low and high
// halfwords; ARM A1 encoding splits the 16-bit immediate as imm4:imm12.
func TestStubLayoutConstants(t *testing.T) {
	imm16 := func(word uint32) uint32 {
		return (word>>16&0xF)<<12 | word&0xFFF
	}

	tests := []struct {
		name    string
		lo, hi  int // instruction indexes of the movw/movt pair
		address uint32
	}{
		{"descriptor base", 0, 1, 0x07A00000},
		{"image base", 7, 8, 0x03800000},
		{"staging base", 9, 10, 0x07C00000},
	}

	for _, tt := range tests {
		got := imm16(wantStub[tt.hi])<<16 | imm16(wantStub[tt.lo])
		if got != tt.address {
			t.Errorf("%s in stub = 0x%08x, want 0x%08x", tt.name, got, tt.address)
		}
	}

	if magic := imm16(wantStub[3]); magic != 0xB1DF {
		t.Errorf("magic in stub = 0x%04x, want 0xb1df", magic)
	}
}
