package boot

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// The staging routine as it ships on the target processor.
//
// The external reconstruction tool locates the staging sequence in the
// shipped binary by pattern-matching these exact bytes, so the routine is
// hand-assembled ARMv7-A, kept in this one unit, and never regenerated by a
// compiler. Any edit here changes the shipped pattern and must be
// coordinated with the tool.
//
// Register use: r0 descriptor base, r1 magic then byte count, r2 compare
// value then source cursor, r3 destination cursor, r4 byte shuttle.
var stagingStub = [...]uint32{
	0xE3000000, // movw r0, #0x0000        ; r0 = 0x07A00000 (descriptor)
	0xE34007A0, // movt r0, #0x07A0
	0xE5901000, // ldr  r1, [r0]           ; magic word
	0xE30B21DF, // movw r2, #0xB1DF
	0xE1510002, // cmp  r1, r2
	0x1A00000A, // bne  out                ; no patch pending: strict no-op
	0xE590100C, // ldr  r1, [r0, #12]      ; base image length
	0xE3002000, // movw r2, #0x0000        ; r2 = 0x03800000 (image)
	0xE3402380, // movt r2, #0x0380
	0xE3003000, // movw r3, #0x0000        ; r3 = 0x07C00000 (staging)
	0xE34037C0, // movt r3, #0x07C0
	0xE3510000, // loop: cmp r1, #0
	0x0A000003, // beq  out
	0xE4D24001, // ldrb r4, [r2], #1
	0xE4C34001, // strb r4, [r3], #1
	0xE2411001, // sub  r1, r1, #1
	0xEAFFFFF9, // b    loop
	0xE12FFF1E, // out: bx lr
}

// StubBytes returns the staging routine exactly as laid out in the shipped
// binary (little-endian instruction words).
func StubBytes() []byte {
	buf := make([]byte, 4*len(stagingStub))
	for i, w := range stagingStub {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

// StubChecksum returns the blake3 digest of the staging routine bytes.
// Tooling records this digest next to the pattern it matches; the stub test
// pins it against an independent copy to catch accidental drift.
func StubChecksum() [32]byte {
	return blake3.Sum256(StubBytes())
}
