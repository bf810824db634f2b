// Package types: the link-time memory layout of the brain.
//
// These constants are the fixed memory-layout contract shared with the
// external build/upload tooling. They are configuration, not logic: the
// substrate reads them as opaque values and never derives them.
package types

// Link-time layout constants.
//
// The application processor maps user memory at [0x03800000, 0x08000000).
// The linker places the program image at the bottom of that window; the
// reserved control regions sit near the top, below the memory limit.
const (
	// ImageBase is the load address of the user program image.
	ImageBase Address = 0x0380_0000

	// ImageMaxSize is the maximum size of a user program image.
	ImageMaxSize uint32 = 0x0040_0000 // 4 MiB

	// StackBase is the bottom of the reserved execution stack region.
	StackBase Address = 0x0770_0000

	// StackSize is the size of the execution stack region.
	StackSize uint32 = 0x0010_0000 // 1 MiB

	// StackTop is loaded into the stack pointer at boot. The stack grows
	// downward from here toward StackBase.
	StackTop Address = StackBase + Address(StackSize)

	// PatchBase is the fixed location of the patch descriptor.
	PatchBase Address = 0x07A0_0000

	// PatchMaxSize bounds the descriptor plus its payload.
	PatchMaxSize uint32 = 0x0020_0000 // 2 MiB

	// StagingBase is the destination of the pristine-image copy.
	StagingBase Address = 0x07C0_0000

	// StagingSize is the staging buffer capacity. It matches ImageMaxSize:
	// the buffer must hold any image the linker can produce.
	StagingSize uint32 = ImageMaxSize

	// MemoryTop is the first address past user memory.
	MemoryTop Address = 0x0800_0000
)

// Patch descriptor field offsets and values. The external upload tool writes
// the descriptor; this substrate only ever reads it, once, at boot.
const (
	// PatchMagic marks a pending patch. Stored little-endian as a full
	// 32-bit word at PatchBase+PatchOffMagic.
	PatchMagic uint32 = 0x0000_B1DF

	// PatchOffMagic is the offset of the magic word.
	PatchOffMagic = 0

	// PatchOffVersion is the offset of the patch format version word.
	PatchOffVersion = 4

	// PatchOffPayloadLen is the offset of the patch payload length word.
	PatchOffPayloadLen = 8

	// PatchOffBaseLen is the offset of the unpatched base image length word.
	PatchOffBaseLen = 12

	// PatchHeaderSize is the size of the fixed descriptor header.
	PatchHeaderSize = 16

	// PatchVersion is the current patch format version.
	PatchVersion uint32 = 1
)

// Region names used across the substrate.
const (
	RegionImage   = "image"
	RegionStack   = "stack"
	RegionPatch   = "patch"
	RegionStaging = "staging"
)

// DefaultLayout returns the brain memory regions in ascending base order.
func DefaultLayout() []Region {
	return []Region{
		{Name: RegionImage, Base: ImageBase, Size: ImageMaxSize},
		{Name: RegionStack, Base: StackBase, Size: StackSize},
		{Name: RegionPatch, Base: PatchBase, Size: PatchMaxSize},
		{Name: RegionStaging, Base: StagingBase, Size: StagingSize},
	}
}
