// Package boot implements the pre-runtime substrate of a brain program:
// stack initialization, the patch staging protocol, and the one-way handoff
// into the high-level runtime.
//
// Everything here runs before the runtime exists. There is no error-return
// channel to a caller and no recovery below this layer: staging failures are
// bounded and logged, and anything fatal after handoff belongs to the abort
// handler, not to this package.
package boot

import (
	"log"
	"sync/atomic"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/mem"
)

// Environment is the host-firmware surface the boot path calls into.
type Environment interface {
	// Exit is the process-termination primitive. It never returns.
	Exit(code int)
}

// Config holds the link-time addresses the boot path operates on.
type Config struct {
	// DescriptorBase is the fixed location of the patch descriptor.
	DescriptorBase types.Address

	// ImageBase is the load address of the program image.
	ImageBase types.Address

	// StagingBase is the destination of the pristine-image copy.
	StagingBase types.Address

	// StackRegion names the reserved execution stack region.
	StackRegion string

	// StackTop is loaded into the stack pointer by InitStack.
	StackTop types.Address

	// GuardStagingBounds makes StagePatch skip the copy when the
	// descriptor length does not fit the staging buffer, instead of
	// faulting. The original hardware sequence carries no such check;
	// the Go model cannot reproduce its undefined behavior, so an
	// out-of-range length is made explicit either way.
	GuardStagingBounds bool

	// Log receives boot diagnostics. Nil disables logging.
	Log *log.Logger
}

// DefaultConfig returns the boot configuration for the standard brain layout.
func DefaultConfig() Config {
	return Config{
		DescriptorBase:     types.PatchBase,
		ImageBase:          types.ImageBase,
		StagingBase:        types.StagingBase,
		StackRegion:        types.RegionStack,
		StackTop:           types.StackTop,
		GuardStagingBounds: true,
	}
}

// StageResult reports what the patch staging protocol did.
type StageResult struct {
	// Staged is true when the pristine image was copied.
	Staged bool

	// BaseLen is the number of bytes copied when Staged is true.
	BaseLen uint32

	// Magic is the raw word found at the descriptor base.
	Magic uint32
}

// Boot drives the pre-runtime sequence for one power cycle.
type Boot struct {
	as  *mem.AddressSpace
	cfg Config

	// sp models the stack pointer register.
	sp types.Address

	handedOff atomic.Bool
}

// New creates the boot driver over an address space.
func New(as *mem.AddressSpace, cfg Config) *Boot {
	return &Boot{as: as, cfg: cfg}
}

// SP returns the current stack pointer value. Zero before InitStack.
func (b *Boot) SP() types.Address {
	return b.sp
}

// InitStack establishes the execution stack. It loads the link-time stack
// top into the stack pointer and wipes the region: whatever the host left
// on its own stack is permanently inaccessible from here on. This step has
// no failure path; a bad constant is a build defect, not a runtime error.
func (b *Boot) InitStack() {
	if err := b.as.ResetRegion(b.cfg.StackRegion); err != nil {
		// Only reachable with a layout that omits the stack region,
		// which is a build defect by the same rule as a bad constant.
		panic(err)
	}
	b.sp = b.cfg.StackTop
}

// StagePatch runs the patch staging protocol.
//
// It reads the word at the descriptor base. If it is not the patch magic the
// protocol is a strict no-op: the staging buffer is not touched. If it is,
// the base-image length word at descriptor+12 is read and exactly that many
// bytes are copied from the image base to the staging base, in one pass,
// before anything else executes. The high-level runtime will overwrite its
// own writable data as soon as it starts, so this is the only moment the
// byte-for-byte original image exists to be snapshotted.
//
// Trust model: the descriptor comes from the upload tool and is not
// validated here. On the target processor an out-of-range length is an
// unchecked out-of-bounds copy. The Go model surfaces it instead: with
// GuardStagingBounds the copy is skipped and logged, without it the fault
// from the address space is returned.
func (b *Boot) StagePatch() (StageResult, error) {
	magic, err := b.as.Read32(b.cfg.DescriptorBase)
	if err != nil {
		return StageResult{}, err
	}
	res := StageResult{Magic: magic}
	if magic != types.PatchMagic {
		return res, nil
	}

	baseLen, err := b.as.Read32(b.cfg.DescriptorBase + types.PatchOffBaseLen)
	if err != nil {
		return res, err
	}
	res.BaseLen = baseLen

	if b.cfg.GuardStagingBounds && baseLen > types.StagingSize {
		b.logf("staging: descriptor length %d exceeds staging capacity %d, copy skipped",
			baseLen, types.StagingSize)
		return res, nil
	}

	if err := b.as.Memcpy(b.cfg.StagingBase, b.cfg.ImageBase, baseLen); err != nil {
		return res, err
	}
	res.Staged = true
	b.logf("staging: copied %d image bytes", baseLen)
	return res, nil
}

// Handoff transfers control to the runtime entry point. It is called exactly
// once per boot, after the staging decision is final, and never returns: when
// the entry function comes back the process is terminated through the host.
func (b *Boot) Handoff(env Environment, entry func()) {
	if !b.handedOff.CompareAndSwap(false, true) {
		panic("boot: handoff invoked twice in one power cycle")
	}
	entry()
	env.Exit(0)
}

// Run executes the full pre-runtime sequence: stack, staging, handoff.
// Staging faults do not stop the boot; the program must still start even if
// the snapshot could not be taken.
func (b *Boot) Run(env Environment, entry func()) {
	b.InitStack()
	if _, err := b.StagePatch(); err != nil {
		b.logf("staging: %v", err)
	}
	b.Handoff(env, entry)
}

func (b *Boot) logf(format string, args ...interface{}) {
	if b.cfg.Log != nil {
		b.cfg.Log.Printf(format, args...)
	}
}
