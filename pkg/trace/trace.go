// Package trace walks saved stack-frame linkage to recover return addresses.
//
// The target ABI links frames through the frame pointer: [fp] holds the
// caller's frame pointer, [fp+4] the return address. After a fatal error the
// stack may be arbitrary garbage, so the walk is defensive: every candidate
// frame is checked against a validity predicate and the walk stops at a
// fixed depth no matter what it finds. A corrupted chain yields a short or
// empty trace, never a hang.
package trace

import (
	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/mem"
)

// DefaultMaxFrames bounds the walk depth.
const DefaultMaxFrames = 64

// Context is the faulting execution context the walk starts from.
type Context struct {
	// FP is the frame pointer at the point of failure.
	FP types.Address

	// PC is the program counter at the point of failure. When valid it
	// becomes frame zero of the trace.
	PC types.Address
}

// Config controls a walk.
type Config struct {
	// Stack is the region frame pointers must stay inside.
	Stack types.Region

	// Text is the range return addresses must point into.
	Text types.Region

	// MaxFrames caps the number of recovered frames.
	MaxFrames int
}

// DefaultConfig returns walk bounds for the standard brain layout.
func DefaultConfig() Config {
	return Config{
		Stack:     types.Region{Name: types.RegionStack, Base: types.StackBase, Size: types.StackSize},
		Text:      types.Region{Name: types.RegionImage, Base: types.ImageBase, Size: types.ImageMaxSize},
		MaxFrames: DefaultMaxFrames,
	}
}

// validFP reports whether fp can hold a saved frame record. The stack grows
// downward, so a well-formed chain moves strictly toward the stack top.
func (c Config) validFP(fp, prev types.Address) bool {
	if !fp.Aligned() {
		return false
	}
	// Room for [fp] and [fp+4].
	if !c.Stack.Contains(fp, 2*types.WordSize) {
		return false
	}
	return fp > prev
}

// validReturn reports whether addr plausibly points at program text.
func (c Config) validReturn(addr types.Address) bool {
	return addr.Aligned() && c.Text.Contains(addr, types.WordSize)
}

// Walk recovers the call chain from ctx, innermost frame first. The result
// is always finite: it ends at the first invalid frame, the first invalid
// return address, or MaxFrames, whichever comes sooner. Walk itself never
// fails; on a hopeless context it returns an empty slice.
func Walk(as *mem.AddressSpace, ctx Context, cfg Config) []types.Address {
	max := cfg.MaxFrames
	if max <= 0 {
		max = DefaultMaxFrames
	}

	var frames []types.Address
	if cfg.validReturn(ctx.PC) {
		frames = append(frames, ctx.PC)
	}

	fp := ctx.FP
	var prev types.Address
	for len(frames) < max {
		if !cfg.validFP(fp, prev) {
			break
		}
		next, err := as.Read32(fp)
		if err != nil {
			break
		}
		ret, err := as.Read32(fp + types.WordSize)
		if err != nil {
			break
		}
		if !cfg.validReturn(types.Address(ret)) {
			break
		}
		frames = append(frames, types.Address(ret))
		prev = fp
		fp = types.Address(next)
	}
	return frames
}
