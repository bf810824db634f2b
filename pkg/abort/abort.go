// Package abort is the terminal failure path of a brain program.
//
// Every unrecoverable error in user or library code funnels here exactly
// once, is formatted, optionally traced and rendered to the brain screen,
// and ends in process termination. Nothing here returns to the caller and
// nothing here may raise a second fatal error: diagnostic failures degrade
// to a plainer report, and a reentrant panic skips diagnostics entirely and
// terminates through the rawest facility available.
//
// Recoverable conditions elsewhere in the system use ordinary error values;
// this path is reserved for errors with no caller left to handle them.
package abort

import (
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/display"
	"github.com/torquelabs/brainstem/pkg/mem"
	"github.com/torquelabs/brainstem/pkg/trace"
)

// Exit codes delivered to the host termination primitive.
const (
	// ExitPanic is the code for an ordinary handled panic.
	ExitPanic = 101

	// ExitReentrant is the code for a panic raised while one was already
	// being handled.
	ExitReentrant = 102
)

// Terminator is the host process-termination primitive. Exit never returns.
type Terminator interface {
	Exit(code int)
}

// Options are the build-time panic-handling switches.
type Options struct {
	// Backtraces captures a bounded return-address walk into the record.
	Backtraces bool

	// DisplayPanics renders the record to the brain screen. When false
	// the display device is never touched, even to probe for it.
	DisplayPanics bool
}

// DefaultOptions enables both diagnostics, matching release builds.
func DefaultOptions() Options {
	return Options{Backtraces: true, DisplayPanics: true}
}

// Config wires the handler to its collaborators.
type Config struct {
	Options

	// Device is the brain screen, or nil in builds without one.
	// Only consulted when DisplayPanics is set.
	Device display.Device

	// Log is the lower-level diagnostic channel. Every panic is reported
	// here regardless of display configuration. Nil uses the standard
	// logger.
	Log *log.Logger

	// Trace bounds the backtrace walk.
	Trace trace.Config
}

// DefaultConfig returns a handler configuration for the standard layout
// with no display attached.
func DefaultConfig() Config {
	return Config{
		Options: DefaultOptions(),
		Trace:   trace.DefaultConfig(),
	}
}

// Record is the per-failure diagnostic data. It lives only for the duration
// of handling and is never persisted.
type Record struct {
	// Message is the human-readable failure description.
	Message string

	// File and Line locate the panic site in source.
	File string
	Line int

	// Frames is the captured backtrace, innermost first. Empty when
	// backtraces are disabled or the walk found nothing.
	Frames []types.Address
}

// Location formats the source location.
func (r *Record) Location() string {
	if r.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", r.File, r.Line)
}

// Handler terminates the process on fatal errors.
type Handler struct {
	cfg  Config
	as   *mem.AddressSpace
	term Terminator

	// handling is the process-wide reentrancy guard: set on first entry,
	// never cleared. The process is gone before a reset could matter.
	handling atomic.Bool
}

// NewHandler creates the terminal failure handler.
func NewHandler(as *mem.AddressSpace, term Terminator, cfg Config) *Handler {
	return &Handler{cfg: cfg, as: as, term: term}
}

// Handling reports whether a panic is currently being processed.
func (h *Handler) Handling() bool {
	return h.handling.Load()
}

// Panic is the entry point for fatal errors. ctx carries the faulting
// execution context for the backtrace walk; a zero Context yields a
// message-and-location-only record. Panic never returns.
func (h *Handler) Panic(ctx trace.Context, format string, args ...interface{}) {
	// Reentrant fatal error: formatting or display itself trapped, or a
	// second task hit a fatal error mid-handling. Skip every diagnostic
	// step and terminate through the primitive facility immediately;
	// anything more risks recursing right back here.
	if !h.handling.CompareAndSwap(false, true) {
		h.term.Exit(ExitReentrant)
		return
	}

	rec := &Record{Message: fmt.Sprintf(format, args...)}
	if _, file, line, ok := runtime.Caller(1); ok {
		rec.File = trimSourcePath(file)
		rec.Line = line
	}

	if h.cfg.Backtraces {
		h.capture(rec, ctx)
	}

	// The record always reaches the low-level channel; the screen is an
	// additional surface, not a replacement.
	h.logRecord(rec)

	if h.cfg.DisplayPanics {
		h.render(rec)
	}

	h.term.Exit(ExitPanic)
}

// capture fills in the backtrace. The walk is bounded by construction, and
// a trap inside it is swallowed: a panic report without frames beats no
// report at all.
func (h *Handler) capture(rec *Record, ctx trace.Context) {
	defer func() {
		if r := recover(); r != nil {
			rec.Frames = nil
		}
	}()
	rec.Frames = trace.Walk(h.as, ctx, h.cfg.Trace)
}

// logRecord writes the record to the diagnostic channel.
func (h *Handler) logRecord(rec *Record) {
	defer func() {
		recover() // a dead log sink must not kill the report path
	}()

	l := h.cfg.Log
	if l == nil {
		l = log.Default()
	}
	l.Printf("panic: %s", rec.Message)
	l.Printf("  at %s", rec.Location())
	for i, f := range rec.Frames {
		l.Printf("  %2d: %s", i, f)
	}
}

// render draws the record on the brain screen. Every failure in here
// degrades silently: the record already reached the log channel, and the
// process is about to terminate either way.
func (h *Handler) render(rec *Record) {
	defer func() {
		recover()
	}()

	dev := h.cfg.Device
	if dev == nil {
		return
	}
	if err := dev.Erase(display.Red); err != nil {
		// Device unreachable. Not an error: the log channel already
		// has the report.
		return
	}

	size := display.TextSmall
	y := display.HeaderHeight
	line := func(text string) {
		if y+size.LineHeight() > display.Height {
			return
		}
		_ = dev.DrawText(display.Point{X: 4, Y: y}, size, display.White, text)
		y += size.LineHeight()
	}

	_ = dev.FillRect(display.Rect{
		Min: display.Point{X: 0, Y: 0},
		Max: display.Point{X: display.Width - 1, Y: display.HeaderHeight - 1},
	}, display.Black)
	_ = dev.DrawText(display.Point{X: 4, Y: 8}, display.TextMedium, display.White,
		"program panicked")

	for _, l := range wrap(rec.Message, maxLineChars) {
		line(l)
	}
	line("at " + rec.Location())
	if len(rec.Frames) > 0 {
		line("backtrace:")
		for i, f := range rec.Frames {
			line(fmt.Sprintf(" %2d: %s", i, f))
		}
	}

	_ = dev.Render()
}

// maxLineChars is how many small-font characters fit on one screen line.
const maxLineChars = 58

// wrap splits a message into screen-width lines on rune boundaries.
func wrap(s string, width int) []string {
	var out []string
	for _, part := range strings.Split(s, "\n") {
		runes := []rune(part)
		for len(runes) > width {
			out = append(out, string(runes[:width]))
			runes = runes[width:]
		}
		out = append(out, string(runes))
	}
	return out
}

// trimSourcePath shortens an absolute build path to its last two elements.
func trimSourcePath(file string) string {
	parts := strings.Split(file, "/")
	if len(parts) <= 2 {
		return file
	}
	return strings.Join(parts[len(parts)-2:], "/")
}
