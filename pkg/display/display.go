// Package display models the brain's built-in screen.
//
// The screen is a 480x272 surface with a fixed-height header band reserved
// by the firmware. The substrate draws with a small set of primitives:
// erase, rectangle fill, fixed-size text, and region scroll. Rendering is
// either immediate or double-buffered behind an explicit Render call.
package display

import (
	"errors"
	"fmt"
	"sync"
)

// Screen dimensions in pixels.
const (
	Width  = 480
	Height = 272

	// HeaderHeight is the firmware status band at the top of the screen.
	// User drawing happens below it.
	HeaderHeight = 32
)

var (
	// ErrNotAttached is returned by a device that is not reachable.
	ErrNotAttached = errors.New("display device not attached")

	// ErrOutOfBounds is returned for drawing outside the screen.
	ErrOutOfBounds = errors.New("drawing outside screen bounds")
)

// Color is a 24-bit RGB color.
type Color uint32

// Colors used by the substrate.
const (
	Black Color = 0x000000
	White Color = 0xFFFFFF
	Red   Color = 0xC02020
)

// Point is a screen coordinate.
type Point struct {
	X, Y int
}

// Rect is an inclusive screen rectangle.
type Rect struct {
	Min, Max Point
}

// TextSize selects one of the fixed firmware fonts.
type TextSize int

const (
	TextSmall TextSize = iota
	TextMedium
	TextLarge
)

// LineHeight returns the pixel height of one text line at this size.
func (s TextSize) LineHeight() int {
	switch s {
	case TextSmall:
		return 14
	case TextLarge:
		return 32
	default:
		return 20
	}
}

// RenderMode controls when drawing reaches the panel.
type RenderMode int

const (
	// Immediate pushes every primitive straight to the panel.
	Immediate RenderMode = iota

	// DoubleBuffered holds drawing until Render is called.
	DoubleBuffered
)

// Device is the screen surface the substrate draws on. A device can become
// unreachable at any call; callers degrade rather than fault.
type Device interface {
	// Erase clears the drawable area to a color.
	Erase(c Color) error

	// FillRect fills a rectangle.
	FillRect(r Rect, c Color) error

	// DrawText draws one line of text with its top-left at p.
	DrawText(p Point, size TextSize, c Color, text string) error

	// Render flushes buffered drawing to the panel.
	Render() error
}

// Null is the absent display: every operation reports ErrNotAttached.
// Builds without a panel use it so the substrate never touches hardware.
type Null struct{}

func (Null) Erase(Color) error { return ErrNotAttached }

func (Null) FillRect(Rect, Color) error { return ErrNotAttached }

func (Null) DrawText(Point, TextSize, Color, string) error { return ErrNotAttached }

func (Null) Render() error { return ErrNotAttached }

// drawOp records one text draw for inspection.
type drawOp struct {
	at   Point
	size TextSize
	col  Color
	text string
}

// Screen is the in-memory screen model. It tracks fills and text draws and
// honors the render mode so tests can assert on exactly what reached the
// panel. Safe for concurrent use.
type Screen struct {
	mu sync.Mutex

	mode     RenderMode
	pending  []drawOp
	visible  []drawOp
	fills    []Rect
	bg       Color
	rendered int
}

// NewScreen creates an attached screen in immediate mode, erased to black.
func NewScreen() *Screen {
	return &Screen{bg: Black}
}

// SetRenderMode switches between immediate and double-buffered drawing.
// Switching to immediate flushes anything pending.
func (s *Screen) SetRenderMode(mode RenderMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	if mode == Immediate {
		s.flushLocked()
	}
}

func (s *Screen) flushLocked() {
	s.visible = append(s.visible, s.pending...)
	s.pending = nil
}

// Erase clears the drawable area.
func (s *Screen) Erase(c Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bg = c
	s.pending = nil
	s.visible = nil
	s.fills = nil
	return nil
}

// FillRect fills a rectangle.
func (s *Screen) FillRect(r Rect, c Color) error {
	if err := checkRect(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, r)
	return nil
}

// Fills returns the rectangles filled since the last erase.
func (s *Screen) Fills() []Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rect(nil), s.fills...)
}

// DrawText draws one line of text.
func (s *Screen) DrawText(p Point, size TextSize, c Color, text string) error {
	if p.X < 0 || p.Y < 0 || p.X >= Width || p.Y >= Height {
		return fmt.Errorf("%w: text at (%d,%d)", ErrOutOfBounds, p.X, p.Y)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op := drawOp{at: p, size: size, col: c, text: text}
	if s.mode == DoubleBuffered {
		s.pending = append(s.pending, op)
	} else {
		s.visible = append(s.visible, op)
	}
	return nil
}

// Scroll shifts the contents of a region vertically by dy pixels. Text whose
// anchor leaves the region is discarded, matching the firmware behavior of
// scrolling rows out of a window.
func (s *Screen) Scroll(r Rect, dy int) error {
	if err := checkRect(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	shift := func(ops []drawOp) []drawOp {
		out := ops[:0]
		for _, op := range ops {
			if op.at.X >= r.Min.X && op.at.X <= r.Max.X &&
				op.at.Y >= r.Min.Y && op.at.Y <= r.Max.Y {
				op.at.Y += dy
				if op.at.Y < r.Min.Y || op.at.Y > r.Max.Y {
					continue
				}
			}
			out = append(out, op)
		}
		return out
	}
	s.visible = shift(s.visible)
	s.pending = shift(s.pending)
	return nil
}

// Render flushes buffered drawing to the panel.
func (s *Screen) Render() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	s.rendered++
	return nil
}

// Lines returns the text currently visible on the panel, in draw order.
func (s *Screen) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.visible))
	for _, op := range s.visible {
		out = append(out, op.text)
	}
	return out
}

// Background returns the current erase color.
func (s *Screen) Background() Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bg
}

// RenderCount returns how many times Render flushed to the panel.
func (s *Screen) RenderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

func checkRect(r Rect) error {
	if r.Min.X < 0 || r.Min.Y < 0 || r.Max.X >= Width || r.Max.Y >= Height ||
		r.Min.X > r.Max.X || r.Min.Y > r.Max.Y {
		return fmt.Errorf("%w: rect (%d,%d)-(%d,%d)", ErrOutOfBounds,
			r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
	}
	return nil
}
