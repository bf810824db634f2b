package display

import (
	"errors"
	"testing"
)

// TestImmediateMode tests that draws land without an explicit render.
func TestImmediateMode(t *testing.T) {
	s := NewScreen()

	if err := s.DrawText(Point{0, HeaderHeight}, TextMedium, White, "hello"); err != nil {
		t.Fatalf("DrawText() failed: %v", err)
	}
	lines := s.Lines()
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("Lines() = %v, want [hello]", lines)
	}
}

// TestDoubleBuffered tests that draws wait for Render.
func TestDoubleBuffered(t *testing.T) {
	s := NewScreen()
	s.SetRenderMode(DoubleBuffered)

	if err := s.DrawText(Point{0, 40}, TextSmall, White, "pending"); err != nil {
		t.Fatalf("DrawText() failed: %v", err)
	}
	if got := s.Lines(); len(got) != 0 {
		t.Errorf("Lines() before Render = %v, want empty", got)
	}

	if err := s.Render(); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	if got := s.Lines(); len(got) != 1 {
		t.Errorf("Lines() after Render = %v, want 1 line", got)
	}
	if s.RenderCount() != 1 {
		t.Errorf("RenderCount() = %d, want 1", s.RenderCount())
	}
}

// TestEraseResets tests that erase drops text, fills and background.
func TestEraseResets(t *testing.T) {
	s := NewScreen()
	if err := s.FillRect(Rect{Point{0, 0}, Point{479, 31}}, Red); err != nil {
		t.Fatalf("FillRect() failed: %v", err)
	}
	if err := s.DrawText(Point{0, 0}, TextLarge, White, "x"); err != nil {
		t.Fatalf("DrawText() failed: %v", err)
	}

	if err := s.Erase(Red); err != nil {
		t.Fatalf("Erase() failed: %v", err)
	}
	if got := s.Lines(); len(got) != 0 {
		t.Errorf("Lines() after Erase = %v, want empty", got)
	}
	if got := s.Fills(); len(got) != 0 {
		t.Errorf("Fills() after Erase = %v, want empty", got)
	}
	if s.Background() != Red {
		t.Errorf("Background() = %06x, want %06x", s.Background(), Red)
	}
}

// TestScroll tests vertical scrolling of a screen region.
func TestScroll(t *testing.T) {
	s := NewScreen()
	region := Rect{Point{0, HeaderHeight}, Point{Width - 1, Height - 1}}

	for i, text := range []string{"one", "two", "three"} {
		p := Point{0, HeaderHeight + i*TextSmall.LineHeight()}
		if err := s.DrawText(p, TextSmall, White, text); err != nil {
			t.Fatalf("DrawText() failed: %v", err)
		}
	}
	// Text above the region stays put.
	if err := s.DrawText(Point{0, 0}, TextSmall, White, "header"); err != nil {
		t.Fatalf("DrawText() failed: %v", err)
	}

	if err := s.Scroll(region, -TextSmall.LineHeight()); err != nil {
		t.Fatalf("Scroll() failed: %v", err)
	}

	lines := s.Lines()
	want := []string{"two", "three", "header"}
	if len(lines) != len(want) {
		t.Fatalf("Lines() after scroll = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Lines()[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

// TestBounds tests rejection of out-of-screen drawing.
func TestBounds(t *testing.T) {
	s := NewScreen()

	if err := s.DrawText(Point{Width, 0}, TextSmall, White, "x"); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("DrawText(off-screen) = %v, want ErrOutOfBounds", err)
	}
	if err := s.FillRect(Rect{Point{10, 10}, Point{5, 20}}, Red); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("FillRect(inverted) = %v, want ErrOutOfBounds", err)
	}
}

// TestNullDevice tests that the absent display reports, never faults.
func TestNullDevice(t *testing.T) {
	var d Device = Null{}

	if err := d.Erase(Black); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Null.Erase() = %v, want ErrNotAttached", err)
	}
	if err := d.DrawText(Point{}, TextSmall, White, "x"); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Null.DrawText() = %v, want ErrNotAttached", err)
	}
	if err := d.Render(); !errors.Is(err, ErrNotAttached) {
		t.Errorf("Null.Render() = %v, want ErrNotAttached", err)
	}
}

// TestLineHeights pins the firmware font metrics.
func TestLineHeights(t *testing.T) {
	tests := []struct {
		size TextSize
		want int
	}{
		{TextSmall, 14},
		{TextMedium, 20},
		{TextLarge, 32},
	}
	for _, tt := range tests {
		if got := tt.size.LineHeight(); got != tt.want {
			t.Errorf("LineHeight(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}
