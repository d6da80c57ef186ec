package chart

import (
	"bytes"
	"image/color"
	"reflect"
	"testing"
	"time"

	"github.com/fogleman/gg"
	"github.com/shopspring/decimal"

	"dollarnow/internal/history"
)

func entries(values ...string) []history.Entry {
	out := make([]history.Entry, len(values))
	base := time.UnixMilli(1_700_000_000_000)
	for i, v := range values {
		out[i] = history.Entry{Value: decimal.RequireFromString(v), Timestamp: base.Add(time.Duration(i) * 30 * time.Second)}
	}
	return out
}

func TestRenderHigherValueSitsHigher(t *testing.T) {
	r := NewRenderer(DefaultBreakpoint)
	dc := gg.NewContext(800, 300)

	points := r.Render(dc, entries("5.00", "5.10", "5.05"), NoMatch)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if !(points[1].Y < points[2].Y && points[2].Y < points[0].Y) {
		t.Fatalf("unexpected vertical order: %+v", points)
	}
	if !(points[0].X < points[1].X && points[1].X < points[2].X) {
		t.Fatalf("x should increase with index: %+v", points)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewRenderer(DefaultBreakpoint)
	hist := entries("5.41", "5.43", "5.40", "5.44")

	first := r.Render(gg.NewContext(640, 320), hist, 2)
	second := r.Render(gg.NewContext(640, 320), hist, 2)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("render should be deterministic:\n%+v\n%+v", first, second)
	}
}

func TestRenderEmptyDrawsNothing(t *testing.T) {
	r := NewRenderer(DefaultBreakpoint)
	dc := gg.NewContext(100, 100)

	if points := r.Render(dc, nil, NoMatch); points != nil {
		t.Fatalf("expected no points, got %+v", points)
	}
	if _, _, _, a := dc.Image().At(50, 50).RGBA(); a != 0 {
		t.Fatal("empty history should leave the canvas untouched")
	}
}

func TestRenderSingleEntryDrawsAxesOnly(t *testing.T) {
	r := NewRenderer(DefaultBreakpoint)
	dc := gg.NewContext(400, 200)

	if points := r.Render(dc, entries("5.42"), NoMatch); len(points) != 0 {
		t.Fatalf("single entry should yield no points, got %+v", points)
	}
	if _, _, _, a := dc.Image().At(5, 5).RGBA(); a == 0 {
		t.Fatal("single entry should still paint the background and axes")
	}

	pad := r.Layout(400)
	left, right := int(pad.Left), 400-int(pad.Right)
	top, bottom := int(pad.Top), 200-int(pad.Bottom)
	nearAxis := func(x, y int) bool {
		onY := x >= left-2 && x <= left+2 && y >= top-2 && y <= bottom+2
		onX := y >= bottom-2 && y <= bottom+2 && x >= left-2 && x <= right+2
		return onY || onX
	}
	bg := color.RGBAModel.Convert(r.Theme.Background)
	axisPixels := 0
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			c := color.RGBAModel.Convert(dc.Image().At(x, y))
			if nearAxis(x, y) {
				if c != bg {
					axisPixels++
				}
				continue
			}
			if c != bg {
				t.Fatalf("pixel (%d,%d) = %v: only the axes may be drawn for a single entry", x, y, c)
			}
		}
	}
	if axisPixels == 0 {
		t.Fatal("axes were not drawn")
	}
}

func TestHitTest(t *testing.T) {
	r := NewRenderer(DefaultBreakpoint)
	points := r.Points(entries("5.00", "5.10", "5.05"), 800, 300)

	if got := HitTest(points, points[1].X, points[1].Y, false); got != 1 {
		t.Fatalf("exact hit returned %d", got)
	}
	if got := HitTest(points, points[1].X+15, points[1].Y, false); got != NoMatch {
		t.Fatalf("15px away on wide layout should miss, got %d", got)
	}
	if got := HitTest(points, points[1].X+15, points[1].Y, true); got != 1 {
		t.Fatalf("15px away on compact layout should hit, got %d", got)
	}
	if got := HitTest(nil, 10, 10, true); got != NoMatch {
		t.Fatalf("no points should never match, got %d", got)
	}
}

func TestCompactLayout(t *testing.T) {
	r := NewRenderer(0)
	if !r.Compact(599) || r.Compact(600) {
		t.Fatal("breakpoint should be 600px")
	}
	if r.Layout(320) == r.Layout(1024) {
		t.Fatal("compact layout should use smaller padding")
	}
}

func TestRenderPNG(t *testing.T) {
	r := NewRenderer(DefaultBreakpoint)
	var buf bytes.Buffer
	points, err := r.RenderPNG(&buf, entries("5.40", "5.45"), 320, 160, 1)
	if err != nil {
		t.Fatalf("render png: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
	if _, err := r.RenderPNG(&buf, nil, 0, 10, NoMatch); err == nil {
		t.Fatal("zero width should be rejected")
	}
}
