package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"dollarnow/internal/history"
	"dollarnow/internal/money"
)

// NoMatch is returned by HitTest when no point is close enough.
const NoMatch = -1

// DefaultBreakpoint separates compact from wide layouts, in pixels.
const DefaultBreakpoint = 600

const (
	gridLines      = 4
	markerRadius   = 3.0
	hoverRadius    = 6.0
	hoverRing      = 10.0
	lineWidth      = 2.0
	wideHitRadius  = 10.0
	touchHitRadius = 20.0
	labelFontSize  = 11.0
)

// Padding is the gap between the canvas edge and the plot area.
type Padding struct {
	Top, Right, Bottom, Left float64
}

var (
	compactPadding = Padding{Top: 16, Right: 12, Bottom: 24, Left: 46}
	widePadding    = Padding{Top: 20, Right: 24, Bottom: 32, Left: 64}
)

// Theme holds the chart palette.
type Theme struct {
	Background color.Color
	Grid       color.Color
	Axis       color.Color
	Label      color.Color
	Line       color.RGBA
	Marker     color.Color
	Tooltip    color.Color
	TooltipBG  color.Color
}

// DefaultTheme matches the page palette.
var DefaultTheme = Theme{
	Background: color.RGBA{R: 255, G: 255, B: 255, A: 255},
	Grid:       color.RGBA{R: 226, G: 232, B: 240, A: 255},
	Axis:       color.RGBA{R: 160, G: 174, B: 192, A: 255},
	Label:      color.RGBA{R: 113, G: 128, B: 150, A: 255},
	Line:       color.RGBA{R: 102, G: 126, B: 234, A: 255},
	Marker:     color.RGBA{R: 118, G: 75, B: 162, A: 255},
	Tooltip:    color.RGBA{R: 255, G: 255, B: 255, A: 255},
	TooltipBG:  color.RGBA{R: 45, G: 55, B: 72, A: 230},
}

// Point is a rendered entry in pixel space, kept for hit-testing.
type Point struct {
	X, Y      float64
	Value     float64
	Timestamp int64
	Index     int
}

// Renderer draws history as a line/area chart.
type Renderer struct {
	Breakpoint int
	Theme      Theme
}

// NewRenderer constructs a renderer with the default theme.
func NewRenderer(breakpoint int) *Renderer {
	if breakpoint <= 0 {
		breakpoint = DefaultBreakpoint
	}
	return &Renderer{Breakpoint: breakpoint, Theme: DefaultTheme}
}

// Compact reports whether a canvas of this width uses the compact layout.
func (r *Renderer) Compact(width int) bool {
	return width < r.Breakpoint
}

// HitRadius is the pointer tolerance for the layout.
func HitRadius(compact bool) float64 {
	if compact {
		return touchHitRadius
	}
	return wideHitRadius
}

// Layout returns the padding used for a canvas width.
func (r *Renderer) Layout(width int) Padding {
	if r.Compact(width) {
		return compactPadding
	}
	return widePadding
}

// Points maps entries onto the plot area without drawing.
func (r *Renderer) Points(entries []history.Entry, width, height int) []Point {
	if len(entries) < 2 {
		return nil
	}
	pad := r.Layout(width)
	plotW := float64(width) - pad.Left - pad.Right
	plotH := float64(height) - pad.Top - pad.Bottom
	lo, hi := bounds(entries)
	span := hi - lo
	if span == 0 {
		span = 1
	}

	last := float64(len(entries) - 1)
	points := make([]Point, len(entries))
	for i, e := range entries {
		v := e.Value.InexactFloat64()
		points[i] = Point{
			X:         pad.Left + float64(i)/last*plotW,
			Y:         pad.Top + plotH - (v-lo)/span*plotH,
			Value:     v,
			Timestamp: e.Timestamp.UnixMilli(),
			Index:     i,
		}
	}
	return points
}

// Render draws the full chart onto dc and returns the point list.
// Nothing is drawn for an empty history; a single entry draws the axes only.
func (r *Renderer) Render(dc *gg.Context, entries []history.Entry, hovered int) []Point {
	if len(entries) == 0 {
		return nil
	}

	width, height := dc.Width(), dc.Height()
	pad := r.Layout(width)
	face := labelFace()
	defer face.Close()

	dc.SetColor(r.Theme.Background)
	dc.Clear()
	dc.SetFontFace(face)

	if len(entries) < 2 {
		r.drawAxes(dc, pad)
		return nil
	}

	lo, hi := bounds(entries)
	span := hi - lo
	if span == 0 {
		span = 1
	}
	r.drawGrid(dc, pad, lo, span)
	r.drawAxes(dc, pad)

	points := r.Points(entries, width, height)
	r.drawArea(dc, pad, points)
	r.drawLine(dc, points)
	r.drawMarkers(dc, points, hovered)
	if hovered >= 0 && hovered < len(points) {
		r.drawTooltip(dc, points[hovered])
	}
	return points
}

// RenderPNG renders onto a fresh canvas and encodes it as PNG.
func (r *Renderer) RenderPNG(w io.Writer, entries []history.Entry, width, height, hovered int) ([]Point, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	dc := gg.NewContext(width, height)
	points := r.Render(dc, entries, hovered)
	if err := dc.EncodePNG(w); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return points, nil
}

func (r *Renderer) drawGrid(dc *gg.Context, pad Padding, lo, span float64) {
	width, height := float64(dc.Width()), float64(dc.Height())
	plotH := height - pad.Top - pad.Bottom

	dc.SetLineWidth(1)
	for i := 0; i < gridLines; i++ {
		frac := float64(i) / float64(gridLines-1)
		y := pad.Top + frac*plotH
		dc.SetColor(r.Theme.Grid)
		dc.DrawLine(pad.Left, y, width-pad.Right, y)
		dc.Stroke()

		value := lo + span*(1-frac)
		dc.SetColor(r.Theme.Label)
		dc.DrawStringAnchored(fmt.Sprintf("%.3f", value), pad.Left-6, y, 1, 0.35)
	}
}

func (r *Renderer) drawAxes(dc *gg.Context, pad Padding) {
	width, height := float64(dc.Width()), float64(dc.Height())
	dc.SetColor(r.Theme.Axis)
	dc.SetLineWidth(1)
	dc.DrawLine(pad.Left, pad.Top, pad.Left, height-pad.Bottom)
	dc.DrawLine(pad.Left, height-pad.Bottom, width-pad.Right, height-pad.Bottom)
	dc.Stroke()
}

func (r *Renderer) drawArea(dc *gg.Context, pad Padding, points []Point) {
	bottom := float64(dc.Height()) - pad.Bottom

	grad := gg.NewLinearGradient(0, pad.Top, 0, bottom)
	top := r.Theme.Line
	top.A = 90
	grad.AddColorStop(0, top)
	grad.AddColorStop(1, color.RGBA{R: r.Theme.Line.R, G: r.Theme.Line.G, B: r.Theme.Line.B, A: 0})

	dc.NewSubPath()
	dc.MoveTo(points[0].X, bottom)
	for _, p := range points {
		dc.LineTo(p.X, p.Y)
	}
	dc.LineTo(points[len(points)-1].X, bottom)
	dc.ClosePath()
	dc.SetFillStyle(grad)
	dc.Fill()
}

func (r *Renderer) drawLine(dc *gg.Context, points []Point) {
	dc.NewSubPath()
	dc.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.SetColor(r.Theme.Line)
	dc.SetLineWidth(lineWidth)
	dc.Stroke()
}

func (r *Renderer) drawMarkers(dc *gg.Context, points []Point, hovered int) {
	for _, p := range points {
		radius := markerRadius
		if p.Index == hovered {
			radius = hoverRadius
			dc.SetColor(r.Theme.Line)
			dc.SetLineWidth(2)
			dc.DrawCircle(p.X, p.Y, hoverRing)
			dc.Stroke()
		}
		dc.SetColor(r.Theme.Marker)
		dc.DrawCircle(p.X, p.Y, radius)
		dc.Fill()
	}
}

func (r *Renderer) drawTooltip(dc *gg.Context, p Point) {
	text := fmt.Sprintf("%s  %s", money.BRL(decimalFromFloat(p.Value), 3), clockLabel(p.Timestamp))
	tw, th := dc.MeasureString(text)
	boxW, boxH := tw+16, th+12

	x := p.X - boxW/2
	y := p.Y - hoverRing - boxH - 4
	if x < 0 {
		x = 0
	}
	if maxX := float64(dc.Width()) - boxW; x > maxX {
		x = maxX
	}
	if y < 0 {
		y = p.Y + hoverRing + 4
	}

	dc.SetColor(r.Theme.TooltipBG)
	dc.DrawRoundedRectangle(x, y, boxW, boxH, 4)
	dc.Fill()
	dc.SetColor(r.Theme.Tooltip)
	dc.DrawStringAnchored(text, x+boxW/2, y+boxH/2, 0.5, 0.35)
}

// HitTest returns the index of the nearest point within the hit radius, or NoMatch.
func HitTest(points []Point, x, y float64, compact bool) int {
	radius := HitRadius(compact)
	best, bestDist := NoMatch, math.Inf(1)
	for _, p := range points {
		d := math.Hypot(p.X-x, p.Y-y)
		if d < radius && d < bestDist {
			best, bestDist = p.Index, d
		}
	}
	return best
}

func bounds(entries []history.Entry) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, e := range entries {
		v := e.Value.InexactFloat64()
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

var (
	fontOnce sync.Once
	goFont   *truetype.Font
)

// labelFace returns a fresh face; truetype faces are not safe for concurrent use.
func labelFace() font.Face {
	fontOnce.Do(func() {
		parsed, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic("parse embedded Go font: " + err.Error())
		}
		goFont = parsed
	})
	return truetype.NewFace(goFont, &truetype.Options{Size: labelFontSize})
}
