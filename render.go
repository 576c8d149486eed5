package main

import (
	"image/color"
	"math"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	gridRows      = 5
	gridCols      = 10
	valueTicks    = 6
	timeTicks     = 6
	markerRadius  = 5
	minRangeSpan  = 1e-9
	nominalSpan   = 1.0
	gradientAlpha = 0x4D
	gradientFloor = 0x0D
)

var (
	gridColor  = drawing.Color{R: 0, G: 136, B: 255, A: 26}
	axisColor  = drawing.Color{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
	labelColor = drawing.Color{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
)

// Layout is the plot rectangle inside a viewport.
type Layout struct {
	Left, Top, Right, Bottom float64
}

func (l Layout) Width() float64  { return l.Right - l.Left }
func (l Layout) Height() float64 { return l.Bottom - l.Top }

// ChartRenderer draws one metric window as a line chart.
type ChartRenderer struct {
	Padding       float64
	PaddingBottom float64
	format        *labelFormatter
}

func NewChartRenderer(padding, paddingBottom float64, locale string) *ChartRenderer {
	if padding <= 0 {
		padding = 40
	}
	if paddingBottom <= 0 {
		paddingBottom = 50
	}
	return &ChartRenderer{
		Padding:       padding,
		PaddingBottom: paddingBottom,
		format:        newLabelFormatter(locale),
	}
}

func (cr *ChartRenderer) Layout(vp Viewport) Layout {
	return Layout{
		Left:   cr.Padding,
		Top:    cr.Padding,
		Right:  vp.Width - cr.Padding,
		Bottom: vp.Height - cr.PaddingBottom,
	}
}

// valueRange returns the vertical range, widening a degenerate one to a
// nominal span above min.
func valueRange(spec ChartSpec) (lo, hi float64) {
	lo, hi = spec.Min, spec.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi-lo < minRangeSpan || math.IsNaN(hi-lo) {
		hi = lo + nominalSpan
	}
	return lo, hi
}

// Render draws snap onto s. An invalid viewport leaves s untouched; fewer
// than two valid points draw the grid, axes and labels only.
func (cr *ChartRenderer) Render(s Surface, snap Snapshot, spec ChartSpec, vp Viewport) {
	if !vp.Valid() {
		return
	}
	l := cr.Layout(vp)
	lo, hi := valueRange(spec)
	span := hi - lo

	s.Resize(vp)
	s.Clear()

	for i := 0; i <= gridRows; i++ {
		y := l.Top + l.Height()/gridRows*float64(i)
		s.StrokeLine(Point{l.Left, y}, Point{l.Right, y}, gridColor, 1)
	}
	for i := 0; i <= gridCols; i++ {
		x := l.Left + l.Width()/gridCols*float64(i)
		s.StrokeLine(Point{x, l.Top}, Point{x, l.Bottom}, gridColor, 1)
	}

	s.StrokeLine(Point{l.Left, l.Top}, Point{l.Left, l.Bottom}, axisColor, 2)
	s.StrokeLine(Point{l.Left, l.Bottom}, Point{l.Right, l.Bottom}, axisColor, 2)

	for i := 0; i < valueTicks; i++ {
		v := hi - span/float64(valueTicks-1)*float64(i)
		y := l.Top + l.Height()/float64(valueTicks-1)*float64(i)
		s.Text(cr.format.value(v, spec.Decimals), Point{l.Left - 10, y + 4}, AlignRight, labelColor)
	}

	n := min(len(snap.Timestamps), len(snap.Values))
	xAt := func(i int) float64 {
		if n < 2 {
			return l.Left
		}
		return l.Left + l.Width()/float64(n-1)*float64(i)
	}
	yAt := func(v float64) float64 {
		y := l.Bottom - (v-lo)/span*l.Height()
		return math.Max(l.Top, math.Min(l.Bottom, y))
	}

	for _, idx := range tickIndices(n, timeTicks) {
		s.Text(cr.format.clock(snap.Timestamps[idx]), Point{xAt(idx), l.Bottom + 20}, AlignCenter, labelColor)
	}

	pts := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		v := snap.Values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, Point{xAt(i), yAt(v)})
	}
	if n < 2 || len(pts) < 2 {
		return
	}

	c := parseColor(spec.Color)
	s.StrokePolyline(pts, c, 3)

	area := make([]Point, 0, len(pts)+2)
	area = append(area, pts...)
	area = append(area, Point{pts[len(pts)-1].X, l.Bottom}, Point{pts[0].X, l.Bottom})
	s.FillGradient(area, Gradient{
		Y0:   l.Top,
		Y1:   l.Bottom,
		From: c.WithAlpha(gradientAlpha),
		To:   c.WithAlpha(gradientFloor),
	})

	s.Dot(pts[len(pts)-1], markerRadius, c, color.White, 2)
}

// tickIndices spreads up to k labels evenly over n samples, always
// including the first and last one.
func tickIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if n <= k {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, k)
	for i := 0; i < k; i++ {
		idx := int(math.Round(float64(i) * float64(n-1) / float64(k-1)))
		if len(out) > 0 && out[len(out)-1] == idx {
			continue
		}
		out = append(out, idx)
	}
	return out
}
