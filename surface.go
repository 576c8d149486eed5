package main

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Point is a position in logical (CSS) pixels.
type Point struct {
	X, Y float64
}

type TextAlign int

const (
	AlignLeft TextAlign = iota
	AlignCenter
	AlignRight
)

// Gradient is a vertical two-stop fill between logical Y0 and Y1.
type Gradient struct {
	Y0, Y1   float64
	From, To color.Color
}

// Surface is what ChartRenderer draws on. Coordinates are logical; the
// surface owns the mapping to backing pixels.
type Surface interface {
	Resize(vp Viewport)
	Clear()
	StrokeLine(from, to Point, c color.Color, width float64)
	StrokePolyline(pts []Point, c color.Color, width float64)
	FillGradient(polygon []Point, g Gradient)
	Dot(center Point, radius float64, fill, outline color.Color, outlineWidth float64)
	Text(s string, at Point, align TextAlign, c color.Color)
}

// Viewport is the logical size of a chart and its device pixel ratio.
type Viewport struct {
	Width            float64 `json:"width" yaml:"width"`
	Height           float64 `json:"height" yaml:"height"`
	DevicePixelRatio float64 `json:"device_pixel_ratio" yaml:"device_pixel_ratio"`
}

// Backing images are capped per side and in total pixels.
const (
	maxBackingSide   = 8192
	maxBackingPixels = 16 << 20
)

// Valid reports whether vp has a drawable area within the pixel budget.
func (vp Viewport) Valid() bool {
	return vp.Width > 0 && vp.Height > 0 && vp.fits()
}

// fits reports whether the backing image of vp stays within the pixel
// budget. NaN and infinite sizes never fit.
func (vp Viewport) fits() bool {
	r := vp.ratio()
	w, h := vp.Width*r, vp.Height*r
	return w <= maxBackingSide && h <= maxBackingSide && w*h <= maxBackingPixels
}

func (vp Viewport) ratio() float64 {
	if vp.DevicePixelRatio <= 0 || math.IsNaN(vp.DevicePixelRatio) {
		return 1
	}
	return vp.DevicePixelRatio
}

// backing returns the pixel size of the backing image.
func (vp Viewport) backing() (int, int) {
	r := vp.ratio()
	return int(math.Round(vp.Width * r)), int(math.Round(vp.Height * r))
}

var background = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// RasterSurface draws into an RGBA image. Paths go through a go-chart
// raster context; labels use the 7x13 bitmap face.
type RasterSurface struct {
	img   *image.RGBA
	mask  *image.RGBA
	gc    *drawing.RasterGraphicContext
	mgc   *drawing.RasterGraphicContext
	scale float64
	vp    Viewport
}

func NewRasterSurface() *RasterSurface {
	return &RasterSurface{scale: 1}
}

// Resize sets the backing size to the logical size times the pixel
// ratio. Viewports over the pixel budget are ignored. The transform is
// replaced, never composed, so repeated calls cannot scale twice.
func (rs *RasterSurface) Resize(vp Viewport) {
	if !vp.fits() {
		Warnf("[render] viewport %.0fx%.0f@%.2g exceeds the pixel budget, keeping previous frame", vp.Width, vp.Height, vp.ratio())
		return
	}
	w, h := vp.backing()
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if rs.img == nil || rs.img.Bounds().Dx() != w || rs.img.Bounds().Dy() != h {
		rs.img = image.NewRGBA(image.Rect(0, 0, w, h))
		rs.mask = image.NewRGBA(image.Rect(0, 0, w, h))
		// Only *image.RGBA is accepted, so these cannot fail.
		rs.gc, _ = drawing.NewRasterGraphicContext(rs.img)
		rs.mgc, _ = drawing.NewRasterGraphicContext(rs.mask)
	}
	rs.vp = vp
	rs.scale = vp.ratio()
	rs.gc.SetMatrixTransform(drawing.NewScaleMatrix(rs.scale, rs.scale))
	rs.mgc.SetMatrixTransform(drawing.NewScaleMatrix(rs.scale, rs.scale))
}

func (rs *RasterSurface) ready() bool { return rs.img != nil }

func (rs *RasterSurface) Clear() {
	if !rs.ready() {
		return
	}
	draw.Draw(rs.img, rs.img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
}

func (rs *RasterSurface) StrokeLine(from, to Point, c color.Color, width float64) {
	rs.StrokePolyline([]Point{from, to}, c, width)
}

func (rs *RasterSurface) StrokePolyline(pts []Point, c color.Color, width float64) {
	if !rs.ready() || len(pts) < 2 {
		return
	}
	rs.gc.BeginPath()
	rs.gc.SetStrokeColor(c)
	rs.gc.SetLineWidth(width)
	rs.gc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		rs.gc.LineTo(p.X, p.Y)
	}
	rs.gc.Stroke()
}

// FillGradient rasterizes the polygon into a mask and composites the
// gradient through it.
func (rs *RasterSurface) FillGradient(polygon []Point, g Gradient) {
	if !rs.ready() || len(polygon) < 3 {
		return
	}
	draw.Draw(rs.mask, rs.mask.Bounds(), image.Transparent, image.Point{}, draw.Src)
	rs.mgc.BeginPath()
	rs.mgc.SetFillColor(drawing.ColorWhite)
	rs.mgc.MoveTo(polygon[0].X, polygon[0].Y)
	for _, p := range polygon[1:] {
		rs.mgc.LineTo(p.X, p.Y)
	}
	rs.mgc.Close()
	rs.mgc.Fill()

	src := &verticalGradient{
		y0:   g.Y0 * rs.scale,
		y1:   g.Y1 * rs.scale,
		from: color.NRGBAModel.Convert(g.From).(color.NRGBA),
		to:   color.NRGBAModel.Convert(g.To).(color.NRGBA),
	}
	b := rs.img.Bounds()
	draw.DrawMask(rs.img, b, src, b.Min, rs.mask, b.Min, draw.Over)
}

func (rs *RasterSurface) Dot(center Point, radius float64, fill, outline color.Color, outlineWidth float64) {
	if !rs.ready() {
		return
	}
	rs.gc.BeginPath()
	rs.gc.SetFillColor(fill)
	rs.gc.SetStrokeColor(outline)
	rs.gc.SetLineWidth(outlineWidth)
	rs.gc.ArcTo(center.X, center.Y, radius, radius, 0, 2*math.Pi)
	rs.gc.Close()
	rs.gc.FillStroke()
}

// Text draws s with its baseline at the given logical point. The bitmap
// face has a fixed pixel size, so only its position follows the scale.
func (rs *RasterSurface) Text(s string, at Point, align TextAlign, c color.Color) {
	if !rs.ready() || s == "" {
		return
	}
	d := &font.Drawer{Dst: rs.img, Src: image.NewUniform(c), Face: basicfont.Face7x13}
	x := at.X * rs.scale
	switch align {
	case AlignCenter:
		x -= float64(d.MeasureString(s).Ceil()) / 2
	case AlignRight:
		x -= float64(d.MeasureString(s).Ceil())
	}
	d.Dot = fixed.Point26_6{X: fixed.I(int(math.Round(x))), Y: fixed.I(int(math.Round(at.Y * rs.scale)))}
	d.DrawString(s)
}

// Image returns the backing image, or nil before the first Resize.
func (rs *RasterSurface) Image() *image.RGBA { return rs.img }

func (rs *RasterSurface) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, rs.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type verticalGradient struct {
	y0, y1   float64
	from, to color.NRGBA
}

func (g *verticalGradient) ColorModel() color.Model { return color.NRGBAModel }

func (g *verticalGradient) Bounds() image.Rectangle {
	return image.Rectangle{Min: image.Point{X: -1e9, Y: -1e9}, Max: image.Point{X: 1e9, Y: 1e9}}
}

func (g *verticalGradient) At(_, y int) color.Color {
	t := 0.0
	if g.y1 != g.y0 {
		t = (float64(y) + 0.5 - g.y0) / (g.y1 - g.y0)
	}
	t = math.Max(0, math.Min(1, t))
	lerp := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
	}
	return color.NRGBA{
		R: lerp(g.from.R, g.to.R),
		G: lerp(g.from.G, g.to.G),
		B: lerp(g.from.B, g.to.B),
		A: lerp(g.from.A, g.to.A),
	}
}

// parseColor reads "#RRGGBB" or "RRGGBB"; anything else is gray.
func parseColor(hex string) drawing.Color {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 && len(hex) != 3 {
		return drawing.Color{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
	}
	return drawing.ColorFromHex(hex)
}
