package roadmap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sync"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const attributionFontSize = 10.0

var (
	lightBackground = color.NRGBA{0xf2, 0xef, 0xe9, 0xff}
	darkBackground  = color.NRGBA{0x1a, 0x1a, 0x1a, 0xff}
	labelShadow     = color.NRGBA{0, 0, 0, 0xe6}
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// withOpacity scales the alpha channel of c by opacity in [0,1].
func withOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	c.A = uint8(float64(c.A) * opacity)
	return c
}

// VectorRenderer draws the scene of a HeadlessSurface as SVG or PNG. One
// output unit is one viewport pixel.
type VectorRenderer struct {
	Surface     *HeadlessSurface
	Attribution bool // draw the base layer attribution in the bottom-left corner
}

// NewVectorRenderer creates a renderer for surface.
func NewVectorRenderer(surface *HeadlessSurface) *VectorRenderer {
	return &VectorRenderer{Surface: surface, Attribution: true}
}

// canvasRenderer is the subset shared by the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// placedText is a label positioned in viewport pixels, origin top-left.
type placedText struct {
	X, Y  float64
	Text  string
	Size  float64
	Color color.NRGBA
}

// RenderToSVG writes the scene as SVG.
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	width, height := r.size()

	var buf bytes.Buffer
	svgRenderer := svg.New(&buf, width, height, nil)
	texts := r.renderToCanvas(svgRenderer, width, height)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing svg: %w", err)
	}

	out := buf.Bytes()
	end := bytes.LastIndex(out, []byte("</svg>"))
	if end < 0 {
		return fmt.Errorf("svg output has no closing tag")
	}

	if _, err := w.Write(out[:end]); err != nil {
		return err
	}
	for _, t := range texts {
		if err := writeSVGText(w, t); err != nil {
			return err
		}
	}
	_, err := w.Write(out[end:])
	return err
}

func writeSVGText(w io.Writer, t placedText) error {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(t.Text)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w,
		`<text x="%.2f" y="%.2f" font-family="sans-serif" font-weight="bold" font-size="%.1f" fill="%s" text-anchor="middle" dominant-baseline="central">%s</text>`,
		t.X, t.Y, t.Size, Hex(t.Color), escaped.String())
	return err
}

// RenderToPNG writes the scene as PNG.
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	width, height := r.size()

	rast := rasterizer.New(width, height, canvas.DPMM(1.0), canvas.DefaultColorSpace)
	texts := r.renderToCanvas(rast, width, height)
	faces := make(faceCache)
	for _, t := range texts {
		drawText(rast, faces, t)
	}

	return png.Encode(w, rast)
}

func (r *VectorRenderer) size() (float64, float64) {
	w, h := r.Surface.Size()
	return float64(w), float64(h)
}

// renderToCanvas paints the background and all vector primitives, and
// returns the labels for the caller to typeset in its own format.
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) []placedText {
	base := r.Surface.BaseLayer()

	bg := lightBackground
	if base.Name == "dark" || base.Name == "satellite" {
		bg = darkBackground
	}
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(bg)}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// canvas uses a y-up origin; the scene is y-down.
	toCanvas := func(px [2]float64) (float64, float64) {
		return px[0], height - px[1]
	}

	var texts []placedText
	for _, p := range r.Surface.Scene() {
		switch p.Kind {
		case KindPolyline:
			if len(p.Line) < 2 {
				continue
			}
			cp := &canvas.Path{}
			for i, pt := range p.Line {
				x, y := toCanvas(r.Surface.Project(pt))
				if i == 0 {
					cp.MoveTo(x, y)
				} else {
					cp.LineTo(x, y)
				}
			}
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: canvas.Transparent}
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(withOpacity(p.LineStyle.Color, p.LineStyle.Opacity))}
			style.StrokeWidth = p.LineStyle.Weight
			style.StrokeCapper = canvas.RoundCap
			style.StrokeJoiner = canvas.RoundJoin
			renderer.RenderPath(cp, style, canvas.Identity)

		case KindMarker:
			ms := p.MarkerStyle
			x, y := toCanvas(r.Surface.Project(p.Center))
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(withOpacity(ms.Fill, ms.FillOpacity))}
			style.Stroke = canvas.Paint{Color: nrgbaToRGBA(withOpacity(ms.Border, ms.Opacity))}
			style.StrokeWidth = ms.BorderWeight
			renderer.RenderPath(canvas.Circle(ms.Radius).Translate(x, y), style, canvas.Identity)

		case KindLabel:
			px := r.Surface.Project(p.Center)
			texts = append(texts, placedText{X: px[0], Y: px[1], Text: p.Text, Size: p.LabelStyle.FontSize, Color: p.LabelStyle.Color})
		}
	}

	if r.Attribution && base.Attribution != "" {
		texts = append(texts, placedText{
			X:     width / 2,
			Y:     height - attributionFontSize,
			Text:  base.Attribution,
			Size:  attributionFontSize,
			Color: color.NRGBA{0x33, 0x33, 0x33, 0xff},
		})
	}
	return texts
}

var (
	goFontOnce sync.Once
	goFontData *opentype.Font
	goFontErr  error
)

// faceCache holds label faces for one render. Faces are not safe for
// concurrent use, so each render builds its own.
type faceCache map[float64]font.Face

// face returns a Go Regular face at size, or the fixed 7x13 bitmap face
// when the embedded font cannot be parsed.
func (fc faceCache) face(size float64) font.Face {
	goFontOnce.Do(func() {
		goFontData, goFontErr = opentype.Parse(goregular.TTF)
	})
	if goFontErr != nil || goFontData == nil {
		return basicfont.Face7x13
	}
	if face, ok := fc[size]; ok {
		return face
	}
	face, err := opentype.NewFace(goFontData, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	fc[size] = face
	return face
}

// drawText centers t on its point with a one pixel drop shadow.
func drawText(img draw.Image, faces faceCache, t placedText) {
	face := faces.face(t.Size)
	advance := font.MeasureString(face, t.Text)
	metrics := face.Metrics()

	x := fixed.I(int(t.X)) - advance/2
	y := fixed.I(int(t.Y)) + (metrics.Ascent-metrics.Descent)/2

	shadow := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelShadow),
		Face: face,
		Dot:  fixed.Point26_6{X: x + fixed.I(1), Y: y + fixed.I(1)},
	}
	shadow.DrawString(t.Text)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(t.Color),
		Face: face,
		Dot:  fixed.Point26_6{X: x, Y: y},
	}
	d.DrawString(t.Text)
}
