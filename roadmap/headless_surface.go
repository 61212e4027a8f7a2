package roadmap

import (
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/paulmach/orb/planar"
)

const (
	tileSize = 256.0

	// fitPadding is the margin kept around FitBounds, in pixels.
	fitPadding = 50.0

	// clickTolerance widens polyline hit areas, in pixels.
	clickTolerance = 3.0
)

// PrimitiveKind tells scene primitives apart.
type PrimitiveKind int

const (
	KindPolyline PrimitiveKind = iota
	KindMarker
	KindLabel
)

func (k PrimitiveKind) String() string {
	switch k {
	case KindPolyline:
		return "polyline"
	case KindMarker:
		return "marker"
	case KindLabel:
		return "label"
	}
	return "unknown"
}

// Primitive is one retained draw command.
type Primitive struct {
	Kind   PrimitiveKind
	Layer  LayerID
	Line   orb.LineString
	Center orb.Point
	Text   string

	LineStyle   LineStyle
	MarkerStyle MarkerStyle
	LabelStyle  LabelStyle

	onClick ClickHandler
}

// HeadlessSurface is an in-memory Surface. It keeps the drawn scene, tracks a
// Web Mercator viewport, dispatches clicks by hit-testing and can be rendered
// to SVG or PNG by VectorRenderer.
type HeadlessSurface struct {
	mu sync.RWMutex

	width, height int
	center        orb.Point
	zoom          int
	base          TileProvider

	layers  map[LayerID][]Primitive
	zoomEnd []func()
	moveEnd []func()
	click   []ClickHandler
	resizes int

	// Trace, when set, observes every draw and clear call in order.
	Trace func(op string, layer LayerID)
}

// NewHeadlessSurface creates a surface with a viewport of width x height pixels.
func NewHeadlessSurface(width, height int) *HeadlessSurface {
	base, _ := LookupTileProvider(DefaultTileProvider)
	return &HeadlessSurface{
		width:  width,
		height: height,
		zoom:   base.MinZoom,
		base:   base,
		layers: make(map[LayerID][]Primitive),
	}
}

func (s *HeadlessSurface) trace(op string, layer LayerID) {
	if s.Trace != nil {
		s.Trace(op, layer)
	}
}

// DrawPolyline adds a polyline to layer.
func (s *HeadlessSurface) DrawPolyline(layer LayerID, line orb.LineString, style LineStyle, onClick ClickHandler) {
	s.add(Primitive{Kind: KindPolyline, Layer: layer, Line: line, LineStyle: style, onClick: onClick})
}

// DrawCircleMarker adds a circle marker to layer.
func (s *HeadlessSurface) DrawCircleMarker(layer LayerID, center orb.Point, style MarkerStyle, onClick ClickHandler) {
	s.add(Primitive{Kind: KindMarker, Layer: layer, Center: center, MarkerStyle: style, onClick: onClick})
}

// DrawLabel adds a text badge to layer.
func (s *HeadlessSurface) DrawLabel(layer LayerID, at orb.Point, text string, style LabelStyle, onClick ClickHandler) {
	s.add(Primitive{Kind: KindLabel, Layer: layer, Center: at, Text: text, LabelStyle: style, onClick: onClick})
}

func (s *HeadlessSurface) add(p Primitive) {
	s.mu.Lock()
	s.layers[p.Layer] = append(s.layers[p.Layer], p)
	s.mu.Unlock()
	s.trace(p.Kind.String(), p.Layer)
}

// ClearLayer removes every primitive from layer.
func (s *HeadlessSurface) ClearLayer(layer LayerID) {
	s.mu.Lock()
	delete(s.layers, layer)
	s.mu.Unlock()
	s.trace("clear", layer)
}

// SetBaseLayer swaps the base layer. When the current zoom is outside the
// new provider's range the view is clamped, which fires the view events.
func (s *HeadlessSurface) SetBaseLayer(p TileProvider) {
	s.mu.Lock()
	s.base = p
	zoom := s.clampZoom(s.zoom)
	clamped := zoom != s.zoom
	center := s.center
	s.mu.Unlock()
	s.trace("base", LayerID(p.Name))

	if clamped {
		s.SetView(center, zoom)
	}
}

// BaseLayer returns the installed base layer.
func (s *HeadlessSurface) BaseLayer() TileProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// Zoom returns the current zoom level.
func (s *HeadlessSurface) Zoom() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zoom
}

// Center returns the viewport center.
func (s *HeadlessSurface) Center() orb.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.center
}

// Size returns the viewport size in pixels.
func (s *HeadlessSurface) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Resize changes the viewport size. Callers follow with InvalidateSize.
func (s *HeadlessSurface) Resize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

func (s *HeadlessSurface) clampZoom(z int) int {
	minZoom, maxZoom := s.base.MinZoom, s.base.MaxZoom
	if maxZoom == 0 {
		maxZoom = 19
	}
	if z < minZoom {
		return minZoom
	}
	if z > maxZoom {
		return maxZoom
	}
	return z
}

// SetView moves the viewport. zoomend fires when the zoom changed, moveend
// fires on every call.
func (s *HeadlessSurface) SetView(center orb.Point, zoom int) {
	s.mu.Lock()
	zoom = s.clampZoom(zoom)
	zoomChanged := zoom != s.zoom
	s.center = center
	s.zoom = zoom
	zoomEnd := append([]func(){}, s.zoomEnd...)
	moveEnd := append([]func(){}, s.moveEnd...)
	s.mu.Unlock()

	if zoomChanged {
		for _, fn := range zoomEnd {
			fn()
		}
	}
	for _, fn := range moveEnd {
		fn()
	}
}

// FitBounds picks the largest zoom at which b fits the viewport with padding
// and centers on it.
func (s *HeadlessSurface) FitBounds(b orb.Bound) {
	s.mu.RLock()
	minZoom, maxZoom := s.clampZoom(0), s.clampZoom(math.MaxInt32)
	availW := float64(s.width) - 2*fitPadding
	availH := float64(s.height) - 2*fitPadding
	s.mu.RUnlock()

	zoom := minZoom
	for z := maxZoom; z >= minZoom; z-- {
		lo := worldPixel(orb.Point{b.Min.Lon(), b.Max.Lat()}, z)
		hi := worldPixel(orb.Point{b.Max.Lon(), b.Min.Lat()}, z)
		if hi[0]-lo[0] <= availW && hi[1]-lo[1] <= availH {
			zoom = z
			break
		}
	}

	lo := worldPixel(orb.Point{b.Min.Lon(), b.Max.Lat()}, zoom)
	hi := worldPixel(orb.Point{b.Max.Lon(), b.Min.Lat()}, zoom)
	center := unprojectWorld(orb.Point{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2}, zoom)
	s.SetView(center, zoom)
}

// OnZoomEnd subscribes fn to zoom changes.
func (s *HeadlessSurface) OnZoomEnd(fn func()) {
	s.mu.Lock()
	s.zoomEnd = append(s.zoomEnd, fn)
	s.mu.Unlock()
}

// OnMoveEnd subscribes fn to viewport moves.
func (s *HeadlessSurface) OnMoveEnd(fn func()) {
	s.mu.Lock()
	s.moveEnd = append(s.moveEnd, fn)
	s.mu.Unlock()
}

// OnClick subscribes fn to clicks on the map background.
func (s *HeadlessSurface) OnClick(fn ClickHandler) {
	s.mu.Lock()
	s.click = append(s.click, fn)
	s.mu.Unlock()
}

// Off drops every event subscription.
func (s *HeadlessSurface) Off() {
	s.mu.Lock()
	s.zoomEnd = nil
	s.moveEnd = nil
	s.click = nil
	s.mu.Unlock()
}

// InvalidateSize records a resize request.
func (s *HeadlessSurface) InvalidateSize() {
	s.mu.Lock()
	s.resizes++
	s.mu.Unlock()
}

// ResizeCount returns how many times InvalidateSize was called.
func (s *HeadlessSurface) ResizeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resizes
}

// Snapshot returns a detached copy of the viewport and drawn layers. The copy
// has no event subscriptions and its primitives are not clickable.
func (s *HeadlessSurface) Snapshot() *HeadlessSurface {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layers := make(map[LayerID][]Primitive, len(s.layers))
	for id, prims := range s.layers {
		cp := make([]Primitive, len(prims))
		for i, p := range prims {
			p.onClick = nil
			cp[i] = p
		}
		layers[id] = cp
	}
	return &HeadlessSurface{
		width:   s.width,
		height:  s.height,
		center:  s.center,
		zoom:    s.zoom,
		base:    s.base,
		layers:  layers,
		resizes: s.resizes,
	}
}

// Scene returns the primitives in paint order: vector layers in stacking
// order, then labels above them.
func (s *HeadlessSurface) Scene() []Primitive {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sceneLocked()
}

func (s *HeadlessSurface) sceneLocked() []Primitive {
	var vectors, labels []Primitive
	for _, layer := range s.layerOrderLocked() {
		for _, p := range s.layers[layer] {
			if p.Kind == KindLabel {
				labels = append(labels, p)
			} else {
				vectors = append(vectors, p)
			}
		}
	}
	return append(vectors, labels...)
}

// layerOrderLocked lists known layers first, then any others by name.
func (s *HeadlessSurface) layerOrderLocked() []LayerID {
	order := []LayerID{LayerSegments, LayerHoles}
	var extra []LayerID
	for id := range s.layers {
		if id != LayerSegments && id != LayerHoles {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}

// LayerCount returns the number of primitives on layer.
func (s *HeadlessSurface) LayerCount(layer LayerID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers[layer])
}

// Project converts a lon/lat point to viewport pixels, origin top-left.
func (s *HeadlessSurface) Project(p orb.Point) orb.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectLocked(p)
}

func (s *HeadlessSurface) projectLocked(p orb.Point) orb.Point {
	wp := worldPixel(p, s.zoom)
	wc := worldPixel(s.center, s.zoom)
	return orb.Point{
		wp[0] - wc[0] + float64(s.width)/2,
		wp[1] - wc[1] + float64(s.height)/2,
	}
}

// Unproject converts viewport pixels back to lon/lat.
func (s *HeadlessSurface) Unproject(px orb.Point) orb.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wc := worldPixel(s.center, s.zoom)
	world := orb.Point{
		px[0] - float64(s.width)/2 + wc[0],
		px[1] - float64(s.height)/2 + wc[1],
	}
	return unprojectWorld(world, s.zoom)
}

// ViewBounds returns the lon/lat bounds of the viewport.
func (s *HeadlessSurface) ViewBounds() orb.Bound {
	w, h := s.Size()
	nw := s.Unproject(orb.Point{0, 0})
	se := s.Unproject(orb.Point{float64(w), float64(h)})
	return orb.Bound{
		Min: orb.Point{nw.Lon(), se.Lat()},
		Max: orb.Point{se.Lon(), nw.Lat()},
	}
}

// VisibleTiles lists base-layer tile URLs covering the viewport.
func (s *HeadlessSurface) VisibleTiles() []string {
	bound := s.ViewBounds()
	base := s.BaseLayer()
	zoom := maptile.Zoom(s.Zoom())

	tiles := make(maptile.Tiles, 0)
	for t := range tilecover.Bound(bound, zoom) {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Y != tiles[j].Y {
			return tiles[i].Y < tiles[j].Y
		}
		return tiles[i].X < tiles[j].X
	})

	urls := make([]string, len(tiles))
	for i, t := range tiles {
		urls[i] = base.URL(t)
	}
	return urls
}

// ClickAt dispatches a click at a lon/lat point.
func (s *HeadlessSurface) ClickAt(p orb.Point) *Event {
	return s.ClickPixel(s.Project(p))
}

// ClickPixel dispatches a click at viewport pixel px. The top-most primitive
// under the pointer receives it; map click handlers run unless that
// primitive's handler stopped propagation.
func (s *HeadlessSurface) ClickPixel(px orb.Point) *Event {
	s.mu.RLock()
	target := s.hitTestLocked(px)
	handlers := append([]ClickHandler{}, s.click...)
	s.mu.RUnlock()

	ev := &Event{Point: s.Unproject(px)}
	if target != nil {
		target(ev)
	}
	if ev.Stopped() {
		return ev
	}
	for _, fn := range handlers {
		fn(ev)
	}
	return ev
}

func (s *HeadlessSurface) hitTestLocked(px orb.Point) ClickHandler {
	scene := s.sceneLocked()
	for i := len(scene) - 1; i >= 0; i-- {
		p := scene[i]
		if p.onClick == nil {
			continue
		}
		if s.hitLocked(p, px) {
			return p.onClick
		}
	}
	return nil
}

func (s *HeadlessSurface) hitLocked(p Primitive, px orb.Point) bool {
	switch p.Kind {
	case KindPolyline:
		reach := p.LineStyle.Weight/2 + clickTolerance
		for i := 1; i < len(p.Line); i++ {
			a := s.projectLocked(p.Line[i-1])
			b := s.projectLocked(p.Line[i])
			if distanceToSegment(px, a, b) <= reach {
				return true
			}
		}
	case KindMarker:
		c := s.projectLocked(p.Center)
		return planar.Distance(px, c) <= p.MarkerStyle.Radius+p.MarkerStyle.BorderWeight/2
	case KindLabel:
		c := s.projectLocked(p.Center)
		half := p.LabelStyle.Box / 2
		return math.Abs(px[0]-c[0]) <= half && math.Abs(px[1]-c[1]) <= half
	}
	return false
}

// worldPixel projects lon/lat to Web Mercator world pixels at zoom.
func worldPixel(p orb.Point, zoom int) orb.Point {
	f := maptile.Fraction(p, maptile.Zoom(zoom))
	return orb.Point{f[0] * tileSize, f[1] * tileSize}
}

func unprojectWorld(px orb.Point, zoom int) orb.Point {
	size := tileSize * math.Exp2(float64(zoom))
	lon := px[0]/size*360 - 180
	n := math.Pi * (1 - 2*px[1]/size)
	lat := math.Atan(math.Sinh(n)) * 180 / math.Pi
	return orb.Point{lon, lat}
}

func distanceToSegment(p, a, b orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return planar.Distance(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return planar.Distance(p, orb.Point{a[0] + t*dx, a[1] + t*dy})
}
