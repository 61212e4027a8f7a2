package roadmap

import (
	"image/color"

	"github.com/paulmach/orb"
)

// LayerID names an overlay layer on a map surface.
type LayerID string

// Overlay layers, in stacking order.
const (
	LayerSegments LayerID = "segments"
	LayerHoles    LayerID = "holes"
)

// LineStyle styles a polyline.
type LineStyle struct {
	Color   color.NRGBA
	Weight  float64 // pixels
	Opacity float64
}

// MarkerStyle styles a circle marker.
type MarkerStyle struct {
	Radius       float64 // pixels
	Fill         color.NRGBA
	Border       color.NRGBA
	BorderWeight float64
	Opacity      float64
	FillOpacity  float64
}

// LabelStyle styles a text badge centered on a point.
type LabelStyle struct {
	FontSize float64 // pixels
	Box      float64 // clickable square, pixels
	Color    color.NRGBA
}

// Event is a pointer event delivered to click handlers.
type Event struct {
	Point   orb.Point
	stopped bool
}

// StopPropagation keeps the event from reaching the map's own click handlers.
func (e *Event) StopPropagation() {
	e.stopped = true
}

// Stopped reports whether a handler halted propagation.
func (e *Event) Stopped() bool {
	return e.stopped
}

// ClickHandler handles a click on a primitive or on the map background.
type ClickHandler func(e *Event)

// Surface is the drawing capability the map controller drives. Any map
// library that can draw these primitives and report viewport changes can
// back it.
type Surface interface {
	DrawPolyline(layer LayerID, line orb.LineString, style LineStyle, onClick ClickHandler)
	DrawCircleMarker(layer LayerID, center orb.Point, style MarkerStyle, onClick ClickHandler)
	DrawLabel(layer LayerID, at orb.Point, text string, style LabelStyle, onClick ClickHandler)
	ClearLayer(layer LayerID)

	// SetBaseLayer replaces the tile base layer in one step.
	SetBaseLayer(p TileProvider)
	FitBounds(b orb.Bound)
	Zoom() int

	OnZoomEnd(fn func())
	OnMoveEnd(fn func())
	OnClick(fn ClickHandler)
	// Off drops every event subscription.
	Off()

	// InvalidateSize asks the surface to re-measure its container.
	InvalidateSize()
}
