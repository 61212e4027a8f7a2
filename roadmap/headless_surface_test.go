package roadmap

import (
	"fmt"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lima = orb.Point{-77.05, -12.05}

func TestHeadlessSurface_Defaults(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	assert.Equal(t, 3, s.Zoom())
	assert.Equal(t, "osm", s.BaseLayer().Name)
	w, h := s.Size()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
	assert.Empty(t, s.Scene())
}

func TestHeadlessSurface_LayersAndTrace(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	var ops []string
	s.Trace = func(op string, layer LayerID) {
		ops = append(ops, fmt.Sprintf("%s:%s", op, layer))
	}

	s.DrawPolyline(LayerSegments, orb.LineString{{0, 0}, {1, 1}}, LineStyle{Weight: 2}, nil)
	s.DrawCircleMarker(LayerHoles, orb.Point{0, 0}, MarkerStyle{Radius: 4}, nil)
	s.DrawLabel(LayerHoles, orb.Point{0, 0}, "3", LabelStyle{FontSize: 10}, nil)
	assert.Equal(t, 1, s.LayerCount(LayerSegments))
	assert.Equal(t, 2, s.LayerCount(LayerHoles))

	s.ClearLayer(LayerSegments)
	assert.Equal(t, 0, s.LayerCount(LayerSegments))
	assert.Equal(t, 2, s.LayerCount(LayerHoles))

	assert.Equal(t, []string{
		"polyline:segments",
		"marker:holes",
		"label:holes",
		"clear:segments",
	}, ops)
}

func TestHeadlessSurface_SceneOrder(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.DrawLabel(LayerHoles, orb.Point{0, 0}, "2", LabelStyle{}, nil)
	s.DrawCircleMarker(LayerHoles, orb.Point{0, 0}, MarkerStyle{}, nil)
	s.DrawPolyline(LayerSegments, orb.LineString{{0, 0}, {1, 1}}, LineStyle{}, nil)
	s.DrawPolyline("extra", orb.LineString{{0, 0}, {1, 1}}, LineStyle{}, nil)

	var kinds []string
	for _, p := range s.Scene() {
		kinds = append(kinds, fmt.Sprintf("%s/%s", p.Layer, p.Kind))
	}
	assert.Equal(t, []string{
		"segments/polyline",
		"holes/marker",
		"extra/polyline",
		"holes/label",
	}, kinds)
}

func TestHeadlessSurface_ViewEvents(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	var zoomEnds, moveEnds int
	s.OnZoomEnd(func() { zoomEnds++ })
	s.OnMoveEnd(func() { moveEnds++ })

	s.SetView(lima, 12)
	assert.Equal(t, 1, zoomEnds)
	assert.Equal(t, 1, moveEnds)

	s.SetView(orb.Point{-77.0, -12.0}, 12)
	assert.Equal(t, 1, zoomEnds, "pan keeps zoom")
	assert.Equal(t, 2, moveEnds)

	s.SetView(lima, 40)
	assert.Equal(t, 19, s.Zoom(), "zoom is clamped to the base layer")
	s.SetView(lima, 0)
	assert.Equal(t, 3, s.Zoom())

	s.Off()
	s.SetView(lima, 10)
	assert.Equal(t, 3, zoomEnds, "no events after Off")
}

func TestHeadlessSurface_SetBaseLayerClampsZoom(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.SetView(lima, 19)

	var zoomEnds int
	s.OnZoomEnd(func() { zoomEnds++ })

	terrain, _ := LookupTileProvider("terrain")
	s.SetBaseLayer(terrain)
	assert.Equal(t, 17, s.Zoom())
	assert.Equal(t, 1, zoomEnds)
	assert.Equal(t, "terrain", s.BaseLayer().Name)

	osm, _ := LookupTileProvider("osm")
	s.SetBaseLayer(osm)
	assert.Equal(t, 17, s.Zoom(), "widening the range keeps the zoom")
	assert.Equal(t, 1, zoomEnds)
}

func TestHeadlessSurface_ProjectRoundTrip(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.SetView(lima, 14)

	c := s.Project(lima)
	assert.InDelta(t, 400, c[0], 1e-6)
	assert.InDelta(t, 300, c[1], 1e-6)

	p := orb.Point{-77.04, -12.045}
	px := s.Project(p)
	back := s.Unproject(px)
	assert.InDelta(t, p.Lon(), back.Lon(), 1e-9)
	assert.InDelta(t, p.Lat(), back.Lat(), 1e-9)

	// North is up: a point north of center has a smaller y.
	north := s.Project(orb.Point{lima.Lon(), lima.Lat() + 0.001})
	assert.Less(t, north[1], c[1])

	b := s.ViewBounds()
	assert.True(t, b.Contains(lima))
}

func TestHeadlessSurface_FitBounds(t *testing.T) {
	s := NewHeadlessSurface(1024, 768)
	b := orb.Bound{Min: orb.Point{-77.08, -12.10}, Max: orb.Point{-77.05, -12.02}}
	s.FitBounds(b)

	zoom := s.Zoom()
	assert.Greater(t, zoom, 10)
	for _, corner := range []orb.Point{b.Min, b.Max} {
		px := s.Project(corner)
		if px[0] < 0 || px[0] > 1024 || px[1] < 0 || px[1] > 768 {
			t.Errorf("corner %v projects outside the viewport: %v", corner, px)
		}
	}

	// One more zoom level must not fit.
	s.SetView(s.Center(), zoom+1)
	lo := s.Project(orb.Point{b.Min.Lon(), b.Max.Lat()})
	hi := s.Project(orb.Point{b.Max.Lon(), b.Min.Lat()})
	fits := hi[0]-lo[0] <= 1024-2*fitPadding && hi[1]-lo[1] <= 768-2*fitPadding
	assert.False(t, fits, "FitBounds should pick the largest fitting zoom")
}

func TestHeadlessSurface_Clicks(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.SetView(lima, 15)

	var hits []string
	s.OnClick(func(e *Event) { hits = append(hits, "map") })

	s.DrawCircleMarker(LayerHoles, lima, MarkerStyle{Radius: 8, BorderWeight: 2}, func(e *Event) {
		hits = append(hits, "marker")
		e.StopPropagation()
	})
	s.DrawLabel(LayerHoles, lima, "4", LabelStyle{Box: 16}, func(e *Event) {
		hits = append(hits, "label")
	})

	ev := s.ClickAt(lima)
	assert.False(t, ev.Stopped())
	assert.Equal(t, []string{"label", "map"}, hits, "labels sit above markers")

	hits = nil
	px := s.Project(lima)
	s.ClickPixel(orb.Point{px[0] + 8.5, px[1]})
	assert.Equal(t, []string{"marker"}, hits, "border counts as part of the marker")

	hits = nil
	s.ClickPixel(orb.Point{px[0] + 40, px[1]})
	assert.Equal(t, []string{"map"}, hits)
}

func TestHeadlessSurface_Snapshot(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.SetView(lima, 15)
	s.SetBaseLayer(tileProviders["dark"])

	clicked := false
	s.DrawCircleMarker(LayerHoles, lima, MarkerStyle{Radius: 8}, func(e *Event) {
		clicked = true
		e.StopPropagation()
	})
	s.DrawPolyline(LayerSegments, orb.LineString{lima, {-77.04, -12.04}}, LineStyle{Weight: 4}, nil)

	snap := s.Snapshot()
	s.ClearLayer(LayerHoles)
	s.SetView(orb.Point{-77, -12}, 12)

	assert.Equal(t, 1, snap.LayerCount(LayerHoles), "later draws do not reach the copy")
	assert.Equal(t, 1, snap.LayerCount(LayerSegments))
	assert.Equal(t, 15, snap.Zoom())
	assert.Equal(t, lima, snap.Center())
	assert.Equal(t, "dark", snap.BaseLayer().Name)
	w, h := snap.Size()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)

	ev := snap.ClickAt(lima)
	assert.False(t, ev.Stopped())
	assert.False(t, clicked, "copied primitives carry no handlers")
}

func TestHeadlessSurface_PolylineHit(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.SetView(lima, 15)

	a := s.Unproject(orb.Point{300, 300})
	b := s.Unproject(orb.Point{500, 300})
	hit := false
	s.DrawPolyline(LayerSegments, orb.LineString{a, b}, LineStyle{Weight: 10}, func(e *Event) {
		hit = true
		e.StopPropagation()
	})

	s.ClickPixel(orb.Point{400, 307})
	assert.True(t, hit, "within half weight plus tolerance")

	hit = false
	s.ClickPixel(orb.Point{400, 309})
	assert.False(t, hit)

	hit = false
	s.ClickPixel(orb.Point{502, 300})
	assert.True(t, hit, "round end")
}

func TestHeadlessSurface_VisibleTiles(t *testing.T) {
	s := NewHeadlessSurface(512, 512)
	s.SetView(lima, 12)

	tiles := s.VisibleTiles()
	require.NotEmpty(t, tiles)
	assert.LessOrEqual(t, len(tiles), 9)
	for _, u := range tiles {
		if !strings.Contains(u, "tile.openstreetmap.org/12/") {
			t.Errorf("unexpected tile URL %s", u)
		}
	}
}

func TestHeadlessSurface_Resize(t *testing.T) {
	s := NewHeadlessSurface(800, 600)
	s.Resize(400, 300)
	s.InvalidateSize()
	s.InvalidateSize()
	w, h := s.Size()
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)
	assert.Equal(t, 2, s.ResizeCount())
}
