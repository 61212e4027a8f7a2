package roadmap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pointA    = orb.Point{-77.0000, -12.0000}
	pointAEnd = orb.Point{-76.9990, -12.0000}
	pointAMid = orb.Point{-76.9995, -12.0000}
	pointB    = orb.Point{-77.0500, -12.0500}
	nowhere   = orb.Point{-77.0200, -12.0200}
)

// testDataset is two far apart segments. A carries two defects, one at each
// end; B carries one.
func testDataset() []RoadSegment {
	return []RoadSegment{
		{
			Numero: 1, ID: 1, Names: Names{"Av. Uno"}, Length: 100, IQR: 2, IRI: 3.1, Kind: "primaria",
			Geometry: []Vertex{
				{Order: 1, Lat: pointA.Lat(), Lon: pointA.Lon()},
				{Order: 2, Lat: pointAEnd.Lat(), Lon: pointAEnd.Lon()},
			},
			Defects: []Defect{
				{Lat: pointA.Lat(), Lon: pointA.Lon(), Magnitude: 1, Speed: 20},
				{Lat: pointAEnd.Lat(), Lon: pointAEnd.Lon(), Magnitude: 4, Speed: 40},
			},
		},
		{
			Numero: 2, ID: 2, Names: Names{"Av. Dos"}, Length: 200, IQR: 4,
			Geometry: []Vertex{
				{Order: 1, Lat: pointB.Lat(), Lon: pointB.Lon()},
				{Order: 2, Lat: pointB.Lat() - 0.001, Lon: pointB.Lon() - 0.001},
			},
			Defects: []Defect{{Lat: pointB.Lat(), Lon: pointB.Lon(), Magnitude: 2.5, Speed: 30}},
		},
	}
}

// fakeScheduler records delayed work so tests decide when it runs.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
}

func (f *fakeScheduler) schedule(d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.funcs = append(f.funcs, fn)
}

func (f *fakeScheduler) runAll() {
	f.mu.Lock()
	funcs := f.funcs
	f.funcs = nil
	f.mu.Unlock()
	for _, fn := range funcs {
		fn()
	}
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delays)
}

func loadSession(t *testing.T, segments []RoadSegment, opts ...SessionOption) (*MapSession, *HeadlessSurface) {
	t.Helper()
	surface := NewHeadlessSurface(800, 600)
	s := NewMapSession(surface, StaticLoader{Segments: segments}, opts...)
	s.Load(context.Background())
	require.Equal(t, SessionReady, s.State())
	return s, surface
}

// ----------------------------------------------------------------------------
// Loading
// ----------------------------------------------------------------------------

func TestMapSession_New(t *testing.T) {
	s := NewMapSession(NewHeadlessSurface(10, 10), StaticLoader{})
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SessionLoading, s.State())

	v := s.View()
	assert.Equal(t, ModeSegments, v.Mode)
	assert.Equal(t, HoleViewCircles, v.HoleView)
	assert.Equal(t, "osm", v.TileProvider)
	assert.False(t, v.DetailOpen)

	other := NewMapSession(NewHeadlessSurface(10, 10), StaticLoader{})
	assert.NotEqual(t, s.ID, other.ID)
}

func TestMapSession_Load(t *testing.T) {
	s, surface := loadSession(t, testDataset())

	stats := s.Statistics()
	assert.Equal(t, 2.0, stats.Quality.Min)
	assert.Equal(t, 4.0, stats.Quality.Max)
	assert.Equal(t, 1.0, stats.Magnitude.Min)
	assert.Equal(t, 4.0, stats.Magnitude.Max)

	bounds, _ := DatasetBounds(testDataset())
	assert.True(t, surface.ViewBounds().Contains(bounds.Min), "viewport fitted to data")
	assert.True(t, surface.ViewBounds().Contains(bounds.Max))

	last := s.LastRender()
	assert.Equal(t, ModeSegments, last.Mode)
	assert.Equal(t, surface.Zoom(), last.Zoom)
	assert.Greater(t, last.Drawn, 0)
	assert.Equal(t, last.Drawn, surface.LayerCount(LayerSegments))
	assert.Len(t, s.Segments(), 2)
}

func TestMapSession_LoadEmptyDataset(t *testing.T) {
	s, surface := loadSession(t, nil)
	assert.Equal(t, 3, surface.Zoom(), "nothing to fit")
	assert.Equal(t, 0, s.LastRender().Drawn)
	assert.Equal(t, GlobalStatistics{}, s.Statistics())
}

func TestMapSession_LoadInstallsTileProvider(t *testing.T) {
	_, surface := loadSession(t, nil, WithInitialTileProvider("satellite"))
	assert.Equal(t, "satellite", surface.BaseLayer().Name)

	s, surface := loadSession(t, nil, WithInitialTileProvider("watercolor"))
	assert.Equal(t, "osm", surface.BaseLayer().Name)
	assert.Equal(t, "osm", s.View().TileProvider)
}

func TestMapSession_LoaderFailureUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	loader, err := NewLoader(url, WithTimeout(time.Second))
	require.NoError(t, err)

	surface := NewHeadlessSurface(800, 600)
	s := NewMapSession(surface, loader)
	s.Load(context.Background())

	assert.Equal(t, SessionReady, s.State())
	assert.Len(t, s.Segments(), 17)
	assert.Greater(t, surface.LayerCount(LayerSegments), 0)
}

func TestMapSession_SkipsUnrenderable(t *testing.T) {
	segments := append(testDataset(), RoadSegment{
		Numero:   3,
		Geometry: []Vertex{{Order: 1, Lat: -12.2, Lon: -77.2}},
	})
	s, _ := loadSession(t, segments)
	require.NoError(t, s.SetView(pointA, 18))

	last := s.LastRender()
	assert.Equal(t, 2, last.Drawn)
	assert.Equal(t, 1, last.Skipped)
}

func TestMapSession_Reload(t *testing.T) {
	var mu sync.Mutex
	data := testDataset()
	loader := loaderFunc(func(context.Context) []RoadSegment {
		mu.Lock()
		defer mu.Unlock()
		return data
	})

	surface := NewHeadlessSurface(800, 600)
	s := NewMapSession(surface, loader)
	s.Load(context.Background())
	require.NoError(t, s.SetView(pointA, 18))
	_, err := s.Click(pointAMid)
	require.NoError(t, err)
	require.NotNil(t, s.Selection())
	zoom := surface.Zoom()

	mu.Lock()
	data = data[:1]
	mu.Unlock()
	s.Reload(context.Background())

	assert.Len(t, s.Segments(), 1)
	assert.Equal(t, 2.0, s.Statistics().Quality.Max)
	assert.Nil(t, s.Selection(), "reload closes the detail view")
	assert.Equal(t, zoom, surface.Zoom(), "viewport kept")
}

type loaderFunc func(ctx context.Context) []RoadSegment

func (f loaderFunc) LoadAll(ctx context.Context) []RoadSegment { return f(ctx) }

// ----------------------------------------------------------------------------
// Viewport and modes
// ----------------------------------------------------------------------------

func TestMapSession_ViewChangeRerenders(t *testing.T) {
	var renders []RenderSummary
	s, surface := loadSession(t, testDataset(), WithRenderObserver(func(id string, r RenderSummary) {
		renders = append(renders, r)
	}))
	before := len(renders)

	require.NoError(t, s.SetView(pointA, 18))
	assert.Greater(t, len(renders), before)
	assert.Equal(t, 18, s.LastRender().Zoom)
	assert.Equal(t, 18, s.View().Zoom)
	assert.Equal(t, 2, surface.LayerCount(LayerSegments))

	// Polylines widen with zoom.
	for _, p := range surface.Scene() {
		assert.Equal(t, LineWeight(18), p.LineStyle.Weight)
		assert.Equal(t, LineOpacity(18), p.LineStyle.Opacity)
	}
}

func TestMapSession_ClustersAtLowZoom(t *testing.T) {
	near := []RoadSegment{
		segmentAt(1, -12.000, -77.000, 3, 100),
		segmentAt(2, -12.0005, -77.0005, 5, 100),
		segmentAt(3, -12.001, -77.001, 7, 200),
	}
	s, surface := loadSession(t, near)
	require.NoError(t, s.SetView(orb.Point{-77.0005, -12.0005}, 17))

	last := s.LastRender()
	assert.Equal(t, 1, last.Drawn)
	assert.Equal(t, 1, last.Clusters)

	scene := surface.Scene()
	require.Len(t, scene, 1)
	assert.Equal(t, ClusterLineWeight(17, true), scene[0].LineStyle.Weight)
	assert.Equal(t, ColorForQuality(5.5, 3, 7), scene[0].LineStyle.Color)
}

func TestMapSession_ModeSwitchClearsSegmentsFirst(t *testing.T) {
	s, surface := loadSession(t, testDataset())
	require.NoError(t, s.SetView(pointA, 18))
	require.Equal(t, 2, surface.LayerCount(LayerSegments))

	var ops []string
	surface.Trace = func(op string, layer LayerID) {
		ops = append(ops, op+":"+string(layer))
	}

	summary := s.SetMode(ModeHoles)
	assert.Equal(t, ModeHoles, summary.Mode)
	assert.Equal(t, HoleViewCircles, summary.HoleView)
	assert.Equal(t, 3, summary.Drawn)

	require.NotEmpty(t, ops)
	assert.Equal(t, "clear:segments", ops[0])
	for _, op := range ops[1:] {
		if op == "polyline:segments" {
			t.Errorf("segment drawn after the mode switch: %v", ops)
		}
	}
	assert.Equal(t, 0, surface.LayerCount(LayerSegments))
	assert.Equal(t, 3, surface.LayerCount(LayerHoles))

	s.SetMode(ModeSegments)
	assert.Equal(t, 0, surface.LayerCount(LayerHoles))
	assert.Equal(t, 2, surface.LayerCount(LayerSegments))
}

func TestMapSession_SceneSnapshotIsNeverTorn(t *testing.T) {
	s, _ := loadSession(t, testDataset())
	require.NoError(t, s.SetView(pointA, 18))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.SetMode(ModeHoles)
			s.SetMode(ModeSegments)
		}
	}()

	for i := 0; i < 200; i++ {
		snap := s.SceneSnapshot()
		require.NotNil(t, snap)
		segs, holes := snap.LayerCount(LayerSegments), snap.LayerCount(LayerHoles)
		if !(segs == 2 && holes == 0) && !(segs == 0 && holes == 3) {
			t.Fatalf("snapshot caught a partial render: segments=%d holes=%d", segs, holes)
		}
	}
	<-done

	assert.Nil(t, NewMapSession(passiveSurface{NewHeadlessSurface(10, 10)}, StaticLoader{}).SceneSnapshot())
}

func TestMapSession_DefectCirclesHiddenAtLowZoom(t *testing.T) {
	s, surface := loadSession(t, testDataset())
	s.SetMode(ModeHoles)
	require.NoError(t, s.SetView(pointA, 9))

	assert.Equal(t, 0, s.LastRender().Drawn)
	assert.Equal(t, 0, surface.LayerCount(LayerHoles))
}

func TestMapSession_DefectClusterLabels(t *testing.T) {
	seg := segmentAt(1, -12.0, -77.0, 3, 1000)
	for i := 0; i < 16; i++ {
		seg.Defects = append(seg.Defects, Defect{Lat: -12.0 + float64(i)*0.0001, Lon: -77.0, Magnitude: 2})
	}
	s, surface := loadSession(t, []RoadSegment{seg})
	s.SetMode(ModeHoles)

	// Zoom 12 keeps every 4th defect and clusters within 0.006 degrees.
	require.NoError(t, s.SetView(orb.Point{-77.0, -12.0}, 12))
	last := s.LastRender()
	assert.Equal(t, 1, last.Drawn)
	assert.Equal(t, 1, last.Clusters)
	assert.Equal(t, 1, last.Labels)

	scene := surface.Scene()
	require.Len(t, scene, 2)
	marker, label := scene[0], scene[1]
	assert.Equal(t, KindMarker, marker.Kind)
	assert.Equal(t, GroupedMarkerRadius(4), marker.MarkerStyle.Radius)
	assert.Equal(t, markerBorderGrouped, marker.MarkerStyle.Border)
	assert.Equal(t, KindLabel, label.Kind)
	assert.Equal(t, "4", label.Text)

	// Zoom 10 still clusters but draws no badge.
	require.NoError(t, s.SetView(orb.Point{-77.0, -12.0}, 10))
	last = s.LastRender()
	assert.Equal(t, 1, last.Clusters)
	assert.Equal(t, 0, last.Labels)
}

func TestMapSession_SegmentHoleView(t *testing.T) {
	s, surface := loadSession(t, testDataset())
	require.NoError(t, s.SetView(pointA, 18))
	s.SetMode(ModeHoles)

	summary := s.SetHoleView(HoleViewSegments)
	assert.Equal(t, HoleViewSegments, summary.HoleView)
	assert.Equal(t, 2, summary.Drawn)
	assert.Equal(t, 2, surface.LayerCount(LayerHoles))
	assert.Equal(t, 0, surface.LayerCount(LayerSegments))

	for _, p := range surface.Scene() {
		assert.Equal(t, KindPolyline, p.Kind)
	}

	sel, err := s.Click(pointAMid)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, SelectSegmentHoles, sel.Kind)
	require.NotNil(t, sel.Detail.Holes)
	assert.Equal(t, 2, sel.Detail.Holes.Count)
	assert.Equal(t, PriorityHigh, sel.Detail.Holes.Priority)
	assert.True(t, sel.Detail.Holes.HighSeverityWarning)
}

func TestMapSession_SelectTileProvider(t *testing.T) {
	s, surface := loadSession(t, testDataset())

	p := s.SelectTileProvider("terrain")
	assert.Equal(t, "terrain", p.Name)
	assert.Equal(t, "terrain", surface.BaseLayer().Name)
	assert.Equal(t, "terrain", s.View().TileProvider)

	p = s.SelectTileProvider("nope")
	assert.Equal(t, "osm", p.Name)
	assert.Equal(t, "osm", surface.BaseLayer().Name)
}

func TestMapSession_TileProviderClampRerenders(t *testing.T) {
	s, surface := loadSession(t, testDataset())
	require.NoError(t, s.SetView(pointA, 19))

	s.SelectTileProvider("terrain")
	assert.Equal(t, 17, surface.Zoom())
	assert.Equal(t, 17, s.LastRender().Zoom)
}

// ----------------------------------------------------------------------------
// Selection
// ----------------------------------------------------------------------------

func TestMapSession_ClickSelectsAndBackgroundCloses(t *testing.T) {
	var selections []*Selection
	var s *MapSession
	s, _ = loadSession(t, testDataset(), WithSelectionObserver(func(id string, sel *Selection) {
		assert.Equal(t, s.ID, id)
		// The observer runs outside the session lock.
		_ = s.View()
		selections = append(selections, sel)
	}))
	require.NoError(t, s.SetView(pointA, 18))

	sel, err := s.Click(pointAMid)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, SelectSegment, sel.Kind)
	assert.Equal(t, 1, sel.Segment.Numero)
	assert.Equal(t, "Av. Uno", sel.Detail.Title)
	require.NotNil(t, sel.Detail.Quality)
	assert.Equal(t, 2.0, sel.Detail.Quality.IQR)
	assert.Equal(t, QualityFair, sel.Detail.Quality.Label)
	assert.Equal(t, 1, sel.Detail.Quality.Segments)

	v := s.View()
	assert.True(t, v.DetailOpen)
	require.NotNil(t, v.Selection)
	assert.Equal(t, 1, v.Selection.Segment.Numero)

	sel, err = s.Click(nowhere)
	require.NoError(t, err)
	assert.Nil(t, sel)
	assert.False(t, s.View().DetailOpen)
	assert.Nil(t, s.Selection())

	require.Len(t, selections, 2)
	assert.NotNil(t, selections[0])
	assert.Nil(t, selections[1])

	// A background click with nothing open is a no-op.
	_, err = s.Click(nowhere)
	require.NoError(t, err)
	assert.Len(t, selections, 2)
}

func TestMapSession_ClickDefect(t *testing.T) {
	s, _ := loadSession(t, testDataset())
	require.NoError(t, s.SetView(pointA, 18))
	s.SetMode(ModeHoles)

	sel, err := s.Click(pointAEnd)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, SelectDefect, sel.Kind)
	require.NotNil(t, sel.Detail.Defect)
	d := sel.Detail.Defect
	assert.Equal(t, 4.0, d.Magnitude)
	assert.Equal(t, SeverityVerySevere, d.Severity)
	assert.Equal(t, PriorityHigh, d.Priority)
	assert.Equal(t, 1, d.RoadNumero)
	assert.Equal(t, "Av. Uno", d.RoadName)
	assert.Equal(t, 1, d.Count)
}

func TestMapSession_SelectionIsACopy(t *testing.T) {
	s, _ := loadSession(t, testDataset())
	require.NoError(t, s.SetView(pointA, 18))
	_, err := s.Click(pointAMid)
	require.NoError(t, err)

	sel := s.Selection()
	sel.Kind = "changed"
	assert.Equal(t, SelectSegment, s.Selection().Kind)
}

func TestMapSession_CloseDetail(t *testing.T) {
	var calls int
	s, _ := loadSession(t, testDataset(), WithSelectionObserver(func(string, *Selection) { calls++ }))
	require.NoError(t, s.SetView(pointA, 18))
	_, _ = s.Click(pointAMid)

	s.CloseDetail()
	assert.False(t, s.View().DetailOpen)
	assert.Equal(t, 2, calls)

	s.CloseDetail()
	assert.Equal(t, 2, calls, "closing twice notifies once")
}

// ----------------------------------------------------------------------------
// Fullscreen and keys
// ----------------------------------------------------------------------------

func TestMapSession_FullscreenResizesOnce(t *testing.T) {
	sched := &fakeScheduler{}
	s, surface := loadSession(t, testDataset(), WithScheduler(sched.schedule))

	assert.True(t, s.ToggleFullscreen())
	assert.True(t, s.View().Fullscreen)
	assert.Equal(t, 1, sched.count())
	assert.Equal(t, DefaultSettleDelay, sched.delays[0])
	assert.Equal(t, 0, surface.ResizeCount(), "resize waits for the layout to settle")

	sched.runAll()
	assert.Equal(t, 1, surface.ResizeCount())

	assert.False(t, s.ToggleFullscreen())
	sched.runAll()
	assert.Equal(t, 2, surface.ResizeCount())
}

func TestMapSession_SettleDelay(t *testing.T) {
	sched := &fakeScheduler{}
	s, _ := loadSession(t, nil, WithScheduler(sched.schedule), WithSettleDelay(time.Second))
	s.ToggleFullscreen()
	assert.Equal(t, time.Second, sched.delays[0])
}

func TestMapSession_DefaultSchedulerResizes(t *testing.T) {
	s, surface := loadSession(t, nil, WithSettleDelay(time.Millisecond))
	s.ToggleFullscreen()
	assert.Eventually(t, func() bool { return surface.ResizeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMapSession_Escape(t *testing.T) {
	sched := &fakeScheduler{}
	s, _ := loadSession(t, testDataset(), WithScheduler(sched.schedule))
	require.NoError(t, s.SetView(pointA, 18))

	assert.False(t, s.HandleKey("Escape"), "nothing to escape from")
	assert.False(t, s.HandleKey("Enter"))

	s.ToggleFullscreen()
	_, _ = s.Click(pointAMid)
	require.True(t, s.View().DetailOpen)

	assert.True(t, s.HandleKey("Escape"))
	v := s.View()
	assert.False(t, v.Fullscreen)
	assert.True(t, v.DetailOpen, "escape leaves the detail view open")
	assert.Equal(t, 2, sched.count(), "leaving fullscreen schedules a resize")

	assert.False(t, s.HandleKey("Escape"), "escape outside fullscreen is ignored")
	assert.True(t, s.View().DetailOpen)
	assert.Equal(t, 2, sched.count())
}

// ----------------------------------------------------------------------------
// Unmount
// ----------------------------------------------------------------------------

func TestMapSession_Close(t *testing.T) {
	sched := &fakeScheduler{}
	s, surface := loadSession(t, testDataset(), WithScheduler(sched.schedule))
	require.NoError(t, s.SetView(pointA, 18))
	_, _ = s.Click(pointAMid)
	s.ToggleFullscreen()

	s.Close()
	assert.Equal(t, SessionClosed, s.State())
	assert.Equal(t, 0, surface.LayerCount(LayerSegments))
	assert.Equal(t, 0, surface.LayerCount(LayerHoles))
	assert.Nil(t, s.Selection())

	sched.runAll()
	assert.Equal(t, 0, surface.ResizeCount(), "no resize after unmount")

	sel, err := s.Click(pointAMid)
	assert.NoError(t, err)
	assert.Nil(t, sel)

	surface.SetView(pointB, 16)
	assert.Equal(t, 0, surface.LayerCount(LayerSegments), "view events are unsubscribed")

	assert.False(t, s.ToggleFullscreen())
	assert.False(t, s.HandleKey("Escape"))
	s.Close()
}

func TestMapSession_LoadAfterClose(t *testing.T) {
	surface := NewHeadlessSurface(800, 600)
	s := NewMapSession(surface, StaticLoader{Segments: testDataset()})
	s.Close()
	s.Load(context.Background())
	assert.Equal(t, SessionClosed, s.State())
	assert.Equal(t, 0, surface.LayerCount(LayerSegments))
}

// passiveSurface hides the programmatic input methods of a surface.
type passiveSurface struct {
	Surface
}

func TestMapSession_NotInteractive(t *testing.T) {
	s := NewMapSession(passiveSurface{NewHeadlessSurface(100, 100)}, StaticLoader{Segments: testDataset()})
	s.Load(context.Background())

	assert.True(t, errors.Is(s.SetView(pointA, 12), ErrNotInteractive))
	_, err := s.Click(pointA)
	assert.True(t, errors.Is(err, ErrNotInteractive))
}
