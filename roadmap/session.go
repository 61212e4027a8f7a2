package roadmap

import (
	"context"
	"errors"
	"image/color"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// DefaultSettleDelay is how long a fullscreen toggle waits for the layout to
// settle before asking the surface to re-measure.
const DefaultSettleDelay = 100 * time.Millisecond

// ErrNotInteractive is returned when a session is driven through a surface
// that cannot accept programmatic view changes or clicks.
var ErrNotInteractive = errors.New("surface does not accept programmatic input")

var (
	markerBorderGrouped = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	markerBorderSingle  = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	labelText           = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Loader supplies the dataset of a session. LoadAll must not fail: loaders
// absorb their own errors and fall back to whatever data they have.
type Loader interface {
	LoadAll(ctx context.Context) []RoadSegment
}

// Interactive is implemented by surfaces that can be driven directly, such
// as HeadlessSurface.
type Interactive interface {
	SetView(center orb.Point, zoom int)
	ClickAt(p orb.Point) *Event
}

// SessionState is the lifecycle state of a map session.
type SessionState string

const (
	SessionLoading SessionState = "loading"
	SessionReady   SessionState = "ready"
	SessionClosed  SessionState = "closed"
)

// ViewState is the mutable view of one mounted map.
type ViewState struct {
	Zoom         int        `json:"zoom"`
	Mode         Mode       `json:"mode"`
	HoleView     HoleView   `json:"holeView"`
	Selection    *Selection `json:"selection,omitempty"`
	DetailOpen   bool       `json:"detailOpen"`
	Fullscreen   bool       `json:"fullscreen"`
	TileProvider string     `json:"tileProvider"`
}

// RenderSummary describes one render pass.
type RenderSummary struct {
	Mode     Mode     `json:"mode"`
	HoleView HoleView `json:"holeView,omitempty"`
	Zoom     int      `json:"zoom"`
	Drawn    int      `json:"drawn"`
	Clusters int      `json:"clusters"`
	Labels   int      `json:"labels"`
	Skipped  int      `json:"skipped"`
}

// SessionOption configures a MapSession.
type SessionOption func(*MapSession)

// WithScheduler replaces time.AfterFunc for delayed work such as the
// fullscreen resize.
func WithScheduler(fn func(d time.Duration, f func())) SessionOption {
	return func(s *MapSession) { s.schedule = fn }
}

// WithSettleDelay sets the fullscreen layout settle delay.
func WithSettleDelay(d time.Duration) SessionOption {
	return func(s *MapSession) { s.settle = d }
}

// WithInitialTileProvider sets the base layer installed by Load.
func WithInitialTileProvider(name string) SessionOption {
	return func(s *MapSession) { s.view.TileProvider = name }
}

// WithSelectionObserver is called after every selection change, outside the
// session lock.
func WithSelectionObserver(fn func(sessionID string, sel *Selection)) SessionOption {
	return func(s *MapSession) { s.onSelect = fn }
}

// WithRenderObserver is called after every render pass, outside the session
// lock.
func WithRenderObserver(fn func(sessionID string, summary RenderSummary)) SessionOption {
	return func(s *MapSession) { s.onRender = fn }
}

// MapSession owns the view state of one mounted map and drives its surface.
//
// All methods serialize on one mutex, which plays the role of the UI event
// loop. Surfaces must fire their zoom, move and click handlers synchronously
// from the call that caused them; the handlers run inside that loop.
type MapSession struct {
	ID string

	mu       sync.Mutex
	surface  Surface
	loader   Loader
	state    SessionState
	segments []RoadSegment
	stats    GlobalStatistics
	view     ViewState
	last     RenderSummary
	pending  []func()

	schedule func(d time.Duration, f func())
	settle   time.Duration
	onSelect func(string, *Selection)
	onRender func(string, RenderSummary)
}

// NewMapSession creates an unloaded session bound to surface.
func NewMapSession(surface Surface, loader Loader, opts ...SessionOption) *MapSession {
	s := &MapSession{
		ID:      uuid.NewString(),
		surface: surface,
		loader:  loader,
		state:   SessionLoading,
		view: ViewState{
			Mode:         ModeSegments,
			HoleView:     HoleViewCircles,
			TileProvider: DefaultTileProvider,
		},
		settle: DefaultSettleDelay,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MapSession) lock() {
	s.mu.Lock()
}

// unlock releases the loop and then runs observer callbacks queued while it
// was held.
func (s *MapSession) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Load fetches the dataset, computes global statistics, fits the viewport to
// the data and renders the active mode.
func (s *MapSession) Load(ctx context.Context) {
	segments := s.loader.LoadAll(ctx)

	s.lock()
	defer s.unlock()
	if s.state == SessionClosed {
		return
	}

	s.installLocked(segments)

	p, ok := LookupTileProvider(s.view.TileProvider)
	if !ok {
		Logf("[SESSION] Warning: unknown tile provider %q, using %s", s.view.TileProvider, p.Name)
	}
	s.view.TileProvider = p.Name
	s.surface.SetBaseLayer(p)

	if b, ok := DatasetBounds(s.segments); ok {
		s.surface.FitBounds(b)
	}

	s.surface.OnZoomEnd(s.viewChangedLocked)
	s.surface.OnMoveEnd(s.viewChangedLocked)
	s.surface.OnClick(s.backgroundClickLocked)

	s.state = SessionReady
	Logf("[SESSION] %s ready: %d segments, quality %.3f..%.3f, magnitude %.3f..%.3f",
		s.ID, len(s.segments), s.stats.Quality.Min, s.stats.Quality.Max,
		s.stats.Magnitude.Min, s.stats.Magnitude.Max)
	s.renderLocked()
}

// Reload replaces the dataset, recomputes statistics and re-renders. The
// viewport is kept.
func (s *MapSession) Reload(ctx context.Context) {
	segments := s.loader.LoadAll(ctx)

	s.lock()
	defer s.unlock()
	if s.state != SessionReady {
		return
	}
	s.installLocked(segments)
	s.closeDetailLocked()
	Logf("[SESSION] %s reloaded: %d segments", s.ID, len(s.segments))
	s.renderLocked()
}

func (s *MapSession) installLocked(segments []RoadSegment) {
	s.segments = segments
	s.stats = ComputeStatistics(segments)
}

// Render re-runs the pipeline for the active mode.
func (s *MapSession) Render() RenderSummary {
	s.lock()
	defer s.unlock()
	return s.renderLocked()
}

func (s *MapSession) viewChangedLocked() {
	s.renderLocked()
}

func (s *MapSession) renderLocked() RenderSummary {
	zoom := s.surface.Zoom()
	s.view.Zoom = zoom
	summary := RenderSummary{Mode: s.view.Mode, Zoom: zoom}
	if s.state != SessionReady {
		return summary
	}

	switch s.view.Mode {
	case ModeHoles:
		summary.HoleView = s.view.HoleView
		s.surface.ClearLayer(LayerSegments)
		s.surface.ClearLayer(LayerHoles)
		if s.view.HoleView == HoleViewSegments {
			s.drawSegmentHolesLocked(zoom, &summary)
		} else {
			s.drawDefectsLocked(zoom, &summary)
		}
	default:
		s.surface.ClearLayer(LayerHoles)
		s.surface.ClearLayer(LayerSegments)
		s.drawSegmentsLocked(zoom, &summary)
	}

	s.last = summary
	if s.onRender != nil {
		id, fn := s.ID, s.onRender
		s.pending = append(s.pending, func() { fn(id, summary) })
	}
	return summary
}

func (s *MapSession) drawSegmentsLocked(zoom int, summary *RenderSummary) {
	clusters := GroupSegments(SampleSegments(s.segments, zoom), zoom)
	opacity := LineOpacity(zoom)

	for _, c := range clusters {
		if !c.Renderable() {
			summary.Skipped++
			continue
		}
		style := LineStyle{
			Color:   ColorForQuality(c.IQR, s.stats.Quality.Min, s.stats.Quality.Max),
			Weight:  ClusterLineWeight(zoom, c.Grouped),
			Opacity: opacity,
		}
		sel := segmentSelection(c, s.stats)
		s.surface.DrawPolyline(LayerSegments, c.Line(), style, s.selectHandler(sel))
		summary.Drawn++
		if c.Grouped {
			summary.Clusters++
		}
	}
}

func (s *MapSession) drawSegmentHolesLocked(zoom int, summary *RenderSummary) {
	weight, opacity := LineWeight(zoom), LineOpacity(zoom)

	for _, seg := range SampleSegments(s.segments, zoom) {
		if !seg.Renderable() {
			summary.Skipped++
			continue
		}
		style := LineStyle{
			Color:   ColorForClusterRisk(seg),
			Weight:  weight,
			Opacity: opacity,
		}
		s.surface.DrawPolyline(LayerHoles, seg.Line(), style, s.selectHandler(segmentHolesSelection(seg)))
		summary.Drawn++
	}
}

func (s *MapSession) drawDefectsLocked(zoom int, summary *RenderSummary) {
	if !DefectsVisible(zoom) {
		return
	}
	mag := s.stats.Magnitude
	clusters := GroupDefects(SampleDefects(PoolDefects(s.segments), zoom), zoom)

	for _, c := range clusters {
		style := MarkerStyle{
			Radius:       SizeForSeverity(c.Magnitude, mag.Min, mag.Max),
			Fill:         ColorForSeverity(c.Magnitude, mag.Min, mag.Max),
			Border:       markerBorderSingle,
			BorderWeight: 2,
			Opacity:      0.9,
			FillOpacity:  0.6,
		}
		if c.Grouped {
			style.Radius = GroupedMarkerRadius(c.Count)
			style.Border = markerBorderGrouped
			style.BorderWeight = 3
			style.FillOpacity = 0.8
			summary.Clusters++
		}

		onClick := s.selectHandler(defectSelection(c))
		s.surface.DrawCircleMarker(LayerHoles, c.Point(), style, onClick)
		summary.Drawn++

		if ShowClusterLabel(c.Grouped, zoom) {
			label := LabelStyle{
				FontSize: LabelFontSize(style.Radius),
				Box:      style.Radius * 2,
				Color:    labelText,
			}
			s.surface.DrawLabel(LayerHoles, c.Point(), strconv.Itoa(c.Count), label, onClick)
			summary.Labels++
		}
	}
}

// selectHandler builds the click handler of one drawn primitive.
func (s *MapSession) selectHandler(sel Selection) ClickHandler {
	return func(e *Event) {
		e.StopPropagation()
		s.selectLocked(sel)
	}
}

func (s *MapSession) selectLocked(sel Selection) {
	s.view.Selection = &sel
	s.view.DetailOpen = true
	s.notifySelectionLocked()
}

func (s *MapSession) backgroundClickLocked(*Event) {
	if s.view.DetailOpen {
		s.closeDetailLocked()
	}
}

func (s *MapSession) closeDetailLocked() {
	if s.view.Selection == nil && !s.view.DetailOpen {
		return
	}
	s.view.Selection = nil
	s.view.DetailOpen = false
	s.notifySelectionLocked()
}

func (s *MapSession) notifySelectionLocked() {
	if s.onSelect == nil {
		return
	}
	id, fn := s.ID, s.onSelect
	var sel *Selection
	if s.view.Selection != nil {
		copied := *s.view.Selection
		sel = &copied
	}
	s.pending = append(s.pending, func() { fn(id, sel) })
}

// SetMode switches the analysis mode and re-renders.
func (s *MapSession) SetMode(mode Mode) RenderSummary {
	s.lock()
	defer s.unlock()
	s.view.Mode = mode
	return s.renderLocked()
}

// SetHoleView switches the defect sub-mode and re-renders.
func (s *MapSession) SetHoleView(view HoleView) RenderSummary {
	s.lock()
	defer s.unlock()
	s.view.HoleView = view
	return s.renderLocked()
}

// SetView moves the viewport. The surface's view events trigger the render.
func (s *MapSession) SetView(center orb.Point, zoom int) error {
	in, ok := s.surface.(Interactive)
	if !ok {
		return ErrNotInteractive
	}
	s.lock()
	defer s.unlock()
	if s.state == SessionClosed {
		return nil
	}
	in.SetView(center, zoom)
	return nil
}

// Click delivers a pointer click at p and returns the resulting selection,
// or nil when no detail is open afterwards.
func (s *MapSession) Click(p orb.Point) (*Selection, error) {
	in, ok := s.surface.(Interactive)
	if !ok {
		return nil, ErrNotInteractive
	}
	s.lock()
	defer s.unlock()
	if s.state != SessionReady {
		return nil, nil
	}
	in.ClickAt(p)
	return s.selectionLocked(), nil
}

// SelectTileProvider swaps the base layer. Unknown names fall back to the
// street preset.
func (s *MapSession) SelectTileProvider(name string) TileProvider {
	s.lock()
	defer s.unlock()
	p, ok := LookupTileProvider(name)
	if !ok {
		Logf("[SESSION] Warning: unknown tile provider %q, using %s", name, p.Name)
	}
	if s.state == SessionClosed {
		return p
	}
	s.view.TileProvider = p.Name
	s.surface.SetBaseLayer(p)
	return p
}

// Selection returns the selected entity, or nil.
func (s *MapSession) Selection() *Selection {
	s.lock()
	defer s.unlock()
	return s.selectionLocked()
}

func (s *MapSession) selectionLocked() *Selection {
	if s.view.Selection == nil {
		return nil
	}
	sel := *s.view.Selection
	return &sel
}

// CloseDetail clears the selection and closes the detail view.
func (s *MapSession) CloseDetail() {
	s.lock()
	defer s.unlock()
	s.closeDetailLocked()
}

// ToggleFullscreen flips fullscreen and requests exactly one surface resize
// once the layout has settled.
func (s *MapSession) ToggleFullscreen() bool {
	s.lock()
	defer s.unlock()
	if s.state == SessionClosed {
		return false
	}
	s.setFullscreenLocked(!s.view.Fullscreen)
	return s.view.Fullscreen
}

func (s *MapSession) setFullscreenLocked(on bool) {
	s.view.Fullscreen = on
	s.schedule(s.settle, func() {
		s.lock()
		defer s.unlock()
		if s.state == SessionClosed {
			return
		}
		s.surface.InvalidateSize()
	})
}

// HandleKey handles a keyboard key. Escape exits fullscreen; an open detail
// view stays open and closes only on a background click or CloseDetail. It
// reports whether the key was consumed.
func (s *MapSession) HandleKey(key string) bool {
	if key != "Escape" {
		return false
	}
	s.lock()
	defer s.unlock()
	if s.state == SessionClosed || !s.view.Fullscreen {
		return false
	}
	s.setFullscreenLocked(false)
	return true
}

// Close unmounts the session: overlays are cleared, subscriptions dropped
// and later events are ignored.
func (s *MapSession) Close() {
	s.lock()
	defer s.unlock()
	if s.state == SessionClosed {
		return
	}
	s.surface.Off()
	s.surface.ClearLayer(LayerSegments)
	s.surface.ClearLayer(LayerHoles)
	s.state = SessionClosed
	s.view.Selection = nil
	s.view.DetailOpen = false
}

// State returns the lifecycle state.
func (s *MapSession) State() SessionState {
	s.lock()
	defer s.unlock()
	return s.state
}

// View returns a copy of the view state.
func (s *MapSession) View() ViewState {
	s.lock()
	defer s.unlock()
	v := s.view
	v.Selection = s.selectionLocked()
	return v
}

// Statistics returns the statistics of the loaded dataset.
func (s *MapSession) Statistics() GlobalStatistics {
	s.lock()
	defer s.unlock()
	return s.stats
}

// Segments returns the loaded dataset. The slice must not be modified.
func (s *MapSession) Segments() []RoadSegment {
	s.lock()
	defer s.unlock()
	return s.segments
}

// LastRender returns the summary of the most recent render pass.
func (s *MapSession) LastRender() RenderSummary {
	s.lock()
	defer s.unlock()
	return s.last
}

// SceneSnapshot copies a headless surface between render passes, so readers
// never see a half-drawn scene. It returns nil for other surfaces.
func (s *MapSession) SceneSnapshot() *HeadlessSurface {
	hs, ok := s.surface.(*HeadlessSurface)
	if !ok {
		return nil
	}
	s.lock()
	defer s.unlock()
	return hs.Snapshot()
}

// Surface returns the surface the session draws on.
func (s *MapSession) Surface() Surface {
	return s.surface
}
