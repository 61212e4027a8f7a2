package roadmap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
)

// RoadSegment is a normalized road segment as consumed by the map pipeline.
// JSON tags follow the export format of the road-quality backend.
type RoadSegment struct {
	Numero      int      `json:"numero"`
	ID          int      `json:"id"`
	Names       Names    `json:"nombre"`
	Length      float64  `json:"longitud"` // meters
	Kind        string   `json:"tipo"`
	OriginLat   float64  `json:"latitud_origen"`
	DestLat     float64  `json:"latitud_destino"`
	OriginLon   float64  `json:"longitud_origen"`
	DestLon     float64  `json:"longitud_destino"`
	Geometry    []Vertex `json:"geometria"`
	Date        string   `json:"fecha"`
	IQR         float64  `json:"IQR"`
	IRI         float64  `json:"iri"`
	IRIModified float64  `json:"IRI_modificado"`
	AZ          float64  `json:"az"`
	AX          float64  `json:"ax"`
	WX          float64  `json:"wx"`
	Defects     []Defect `json:"huecos"`
}

// Vertex is one ordered polyline point of a segment.
type Vertex struct {
	Order int     `json:"orden"`
	Lat   float64 `json:"latitud"`
	Lon   float64 `json:"longitud"`
}

// Defect is a detected pavement anomaly ("hueco").
type Defect struct {
	Lat       float64 `json:"latitud"`
	Lon       float64 `json:"longitud"`
	Magnitude float64 `json:"magnitud"`
	Speed     float64 `json:"velocidad"`
}

// Point returns the defect location as an orb point (lon, lat).
func (d Defect) Point() orb.Point {
	return orb.Point{d.Lon, d.Lat}
}

// Names holds one or more display names. The wire format accepts either a
// single string or an array of strings.
type Names []string

// UnmarshalJSON accepts "name", ["a", "b"] or null.
func (n *Names) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*n = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*n = nil
		} else {
			*n = Names{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("nombre must be a string or array of strings: %w", err)
	}
	*n = Names(many)
	return nil
}

// MarshalJSON writes a single name as a plain string.
func (n Names) MarshalJSON() ([]byte, error) {
	switch len(n) {
	case 0:
		return []byte(`""`), nil
	case 1:
		return json.Marshal(n[0])
	default:
		return json.Marshal([]string(n))
	}
}

// String joins multiple names for display.
func (n Names) String() string {
	return strings.Join(n, " / ")
}

// Point returns the representative point used for clustering: the first
// polyline vertex, or the origin coordinate when the polyline is empty.
func (s RoadSegment) Point() orb.Point {
	if len(s.Geometry) > 0 {
		return orb.Point{s.Geometry[0].Lon, s.Geometry[0].Lat}
	}
	return orb.Point{s.OriginLon, s.OriginLat}
}

// Line returns the polyline in draw order. The segment itself is not modified.
func (s RoadSegment) Line() orb.LineString {
	vertices := make([]Vertex, len(s.Geometry))
	copy(vertices, s.Geometry)
	sort.SliceStable(vertices, func(i, j int) bool {
		return vertices[i].Order < vertices[j].Order
	})

	line := make(orb.LineString, len(vertices))
	for i, v := range vertices {
		line[i] = orb.Point{v.Lon, v.Lat}
	}
	return line
}

// Renderable reports whether the segment has enough points to draw.
func (s RoadSegment) Renderable() bool {
	return len(s.Geometry) >= 2
}

// Mode is the analysis mode of a map view.
type Mode string

const (
	ModeSegments Mode = "segments"
	ModeHoles    Mode = "holes"
)

// HoleView is the defect visualization sub-mode.
type HoleView string

const (
	HoleViewCircles  HoleView = "circles"
	HoleViewSegments HoleView = "segments"
)

// ParseMode validates an analysis mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSegments:
		return ModeSegments, nil
	case ModeHoles:
		return ModeHoles, nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrInvalidMode, s)
}

// ParseHoleView validates a defect sub-mode name.
func ParseHoleView(s string) (HoleView, error) {
	switch HoleView(strings.ToLower(strings.TrimSpace(s))) {
	case HoleViewCircles:
		return HoleViewCircles, nil
	case HoleViewSegments:
		return HoleViewSegments, nil
	}
	return "", fmt.Errorf("%w: hole view %q", ErrInvalidMode, s)
}

// DatasetBounds returns the bounding box of every polyline vertex, and false
// when the dataset has no geometry at all.
func DatasetBounds(segments []RoadSegment) (orb.Bound, bool) {
	var bound orb.Bound
	found := false
	for _, s := range segments {
		for _, v := range s.Geometry {
			p := orb.Point{v.Lon, v.Lat}
			if !found {
				bound = orb.Bound{Min: p, Max: p}
				found = true
				continue
			}
			bound = bound.Extend(p)
		}
	}
	return bound, found
}
