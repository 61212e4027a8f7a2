package roadmap

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Zoom levels at and above which aggregation is disabled.
const (
	segmentIdentityZoom = 18
	defectIdentityZoom  = 16
)

// SegmentCluster is a render-time aggregate of nearby segments. A cluster
// with a single member carries that segment unchanged and Grouped is false.
type SegmentCluster struct {
	RoadSegment
	Grouped bool          `json:"isGrouped"`
	Count   int           `json:"segmentCount"`
	Members []RoadSegment `json:"originalSegments,omitempty"`
}

// PooledDefect is a defect in the flat pool used by the defect view, tagged
// with the segment it belongs to.
type PooledDefect struct {
	Defect
	RoadNumero int    `json:"roadSegment"`
	RoadName   string `json:"roadName"`
}

// DefectCluster is a render-time aggregate of nearby defects.
type DefectCluster struct {
	Lat          float64        `json:"latitud"`
	Lon          float64        `json:"longitud"`
	Magnitude    float64        `json:"magnitud"`
	Speed        float64        `json:"velocidad"`
	MinMagnitude float64        `json:"minMagnitud"`
	MaxMagnitude float64        `json:"maxMagnitud"`
	Severity     Severity       `json:"severity"`
	RoadNumero   int            `json:"roadSegment"`
	RoadName     string         `json:"roadName"`
	Grouped      bool           `json:"isGrouped"`
	Count        int            `json:"holeCount"`
	Members      []PooledDefect `json:"originalHoles,omitempty"`
}

// Point returns the cluster centroid.
func (c DefectCluster) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// SegmentThreshold is the clustering radius in degrees for segments.
func SegmentThreshold(zoom int) float64 {
	switch {
	case zoom <= 6:
		return 0.05
	case zoom <= 8:
		return 0.03
	case zoom <= 10:
		return 0.02
	case zoom <= 12:
		return 0.015
	case zoom <= 14:
		return 0.01
	case zoom <= 16:
		return 0.005
	default:
		return 0.002
	}
}

// DefectThreshold is the clustering radius in degrees for defects.
func DefectThreshold(zoom int) float64 {
	switch {
	case zoom <= 10:
		return 0.01
	case zoom <= 12:
		return 0.006
	case zoom <= 14:
		return 0.003
	default:
		return 0.001
	}
}

// greedyGroups runs single-pass seed clustering over points and returns the
// member indices of each group. The first unassigned entity seeds a group and
// absorbs every later unassigned entity within threshold of the seed.
func greedyGroups(points []orb.Point, threshold float64) [][]int {
	assigned := make([]bool, len(points))
	groups := make([][]int, 0, len(points))

	for i := range points {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []int{i}

		for j := i + 1; j < len(points); j++ {
			if assigned[j] {
				continue
			}
			if planar.Distance(points[i], points[j]) <= threshold {
				assigned[j] = true
				group = append(group, j)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// GroupSegments clusters nearby segments for the given zoom. Input order
// decides seeds; at zoom 18 and above every segment passes through.
func GroupSegments(segments []RoadSegment, zoom int) []SegmentCluster {
	if zoom >= segmentIdentityZoom {
		out := make([]SegmentCluster, len(segments))
		for i, s := range segments {
			out[i] = SegmentCluster{RoadSegment: s, Count: 1}
		}
		return out
	}

	points := make([]orb.Point, len(segments))
	for i, s := range segments {
		points[i] = s.Point()
	}

	groups := greedyGroups(points, SegmentThreshold(zoom))
	out := make([]SegmentCluster, 0, len(groups))
	for _, idx := range groups {
		if len(idx) == 1 {
			out = append(out, SegmentCluster{RoadSegment: segments[idx[0]], Count: 1})
			continue
		}

		members := make([]RoadSegment, len(idx))
		for k, i := range idx {
			members[k] = segments[i]
		}
		out = append(out, mergeSegments(members))
	}
	return out
}

// mergeSegments combines members into one cluster. members[0] is the seed.
func mergeSegments(members []RoadSegment) SegmentCluster {
	seed := members[0]

	var totalLength, weighted, plain float64
	for _, m := range members {
		totalLength += m.Length
		weighted += m.IQR * m.Length
		plain += m.IQR
	}
	quality := plain / float64(len(members))
	if totalLength > 0 {
		quality = weighted / totalLength
	}

	ordered := make([]RoadSegment, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i].Point(), ordered[j].Point()
		if pi.Lat() != pj.Lat() {
			return pi.Lat() < pj.Lat()
		}
		return pi.Lon() < pj.Lon()
	})

	var geometry []Vertex
	for _, m := range ordered {
		for _, p := range m.Line() {
			geometry = append(geometry, Vertex{Order: len(geometry), Lat: p.Lat(), Lon: p.Lon()})
		}
	}

	merged := seed
	merged.Names = Names{fmt.Sprintf("%d segments grouped (%.0fm)", len(members), totalLength)}
	merged.Length = totalLength
	merged.IQR = quality
	merged.Geometry = geometry
	merged.Defects = nil
	for _, m := range members {
		merged.Defects = append(merged.Defects, m.Defects...)
	}

	return SegmentCluster{
		RoadSegment: merged,
		Grouped:     true,
		Count:       len(members),
		Members:     members,
	}
}

// PoolDefects flattens the defects of every segment, tagging each with its
// road number and display name.
func PoolDefects(segments []RoadSegment) []PooledDefect {
	var pool []PooledDefect
	for _, s := range segments {
		name := s.Names.String()
		for _, d := range s.Defects {
			pool = append(pool, PooledDefect{Defect: d, RoadNumero: s.Numero, RoadName: name})
		}
	}
	return pool
}

// GroupDefects clusters nearby defects for the given zoom. At zoom 16 and
// above every defect passes through ungrouped.
func GroupDefects(defects []PooledDefect, zoom int) []DefectCluster {
	if zoom >= defectIdentityZoom {
		out := make([]DefectCluster, len(defects))
		for i, d := range defects {
			out[i] = singleDefect(d)
		}
		return out
	}

	points := make([]orb.Point, len(defects))
	for i, d := range defects {
		points[i] = d.Point()
	}

	groups := greedyGroups(points, DefectThreshold(zoom))
	out := make([]DefectCluster, 0, len(groups))
	for _, idx := range groups {
		if len(idx) == 1 {
			out = append(out, singleDefect(defects[idx[0]]))
			continue
		}

		members := make([]PooledDefect, len(idx))
		for k, i := range idx {
			members[k] = defects[i]
		}
		out = append(out, mergeDefects(members))
	}
	return out
}

func singleDefect(d PooledDefect) DefectCluster {
	return DefectCluster{
		Lat:          d.Lat,
		Lon:          d.Lon,
		Magnitude:    d.Magnitude,
		Speed:        d.Speed,
		MinMagnitude: d.Magnitude,
		MaxMagnitude: d.Magnitude,
		Severity:     SeverityLabel(d.Magnitude),
		RoadNumero:   d.RoadNumero,
		RoadName:     d.RoadName,
		Count:        1,
	}
}

// mergeDefects averages members into one cluster. members[0] is the seed.
func mergeDefects(members []PooledDefect) DefectCluster {
	n := float64(len(members))
	var lat, lon, mag, speed float64
	minMag, maxMag := math.Inf(1), math.Inf(-1)
	for _, m := range members {
		lat += m.Lat
		lon += m.Lon
		mag += m.Magnitude
		speed += m.Speed
		minMag = math.Min(minMag, m.Magnitude)
		maxMag = math.Max(maxMag, m.Magnitude)
	}

	avg := mag / n
	return DefectCluster{
		Lat:          lat / n,
		Lon:          lon / n,
		Magnitude:    avg,
		Speed:        speed / n,
		MinMagnitude: minMag,
		MaxMagnitude: maxMag,
		Severity:     SeverityLabel(avg),
		RoadNumero:   members[0].RoadNumero,
		RoadName:     members[0].RoadName,
		Grouped:      true,
		Count:        len(members),
		Members:      members,
	}
}
