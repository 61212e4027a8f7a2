package roadmap

import "math"

// Below this zoom the defect circle view draws nothing.
const minDefectCircleZoom = 10

// Cluster count badges appear from this zoom on.
const minClusterLabelZoom = 11

// groupedWeightBonus widens cluster polylines.
const groupedWeightBonus = 4

// SegmentSampleStep returns N such that every Nth segment is kept.
func SegmentSampleStep(zoom int) int {
	switch {
	case zoom <= 4:
		return 50
	case zoom <= 6:
		return 25
	case zoom <= 8:
		return 15
	case zoom <= 10:
		return 10
	case zoom <= 12:
		return 5
	case zoom <= 14:
		return 3
	case zoom <= 16:
		return 2
	default:
		return 1
	}
}

// DefectSampleStep returns N such that every Nth pooled defect is kept in
// the circle view.
func DefectSampleStep(zoom int) int {
	switch {
	case zoom < 12:
		return 8
	case zoom < 14:
		return 4
	case zoom < 16:
		return 2
	default:
		return 1
	}
}

// SampleSegments keeps entries whose position is a multiple of the zoom's
// step, preserving input order.
func SampleSegments(segments []RoadSegment, zoom int) []RoadSegment {
	return sampleEvery(segments, SegmentSampleStep(zoom))
}

// SampleDefects applies the circle view sampling to the flat defect pool.
func SampleDefects(defects []PooledDefect, zoom int) []PooledDefect {
	return sampleEvery(defects, DefectSampleStep(zoom))
}

func sampleEvery[T any](items []T, step int) []T {
	if step <= 1 {
		return items
	}
	out := make([]T, 0, len(items)/step+1)
	for i := 0; i < len(items); i += step {
		out = append(out, items[i])
	}
	return out
}

// DefectsVisible reports whether the circle view draws anything at zoom.
func DefectsVisible(zoom int) bool {
	return zoom >= minDefectCircleZoom
}

// LineWeight is the polyline stroke width in pixels for zoom.
func LineWeight(zoom int) float64 {
	switch {
	case zoom <= 4:
		return 2
	case zoom <= 6:
		return 3
	case zoom <= 8:
		return 4
	case zoom <= 10:
		return 6
	case zoom <= 12:
		return 8
	case zoom <= 14:
		return 12
	case zoom <= 16:
		return 16
	case zoom <= 18:
		return 20
	default:
		return 24
	}
}

// ClusterLineWeight is LineWeight widened for grouped segments.
func ClusterLineWeight(zoom int, grouped bool) float64 {
	if grouped {
		return LineWeight(zoom) + groupedWeightBonus
	}
	return LineWeight(zoom)
}

// LineOpacity is the polyline opacity for zoom.
func LineOpacity(zoom int) float64 {
	switch {
	case zoom <= 4:
		return 1.0
	case zoom <= 6:
		return 0.95
	case zoom <= 8:
		return 0.9
	case zoom <= 10:
		return 0.85
	case zoom <= 12:
		return 0.8
	case zoom <= 14:
		return 0.75
	case zoom <= 16:
		return 0.7
	default:
		return 0.65
	}
}

// ShowClusterLabel reports whether a defect marker gets a count badge.
func ShowClusterLabel(grouped bool, zoom int) bool {
	return grouped && zoom >= minClusterLabelZoom
}

// LabelFontSize sizes a count badge for a marker of the given radius.
func LabelFontSize(radius float64) float64 {
	return math.Max(math.Min(radius*0.8, 16), 10)
}
