package roadmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentHoleInfo(t *testing.T) {
	seg := RoadSegment{
		Names:  Names{"Av. Uno"},
		Length: 1000,
		Defects: []Defect{
			{Magnitude: 1, Speed: 20},
			{Magnitude: 2, Speed: 30},
			{Magnitude: 3.5, Speed: 40},
		},
	}

	info := SegmentHoleInfo(seg)
	assert.Equal(t, 3, info.Count)
	assert.InDelta(t, 6.5/3, info.AvgMagnitude, 1e-9)
	assert.Equal(t, 1.0, info.MinMagnitude)
	assert.Equal(t, 3.5, info.MaxMagnitude)
	assert.Equal(t, 30.0, info.AvgSpeed)
	assert.Equal(t, 3.0, info.DensityPerKm)
	assert.Equal(t, PriorityModerate, info.Priority)
	assert.True(t, info.HighSeverityWarning)
	assert.Equal(t, map[Severity]int{SeverityMild: 1, SeverityModerate: 1, SeveritySevere: 1}, info.Distribution)
	assert.Equal(t, Hex(ColorForClusterRisk(seg)), info.RiskColor)
}

func TestSegmentHoleInfo_Priority(t *testing.T) {
	tests := []struct {
		name    string
		length  float64
		defects int
		want    Priority
	}{
		{"no defects", 1000, 0, PriorityLow},
		{"two per km", 1000, 2, PriorityLow},
		{"three per km", 1000, 3, PriorityModerate},
		{"six per km", 1000, 6, PriorityHigh},
		{"zero length", 0, 6, PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := RoadSegment{Length: tt.length, Defects: defectsOf(tt.defects, 1)}
			assert.Equal(t, tt.want, SegmentHoleInfo(seg).Priority)
		})
	}
}

func TestSegmentHoleInfo_Empty(t *testing.T) {
	info := SegmentHoleInfo(RoadSegment{Length: 500})
	assert.Equal(t, 0, info.Count)
	assert.Equal(t, 0.0, info.DensityPerKm)
	assert.False(t, info.HighSeverityWarning)
	assert.NotNil(t, info.Distribution)
	assert.Equal(t, "#22c55e", info.RiskColor)
}

func TestZonePriority(t *testing.T) {
	tests := []struct {
		name     string
		avg, max float64
		want     Priority
	}{
		{"worst above 3", 1.5, 3.2, PriorityHigh},
		{"average above 2", 2.5, 3.0, PriorityModerate},
		{"mild", 1.5, 2.0, PriorityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := zonePriority(DefectCluster{Magnitude: tt.avg, MaxMagnitude: tt.max})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefectSelection(t *testing.T) {
	single := DefectCluster{Magnitude: 2.5, MaxMagnitude: 2.5, MinMagnitude: 2.5, Count: 1, RoadName: "Av. Dos", RoadNumero: 2}
	sel := defectSelection(single)
	assert.Equal(t, SelectDefect, sel.Kind)
	assert.Equal(t, "Av. Dos", sel.Detail.Title)
	assert.Equal(t, PriorityModerate, sel.Detail.Defect.Priority)
	assert.Equal(t, 2, sel.Detail.Defect.RoadNumero)

	grouped := DefectCluster{Magnitude: 3, MaxMagnitude: 4, MinMagnitude: 2, Count: 3, Grouped: true}
	sel = defectSelection(grouped)
	assert.Equal(t, SelectDefectCluster, sel.Kind)
	assert.Equal(t, 3, sel.Detail.Defect.Count)
	assert.Equal(t, 2.0, sel.Detail.Defect.Min)
	assert.Equal(t, 4.0, sel.Detail.Defect.Max)
	assert.Equal(t, PriorityHigh, sel.Detail.Defect.Priority)
}

func TestSegmentSelection(t *testing.T) {
	c := SegmentCluster{
		RoadSegment: RoadSegment{Names: Names{"Av. Uno", "Av. Dos"}, IQR: 4.5, Length: 400},
		Grouped:     true,
		Count:       2,
	}
	stats := GlobalStatistics{Quality: Summary{Min: 1, Max: 9}}

	sel := segmentSelection(c, stats)
	assert.Equal(t, SelectSegment, sel.Kind)
	assert.Equal(t, c.Names.String(), sel.Detail.Title)
	assert.Equal(t, QualityVeryGood, sel.Detail.Quality.Label)
	assert.Equal(t, Hex(ColorForQuality(4.5, 1, 9)), sel.Detail.Quality.Color)
	assert.True(t, sel.Detail.Quality.Grouped)
	assert.Equal(t, 2, sel.Detail.Quality.Segments)
	assert.Nil(t, sel.Detail.Holes)
}
