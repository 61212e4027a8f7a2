package roadmap

// SelectionKind identifies what a click selected.
type SelectionKind string

const (
	SelectSegment       SelectionKind = "segment"
	SelectSegmentHoles  SelectionKind = "segment-holes"
	SelectDefect        SelectionKind = "defect"
	SelectDefectCluster SelectionKind = "defect-cluster"
)

// Priority is a maintenance urgency derived from defect density or severity.
type Priority string

const (
	PriorityHigh     Priority = "high"
	PriorityModerate Priority = "moderate"
	PriorityLow      Priority = "low"
)

// Selection is the entity shown in the detail panel.
type Selection struct {
	Kind    SelectionKind   `json:"kind"`
	Segment *SegmentCluster `json:"segment,omitempty"`
	Defect  *DefectCluster  `json:"defect,omitempty"`
	Detail  Detail          `json:"detail"`
}

// Detail is the derived content of the detail panel.
type Detail struct {
	Title   string         `json:"title"`
	Quality *QualityDetail `json:"quality,omitempty"`
	Holes   *HoleInfo      `json:"holes,omitempty"`
	Defect  *DefectDetail  `json:"defect,omitempty"`
}

// QualityDetail describes a segment or segment cluster.
type QualityDetail struct {
	IQR      float64 `json:"iqr"`
	Label    Quality `json:"label"`
	Color    string  `json:"color"`
	LengthM  float64 `json:"lengthM"`
	IRI      float64 `json:"iri"`
	Date     string  `json:"date,omitempty"`
	Kind     string  `json:"kind,omitempty"`
	Grouped  bool    `json:"grouped"`
	Segments int     `json:"segments"`
}

// HoleInfo summarizes the defects of one segment.
type HoleInfo struct {
	Count               int              `json:"holeCount"`
	AvgMagnitude        float64          `json:"avgMagnitude"`
	MaxMagnitude        float64          `json:"maxMagnitude"`
	MinMagnitude        float64          `json:"minMagnitude"`
	Distribution        map[Severity]int `json:"severityDistribution"`
	DensityPerKm        float64          `json:"density"`
	AvgSpeed            float64          `json:"avgVelocity"`
	RiskColor           string           `json:"riskColor"`
	Priority            Priority         `json:"priority"`
	HighSeverityWarning bool             `json:"highSeverityWarning"`
}

// DefectDetail describes a single defect or a defect cluster.
type DefectDetail struct {
	Magnitude  float64  `json:"magnitude"`
	Speed      float64  `json:"speed"`
	Severity   Severity `json:"severity"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	RoadNumero int      `json:"roadSegment"`
	RoadName   string   `json:"roadName"`
	Count      int      `json:"holeCount"`
	Min        float64  `json:"minMagnitude"`
	Max        float64  `json:"maxMagnitude"`
	Priority   Priority `json:"priority"`
}

// SegmentHoleInfo summarizes the defects attached to a segment.
func SegmentHoleInfo(s RoadSegment) HoleInfo {
	info := HoleInfo{
		Distribution: make(map[Severity]int),
		RiskColor:    Hex(ColorForClusterRisk(s)),
		Priority:     PriorityLow,
	}
	if len(s.Defects) == 0 {
		return info
	}

	var magSum, speedSum float64
	info.MinMagnitude = s.Defects[0].Magnitude
	info.MaxMagnitude = s.Defects[0].Magnitude
	for _, d := range s.Defects {
		magSum += d.Magnitude
		speedSum += d.Speed
		if d.Magnitude < info.MinMagnitude {
			info.MinMagnitude = d.Magnitude
		}
		if d.Magnitude > info.MaxMagnitude {
			info.MaxMagnitude = d.Magnitude
		}
		info.Distribution[SeverityLabel(d.Magnitude)]++
	}

	n := float64(len(s.Defects))
	info.Count = len(s.Defects)
	info.AvgMagnitude = magSum / n
	info.AvgSpeed = speedSum / n
	if s.Length > 0 {
		info.DensityPerKm = n / (s.Length / 1000)
	}

	switch {
	case info.DensityPerKm > 5:
		info.Priority = PriorityHigh
	case info.DensityPerKm > 2:
		info.Priority = PriorityModerate
	}
	info.HighSeverityWarning = info.MaxMagnitude > 3
	return info
}

// zonePriority grades a defect cluster by its worst and average magnitude.
func zonePriority(c DefectCluster) Priority {
	switch {
	case c.MaxMagnitude > 3:
		return PriorityHigh
	case c.Magnitude > 2:
		return PriorityModerate
	default:
		return PriorityLow
	}
}

func segmentSelection(c SegmentCluster, stats GlobalStatistics) Selection {
	return Selection{
		Kind:    SelectSegment,
		Segment: &c,
		Detail: Detail{
			Title: c.Names.String(),
			Quality: &QualityDetail{
				IQR:      c.IQR,
				Label:    QualityLabel(c.IQR),
				Color:    Hex(ColorForQuality(c.IQR, stats.Quality.Min, stats.Quality.Max)),
				LengthM:  c.Length,
				IRI:      c.IRI,
				Date:     c.Date,
				Kind:     c.Kind,
				Grouped:  c.Grouped,
				Segments: c.Count,
			},
		},
	}
}

func segmentHolesSelection(s RoadSegment) Selection {
	info := SegmentHoleInfo(s)
	return Selection{
		Kind:    SelectSegmentHoles,
		Segment: &SegmentCluster{RoadSegment: s, Count: 1},
		Detail: Detail{
			Title: s.Names.String(),
			Holes: &info,
		},
	}
}

func defectSelection(c DefectCluster) Selection {
	kind := SelectDefect
	if c.Grouped {
		kind = SelectDefectCluster
	}
	return Selection{
		Kind:   kind,
		Defect: &c,
		Detail: Detail{
			Title: c.RoadName,
			Defect: &DefectDetail{
				Magnitude:  c.Magnitude,
				Speed:      c.Speed,
				Severity:   c.Severity,
				Lat:        c.Lat,
				Lon:        c.Lon,
				RoadNumero: c.RoadNumero,
				RoadName:   c.RoadName,
				Count:      c.Count,
				Min:        c.MinMagnitude,
				Max:        c.MaxMagnitude,
				Priority:   zonePriority(c),
			},
		},
	}
}
