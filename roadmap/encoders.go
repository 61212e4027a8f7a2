package roadmap

import (
	"fmt"
	"image/color"
	"math"
)

// idealQuality is the quality index value considered perfect.
const idealQuality = 5.0

// Marker radius range for single defects, in pixels.
const (
	minDefectRadius = 4.0
	maxDefectRadius = 16.0
)

// Risk palette for the defect-density view of segments.
var (
	riskNone     = color.NRGBA{0x22, 0xc5, 0x5e, 0xff}
	riskLow      = color.NRGBA{0x84, 0xcc, 0x16, 0xff}
	riskMild     = color.NRGBA{0xea, 0xb3, 0x08, 0xff}
	riskModerate = color.NRGBA{0xf9, 0x73, 0x16, 0xff}
	riskHigh     = color.NRGBA{0xef, 0x44, 0x44, 0xff}
	riskCritical = color.NRGBA{0xdc, 0x26, 0x26, 0xff}
)

// ColorForQuality maps a quality index to a green..red ramp by its distance
// from the ideal value, normalized against the widest distance in [min, max].
func ColorForQuality(value, min, max float64) color.NRGBA {
	n := 0.0
	if min != max {
		maxDist := math.Max(math.Abs(min-idealQuality), math.Abs(max-idealQuality))
		if maxDist > 0 {
			n = math.Abs(value-idealQuality) / maxDist
		}
	}
	n = clampUnit(n)

	switch {
	case n <= 0.25:
		i := n * 4
		return rgb(50*i, 200+55*(1-i), 50*i)
	case n <= 0.5:
		i := (n - 0.25) * 4
		return rgb(50+205*i, 255, 50*(1-i))
	case n <= 0.75:
		i := (n - 0.5) * 4
		return rgb(255, 255-100*i, 0)
	default:
		i := (n - 0.75) * 4
		return rgb(255, 155*(1-i), 0)
	}
}

// ColorForSeverity maps a defect magnitude linearly onto the same
// green..red ramp family used for quality.
func ColorForSeverity(value, min, max float64) color.NRGBA {
	n := clampUnit(normalize(value, min, max))

	switch {
	case n <= 0.25:
		i := n * 4
		return rgb(100*i, 255, 100*(1-i))
	case n <= 0.5:
		i := (n - 0.25) * 4
		return rgb(100+155*i, 255, 0)
	case n <= 0.75:
		i := (n - 0.5) * 4
		return rgb(255, 255-100*i, 0)
	default:
		i := (n - 0.75) * 4
		return rgb(255, 155-155*i, 0)
	}
}

// SizeForSeverity returns a marker radius in [4, 16] pixels.
func SizeForSeverity(value, min, max float64) float64 {
	n := clampUnit(normalize(value, min, max))
	return minDefectRadius + n*(maxDefectRadius-minDefectRadius)
}

// GroupedMarkerRadius sizes a defect cluster marker by member count.
func GroupedMarkerRadius(count int) float64 {
	return math.Min(6+float64(count)*1.5, 20)
}

// Severity classifies a defect magnitude.
type Severity int

const (
	SeverityVeryMild Severity = iota
	SeverityMild
	SeverityModerate
	SeveritySevere
	SeverityVerySevere
)

var severityNames = [...]string{"very mild", "mild", "moderate", "severe", "very severe"}

func (s Severity) String() string {
	if s < SeverityVeryMild || s > SeverityVerySevere {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText renders the severity by name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	for i, name := range severityNames {
		if name == string(text) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// SeverityLabel buckets a magnitude at the fixed breakpoints 1, 2, 3 and 4.
func SeverityLabel(magnitude float64) Severity {
	switch {
	case magnitude < 1:
		return SeverityVeryMild
	case magnitude < 2:
		return SeverityMild
	case magnitude < 3:
		return SeverityModerate
	case magnitude < 4:
		return SeveritySevere
	default:
		return SeverityVerySevere
	}
}

// Quality is the display band of a quality index.
type Quality int

const (
	QualityVeryPoor Quality = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityVeryGood
	QualityExcellent
)

var qualityNames = [...]string{"very poor", "poor", "fair", "good", "very good", "excellent"}

func (q Quality) String() string {
	if q < QualityVeryPoor || q > QualityExcellent {
		return fmt.Sprintf("Quality(%d)", int(q))
	}
	return qualityNames[q]
}

// MarshalText renders the quality band by name in JSON payloads.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText parses a quality band name.
func (q *Quality) UnmarshalText(text []byte) error {
	for i, name := range qualityNames {
		if name == string(text) {
			*q = Quality(i)
			return nil
		}
	}
	return fmt.Errorf("unknown quality %q", text)
}

// QualityLabel buckets a quality index into display bands.
func QualityLabel(iqr float64) Quality {
	switch {
	case iqr < 1:
		return QualityVeryPoor
	case iqr < 2:
		return QualityPoor
	case iqr < 3:
		return QualityFair
	case iqr < 4:
		return QualityGood
	case iqr < 5:
		return QualityVeryGood
	default:
		return QualityExcellent
	}
}

// ClusterRisk combines defect density and average severity of a segment
// into a score in [0, 1]. Density saturates at 10 defects/km and severity at 5.
func ClusterRisk(s RoadSegment) float64 {
	if len(s.Defects) == 0 {
		return 0
	}

	var sum float64
	for _, d := range s.Defects {
		sum += d.Magnitude
	}
	avg := sum / float64(len(s.Defects))

	density := 0.0
	if s.Length > 0 {
		density = float64(len(s.Defects)) / (s.Length / 1000)
	}
	densityFactor := math.Min(density/10, 1)
	severityFactor := math.Min(avg/5, 1)

	return 0.7*severityFactor + 0.3*densityFactor
}

// ColorForClusterRisk maps a segment's defect risk onto a five step palette.
// Segments without defects are always the lightest green.
func ColorForClusterRisk(s RoadSegment) color.NRGBA {
	if len(s.Defects) == 0 {
		return riskNone
	}

	risk := ClusterRisk(s)
	switch {
	case risk <= 0.2:
		return riskLow
	case risk <= 0.4:
		return riskMild
	case risk <= 0.6:
		return riskModerate
	case risk <= 0.8:
		return riskHigh
	default:
		return riskCritical
	}
}

// Hex formats a color as a CSS #rrggbb string.
func Hex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// parseHexColor parses #rrggbb, defaulting to opaque black on malformed input.
func parseHexColor(hex string) color.NRGBA {
	fallback := color.NRGBA{0, 0, 0, 255}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return fallback
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return fallback
	}
	return color.NRGBA{r, g, b, 255}
}

// normalize maps value into [0,1] over [min,max]; a degenerate domain maps to 0.
func normalize(value, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (value - min) / (max - min)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func rgb(r, g, b float64) color.NRGBA {
	return color.NRGBA{R: channel(r), G: channel(g), B: channel(b), A: 255}
}

// channel floors and clamps a color component to 0..255.
func channel(v float64) uint8 {
	v = math.Floor(v)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
