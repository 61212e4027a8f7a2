package roadmap

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary is count/min/max/avg over one scalar.
type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// GlobalStatistics is the color normalization domain for one dataset. It is
// computed once per dataset load, never per render pass.
type GlobalStatistics struct {
	Quality   Summary `json:"quality"`
	Magnitude Summary `json:"magnitude"`
	Speed     Summary `json:"speed"`
}

// ComputeStatistics summarizes quality over every segment and magnitude and
// speed over the flat defect pool. Values are rounded to three decimals.
func ComputeStatistics(segments []RoadSegment) GlobalStatistics {
	quality := make([]float64, 0, len(segments))
	var magnitudes, speeds []float64
	for _, s := range segments {
		quality = append(quality, s.IQR)
		for _, d := range s.Defects {
			magnitudes = append(magnitudes, d.Magnitude)
			speeds = append(speeds, d.Speed)
		}
	}

	return GlobalStatistics{
		Quality:   summarize(quality),
		Magnitude: summarize(magnitudes),
		Speed:     summarize(speeds),
	}
}

func summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	return Summary{
		Count: len(values),
		Min:   round3(floats.Min(values)),
		Max:   round3(floats.Max(values)),
		Avg:   round3(stat.Mean(values, nil)),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
