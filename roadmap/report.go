package roadmap

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ReportZoomRange is the zoom range covered by the element-count chart.
var ReportZoomRange = [2]int{3, 19}

// ZoomLoad is the number of primitives the segments mode draws at one zoom.
type ZoomLoad struct {
	Zoom     int `json:"zoom"`
	Sampled  int `json:"sampled"`
	Elements int `json:"elements"`
	Clusters int `json:"clusters"`
}

// SeverityDistribution counts pooled defects per severity label.
func SeverityDistribution(segments []RoadSegment) map[Severity]int {
	dist := make(map[Severity]int)
	for _, s := range segments {
		for _, d := range s.Defects {
			dist[SeverityLabel(d.Magnitude)]++
		}
	}
	return dist
}

// QualityDistribution counts segments per quality label.
func QualityDistribution(segments []RoadSegment) map[Quality]int {
	dist := make(map[Quality]int)
	for _, s := range segments {
		dist[QualityLabel(s.IQR)]++
	}
	return dist
}

// ZoomLoads runs the segments pipeline at every zoom of the report range.
func ZoomLoads(segments []RoadSegment) []ZoomLoad {
	var loads []ZoomLoad
	for z := ReportZoomRange[0]; z <= ReportZoomRange[1]; z++ {
		sampled := SampleSegments(segments, z)
		load := ZoomLoad{Zoom: z, Sampled: len(sampled)}
		for _, c := range GroupSegments(sampled, z) {
			if !c.Renderable() {
				continue
			}
			load.Elements++
			if c.Grouped {
				load.Clusters++
			}
		}
		loads = append(loads, load)
	}
	return loads
}

// RenderReport writes an HTML dashboard of the dataset: defect severity,
// segment quality and the rendering load per zoom level.
func RenderReport(w io.Writer, stats GlobalStatistics, segments []RoadSegment) error {
	page := components.NewPage()
	page.SetPageTitle("Road quality report")
	page.AddCharts(
		severityChart(stats, segments),
		qualityChart(stats, segments),
		zoomChart(segments),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func severityChart(stats GlobalStatistics, segments []RoadSegment) *charts.Bar {
	dist := SeverityDistribution(segments)
	names := make([]string, 0, len(severityNames))
	data := make([]opts.BarData, 0, len(severityNames))
	for s := SeverityVeryMild; s <= SeverityVerySevere; s++ {
		names = append(names, s.String())
		data = append(data, opts.BarData{
			Name:      s.String(),
			Value:     dist[s],
			ItemStyle: &opts.ItemStyle{Color: Hex(ColorForSeverity(float64(s)+0.5, 0, 5))},
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Defect severity", Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Defect severity",
			Subtitle: fmt.Sprintf("defects=%d magnitude=%.3f..%.3f avg=%.3f", stats.Magnitude.Count, stats.Magnitude.Min, stats.Magnitude.Max, stats.Magnitude.Avg),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("defects", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

func qualityChart(stats GlobalStatistics, segments []RoadSegment) *charts.Pie {
	dist := QualityDistribution(segments)
	data := make([]opts.PieData, 0, len(qualityNames))
	for q := QualityVeryPoor; q <= QualityExcellent; q++ {
		if dist[q] == 0 {
			continue
		}
		data = append(data, opts.PieData{Name: q.String(), Value: dist[q]})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Segment quality", Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Segment quality",
			Subtitle: fmt.Sprintf("segments=%d IQR=%.3f..%.3f avg=%.3f", stats.Quality.Count, stats.Quality.Min, stats.Quality.Max, stats.Quality.Avg),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("quality", data)
	return pie
}

func zoomChart(segments []RoadSegment) *charts.Line {
	loads := ZoomLoads(segments)
	zooms := make([]string, len(loads))
	elements := make([]opts.LineData, len(loads))
	clusters := make([]opts.LineData, len(loads))
	for i, l := range loads {
		zooms[i] = strconv.Itoa(l.Zoom)
		elements[i] = opts.LineData{Value: l.Elements}
		clusters[i] = opts.LineData{Value: l.Clusters}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rendering load", Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Rendering load", Subtitle: "segments mode, polylines drawn per zoom"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "zoom"}),
	)
	line.SetXAxis(zooms).
		AddSeries("elements", elements).
		AddSeries("clusters", clusters)
	return line
}
