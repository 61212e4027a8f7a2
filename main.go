package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the parsed command line.
type AppOptions struct {
	ConfigFile   string
	EnvFile      string
	DataFile     string
	OutputFile   string
	TileProvider string
	Mode         string
	HoleView     string
	Zoom         int
	Width        int
	Height       int
	HttpPort     int

	RenderOnly    bool
	StatsOnly     bool
	ReportOnly    bool
	ExportGeoJSON bool
	InitConfig    bool
	MqttMode      bool
	HttpMode      bool
}

// Runner is the set of modes main dispatches to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunRender() error
	RunStats() error
	RunReport() error
	RunExportGeoJSON() error
	RunInitConfig() error
	RunService() error
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("roadmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.EnvFile, "env-file", ".env", "Path to .env file with environment overrides")
	fs.StringVar(&opts.DataFile, "data", "", "Render from a local dataset file instead of the API")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file (.svg, .png, .geojson or .html depending on mode)")
	fs.StringVar(&opts.TileProvider, "tiles", "", "Tile provider preset (osm, satellite, terrain, roads, transport, dark, light)")
	fs.StringVar(&opts.Mode, "mode", "segments", "Analysis mode: segments or holes")
	fs.StringVar(&opts.HoleView, "hole-view", "circles", "Defect view in holes mode: circles or segments")
	fs.IntVar(&opts.Zoom, "zoom", 0, "Zoom level for --render and --export-geojson (default: fit dataset)")
	fs.IntVar(&opts.Width, "width", 0, "Viewport width in pixels (default from config)")
	fs.IntVar(&opts.Height, "height", 0, "Viewport height in pixels (default from config)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the map to --output and exit")
	fs.BoolVar(&opts.StatsOnly, "stats", false, "Print dataset statistics and exit")
	fs.BoolVar(&opts.ReportOnly, "report", false, "Write the HTML statistics report and exit")
	fs.BoolVar(&opts.ExportGeoJSON, "export-geojson", false, "Write the GeoJSON of one render pass and exit")
	fs.BoolVar(&opts.InitConfig, "init-config", false, "Write a default configuration to --config and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Reload on dataset notifications and publish session events over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve map sessions over HTTP")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "roadmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.InitConfig:
		return app.RunInitConfig()
	case opts.StatsOnly:
		return app.RunStats()
	case opts.ReportOnly:
		return app.RunReport()
	case opts.ExportGeoJSON:
		return app.RunExportGeoJSON()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	_, _ = fmt.Fprintln(out, "Nothing to do.")
	_, _ = fmt.Fprintln(out, "Use --render to render the map to an SVG or PNG file")
	_, _ = fmt.Fprintln(out, "Use --export-geojson to export one render pass as GeoJSON")
	_, _ = fmt.Fprintln(out, "Use --stats to print dataset statistics")
	_, _ = fmt.Fprintln(out, "Use --report to write the HTML report")
	_, _ = fmt.Fprintln(out, "Use --http to serve map sessions, --mqtt to follow dataset updates")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - backend, map and MQTT settings (optional)")
	_, _ = fmt.Fprintln(out, "  .env        - environment overrides (optional)")
	return nil
}

func main() {
	app := NewApp(os.Stdout)
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}
