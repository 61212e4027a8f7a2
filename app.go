package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kwv/roadmesh/roadmap"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *roadmap.Config
	Loader     roadmap.Loader
	API        *roadmap.APILoader // nil when rendering from a local file
	Sessions   *roadmap.SessionRegistry
	MQTTClient *roadmap.MQTTClient
	Publisher  *roadmap.Publisher

	// CLI Flags (effectively dependencies)
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
	MqttMode     bool
	HttpMode     bool

	out         io.Writer
	datasetSize atomic.Int64

	debounceMu sync.Mutex
	debouncers map[string]*roadmap.Debouncer
}

// NewApp creates a new App instance writing command output to out.
func NewApp(out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{
		Sessions:   roadmap.NewSessionRegistry(),
		out:        out,
		debouncers: make(map[string]*roadmap.Debouncer),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.EnvFile = opts.EnvFile
	a.DataFile = opts.DataFile
	a.OutputFile = opts.OutputFile
	a.TileProvider = opts.TileProvider
	a.Mode = opts.Mode
	a.HoleView = opts.HoleView
	a.Zoom = opts.Zoom
	a.Width = opts.Width
	a.Height = opts.Height
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// setup loads configuration and builds the loader. It is safe to call more
// than once.
func (a *App) setup() error {
	if a.Config != nil && a.Loader != nil {
		return nil
	}

	if err := roadmap.LoadDotEnv(a.EnvFile); err != nil {
		log.Printf("Warning: %v", err)
	}

	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.TileProvider != "" {
		config.Map.TileProvider = a.TileProvider
	}
	if a.Width > 0 {
		config.Map.Width = a.Width
	}
	if a.Height > 0 {
		config.Map.Height = a.Height
	}
	a.Config = config

	if a.DataFile != "" {
		segments, err := roadmap.LoadSegmentsFile(a.DataFile)
		if err != nil {
			return err
		}
		log.Printf("Loaded %d segments from %s", len(segments), a.DataFile)
		a.Loader = roadmap.StaticLoader{Segments: segments}
		return nil
	}

	api, err := roadmap.NewLoader(config.API.BaseURL, config.LoaderOptions()...)
	if err != nil {
		return fmt.Errorf("creating loader: %w", err)
	}
	a.API = api
	a.Loader = api
	return nil
}

// loadConfig reads the config file, or falls back to defaults plus
// environment when the file is absent.
func (a *App) loadConfig() (*roadmap.Config, error) {
	if a.ConfigFile != "" {
		if _, err := os.Stat(a.ConfigFile); err == nil {
			config, err := roadmap.LoadConfig(a.ConfigFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config %s: %w", a.ConfigFile, err)
			}
			log.Printf("Loaded config from %s", a.ConfigFile)
			return config, nil
		}
	}

	config := roadmap.DefaultConfig()
	if err := roadmap.ApplyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// MountSession creates, loads and registers a map session.
func (a *App) MountSession(ctx context.Context) (*roadmap.MapSession, error) {
	if err := a.setup(); err != nil {
		return nil, err
	}

	surface := roadmap.NewHeadlessSurface(a.Config.Map.Width, a.Config.Map.Height)
	opts := []roadmap.SessionOption{
		roadmap.WithInitialTileProvider(a.Config.Map.TileProvider),
	}
	if a.Publisher != nil {
		pub := a.Publisher
		opts = append(opts,
			roadmap.WithSelectionObserver(func(id string, sel *roadmap.Selection) {
				if err := pub.PublishSelection(id, sel); err != nil {
					log.Printf("[MQTT] Error publishing selection for %s: %v", id, err)
				}
			}),
			roadmap.WithRenderObserver(func(id string, summary roadmap.RenderSummary) {
				if err := pub.PublishRender(id, summary); err != nil {
					log.Printf("[MQTT] Error publishing render for %s: %v", id, err)
				}
			}),
		)
	}

	session := roadmap.NewMapSession(surface, a.Loader, opts...)
	session.Load(ctx)
	a.datasetSize.Store(int64(len(session.Segments())))
	a.Sessions.Add(session)
	return session, nil
}

// UnmountSession closes a session and its pending debounced work.
func (a *App) UnmountSession(id string) error {
	a.debounceMu.Lock()
	if d, ok := a.debouncers[id]; ok {
		d.Stop()
		delete(a.debouncers, id)
	}
	a.debounceMu.Unlock()
	if err := a.Sessions.Remove(id); err != nil {
		return err
	}
	a.clearRetained(id)
	return nil
}

// clearRetained drops the broker's retained messages for a session that is
// gone.
func (a *App) clearRetained(id string) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.ClearSession(id); err != nil {
		log.Printf("[MQTT] Error clearing retained messages for %s: %v", id, err)
	}
}

// debouncer returns the viewport debouncer of a session, or nil when
// debouncing is disabled.
func (a *App) debouncer(id string) *roadmap.Debouncer {
	if a.Config == nil || a.Config.Map.Debounce <= 0 {
		return nil
	}
	a.debounceMu.Lock()
	defer a.debounceMu.Unlock()
	d, ok := a.debouncers[id]
	if !ok {
		d = roadmap.NewDebouncer(a.Config.Map.Debounce)
		a.debouncers[id] = d
	}
	return d
}

// ReloadAll drops cached responses and reloads every mounted session.
func (a *App) ReloadAll(ctx context.Context) int {
	if a.API != nil {
		a.API.Invalidate()
	}
	sessions := a.Sessions.All()
	for _, s := range sessions {
		s.Reload(ctx)
		a.datasetSize.Store(int64(len(s.Segments())))
	}
	log.Printf("Reloaded %d session(s)", len(sessions))
	return len(sessions)
}

// configureSession applies the mode flags and zoom to a freshly mounted session.
func (a *App) configureSession(s *roadmap.MapSession) error {
	mode, err := roadmap.ParseMode(a.Mode)
	if err != nil {
		return err
	}
	holeView, err := roadmap.ParseHoleView(a.HoleView)
	if err != nil {
		return err
	}
	s.SetHoleView(holeView)
	s.SetMode(mode)

	if a.Zoom > 0 {
		surface := headless(s)
		if err := s.SetView(surface.Center(), a.Zoom); err != nil {
			return err
		}
	}
	return nil
}

// RunRender renders one map view to an SVG or PNG file.
func (a *App) RunRender() error {
	s, err := a.oneShotSession()
	if err != nil {
		return err
	}
	defer func() { _ = a.UnmountSession(s.ID) }()

	output := a.outputOr("roadmesh-map.svg")
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer func() { _ = f.Close() }()

	renderer := roadmap.NewVectorRenderer(s.SceneSnapshot())
	if strings.EqualFold(filepath.Ext(output), ".png") {
		err = renderer.RenderToPNG(f)
	} else {
		err = renderer.RenderToSVG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", output, err)
	}

	summary := s.LastRender()
	_, _ = fmt.Fprintf(a.out, "Rendered %s: mode=%s zoom=%d drawn=%d clusters=%d skipped=%d\n",
		output, summary.Mode, summary.Zoom, summary.Drawn, summary.Clusters, summary.Skipped)
	return nil
}

// RunExportGeoJSON writes the drawn primitives of one render pass.
func (a *App) RunExportGeoJSON() error {
	s, err := a.oneShotSession()
	if err != nil {
		return err
	}
	defer func() { _ = a.UnmountSession(s.ID) }()

	fc := roadmap.ExportGeoJSON(s.SceneSnapshot())
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal GeoJSON: %w", err)
	}

	output := a.outputOr("roadmesh-map.geojson")
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	_, _ = fmt.Fprintf(a.out, "Wrote %d features to %s\n", len(fc.Features), output)
	return nil
}

func (a *App) oneShotSession() (*roadmap.MapSession, error) {
	s, err := a.MountSession(context.Background())
	if err != nil {
		return nil, err
	}
	if err := a.configureSession(s); err != nil {
		_ = a.UnmountSession(s.ID)
		return nil, err
	}
	return s, nil
}

// RunStats prints the global statistics of the dataset as JSON.
func (a *App) RunStats() error {
	if err := a.setup(); err != nil {
		return err
	}
	segments := a.Loader.LoadAll(context.Background())

	report := struct {
		Segments   int                      `json:"segments"`
		Statistics roadmap.GlobalStatistics `json:"statistics"`
		Severity   map[roadmap.Severity]int `json:"severityDistribution"`
		Quality    map[roadmap.Quality]int  `json:"qualityDistribution"`
	}{
		Segments:   len(segments),
		Statistics: roadmap.ComputeStatistics(segments),
		Severity:   roadmap.SeverityDistribution(segments),
		Quality:    roadmap.QualityDistribution(segments),
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// RunReport writes the HTML statistics report.
func (a *App) RunReport() error {
	if err := a.setup(); err != nil {
		return err
	}
	segments := a.Loader.LoadAll(context.Background())

	output := a.outputOr("roadmesh-report.html")
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer func() { _ = f.Close() }()

	if err := roadmap.RenderReport(f, roadmap.ComputeStatistics(segments), segments); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "Wrote report for %d segments to %s\n", len(segments), output)
	return nil
}

// RunInitConfig writes the default configuration to the config path.
func (a *App) RunInitConfig() error {
	path := a.ConfigFile
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := roadmap.SaveConfig(path, roadmap.DefaultConfig()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.out, "Wrote default configuration to %s\n", path)
	return nil
}

// startMQTT connects to the broker, wires dataset reloads and creates the
// publisher.
func (a *App) startMQTT() error {
	client, err := roadmap.InitMQTT(a.Config.MQTT, a.onDatasetChanged)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if client == nil {
		return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
	}
	a.MQTTClient = client
	a.Publisher = roadmap.NewPublisher(client.GetClient(), a.Config.MQTT.PublishPrefix)
	return nil
}

// onDatasetChanged reloads every session when the backend announces new data.
func (a *App) onDatasetChanged(payload []byte) {
	log.Printf("[MQTT] Dataset changed (%d bytes), reloading sessions", len(payload))
	a.ReloadAll(context.Background())
}

// RunService runs the HTTP and/or MQTT service until interrupted.
func (a *App) RunService() error {
	_, _ = fmt.Fprintln(a.out, "Starting roadmesh service...")

	if err := a.setup(); err != nil {
		return err
	}

	if a.MqttMode {
		if err := a.startMQTT(); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(a.out, "MQTT session publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
			log.Printf("[HTTP] Server stopped unexpectedly")
		}()
	}

	_, _ = fmt.Fprintln(a.out, "\nService Running")
	_, _ = fmt.Fprintln(a.out, "===============")
	if a.API != nil {
		_, _ = fmt.Fprintf(a.out, "\nBackend: %s (cache %v)\n", a.API.BaseURL(), a.Config.API.CacheTTL)
	}

	if a.MqttMode {
		prefix := a.Publisher.Prefix()
		_, _ = fmt.Fprintln(a.out, "\nMQTT:")
		_, _ = fmt.Fprintf(a.out, "  Reload topic: %s\n", a.MQTTClient.DatasetTopic())
		_, _ = fmt.Fprintf(a.out, "  Publishing to: %s/{session}/selection, %s/{session}/render\n", prefix, prefix)
	}

	if a.HttpMode {
		_, _ = fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		_, _ = fmt.Fprintln(a.out, "  GET  /health                         - Health check")
		_, _ = fmt.Fprintln(a.out, "  POST /sessions                       - Mount a map session")
		_, _ = fmt.Fprintln(a.out, "  GET  /sessions/{id}/map.svg|map.png  - Rendered map")
		_, _ = fmt.Fprintln(a.out, "  GET  /sessions/{id}/features.geojson - Drawn primitives")
		_, _ = fmt.Fprintln(a.out, "  POST /sessions/{id}/view|click|mode|layer|fullscreen|key")
		_, _ = fmt.Fprintln(a.out, "  GET  /stats, /report.html; POST /reload")
	}

	_, _ = fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Shutdown()
	return nil
}

// Shutdown unmounts every session and disconnects MQTT.
func (a *App) Shutdown() {
	_, _ = fmt.Fprintln(a.out, "\nShutting down service...")
	a.debounceMu.Lock()
	for id, d := range a.debouncers {
		d.Stop()
		delete(a.debouncers, id)
	}
	a.debounceMu.Unlock()

	sessions := a.Sessions.All()
	a.Sessions.CloseAll()
	for _, s := range sessions {
		a.clearRetained(s.ID)
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	_, _ = fmt.Fprintln(a.out, "Service stopped")
}

func (a *App) outputOr(fallback string) string {
	if a.OutputFile != "" {
		return a.OutputFile
	}
	return fallback
}

// headless returns the in-memory surface every App session draws on.
func headless(s *roadmap.MapSession) *roadmap.HeadlessSurface {
	return s.Surface().(*roadmap.HeadlessSurface)
}
