package roadmap

import "time"

// Config is the service configuration, loaded from YAML and environment.
type Config struct {
	API      APIConfig      `yaml:"api" json:"api"`
	Fallback FallbackConfig `yaml:"fallback" json:"fallback"`
	Map      MapConfig      `yaml:"map" json:"map"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
}

// APIConfig holds the road-quality backend settings.
type APIConfig struct {
	BaseURL  string        `yaml:"baseUrl" json:"baseUrl"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	CacheTTL time.Duration `yaml:"cacheTtl" json:"cacheTtl"`
	PageSize int           `yaml:"pageSize" json:"pageSize"`
	Retries  int           `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// FallbackConfig points at a local dataset used when the backend is down.
// An empty file means the bundled dataset.
type FallbackConfig struct {
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// MapConfig holds defaults for mounted map sessions.
type MapConfig struct {
	Width        int           `yaml:"width" json:"width"`
	Height       int           `yaml:"height" json:"height"`
	TileProvider string        `yaml:"tileProvider" json:"tileProvider"`
	Debounce     time.Duration `yaml:"debounce,omitempty" json:"debounce,omitempty"` // 0 disables
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	DatasetTopic  string `yaml:"datasetTopic" json:"datasetTopic"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
}

const (
	defaultBaseURL       = "http://localhost:8000"
	defaultClientID      = "roadmesh"
	defaultDatasetTopic  = "roadmesh/dataset/updated"
	defaultPublishPrefix = "roadmesh"
	defaultMapWidth      = 1024
	defaultMapHeight     = 768
)

// DefaultConfig returns a configuration that runs without any file.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  defaultBaseURL,
			Timeout:  DefaultFetchTimeout,
			CacheTTL: DefaultCacheTTL,
			PageSize: DefaultPageSize,
			Retries:  DefaultMaxRetries,
		},
		Map: MapConfig{
			Width:        defaultMapWidth,
			Height:       defaultMapHeight,
			TileProvider: DefaultTileProvider,
		},
		MQTT: MQTTConfig{
			ClientID:      defaultClientID,
			DatasetTopic:  defaultDatasetTopic,
			PublishPrefix: defaultPublishPrefix,
		},
	}
}

// LoaderOptions translates the API and fallback settings into loader options.
func (c *Config) LoaderOptions() []LoaderOption {
	return []LoaderOption{
		WithTimeout(c.API.Timeout),
		WithCacheTTL(c.API.CacheTTL),
		WithMaxRetries(c.API.Retries),
		WithFallbackFile(c.Fallback.File),
	}
}
