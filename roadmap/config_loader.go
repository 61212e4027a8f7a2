package roadmap

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads environment variables from a .env file. A missing file
// is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads the configuration from a YAML file over the defaults,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides config fields from the environment.
func ApplyEnv(config *Config) error {
	if v := os.Getenv("API_BASE_URL"); v != "" {
		config.API.BaseURL = v
	}
	if v := os.Getenv("ROADMESH_FALLBACK_FILE"); v != "" {
		config.Fallback.File = v
	}
	if v := os.Getenv("ROADMESH_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROADMESH_CACHE_TTL: %w", err)
		}
		config.API.CacheTTL = ttl
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		config.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		config.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		config.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		config.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		config.MQTT.PublishPrefix = v
	}
	return nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.baseUrl is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.baseUrl %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if c.API.CacheTTL < 0 {
		return fmt.Errorf("api.cacheTtl must not be negative")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.pageSize must be positive")
	}
	if c.Map.Width <= 0 || c.Map.Height <= 0 {
		return fmt.Errorf("map.width and map.height must be positive")
	}
	if c.Map.Debounce < 0 {
		return fmt.Errorf("map.debounce must not be negative")
	}
	if _, ok := LookupTileProvider(c.Map.TileProvider); !ok {
		Logf("Warning: map.tileProvider %q is not a preset, using %s", c.Map.TileProvider, DefaultTileProvider)
		c.Map.TileProvider = DefaultTileProvider
	}
	if c.MQTT.Broker != "" && c.MQTT.DatasetTopic == "" {
		return fmt.Errorf("mqtt.datasetTopic is required when mqtt.broker is set")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
