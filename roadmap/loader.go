package roadmap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for dataset fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts. The dataset fetch
	// is a single request; a failure goes straight to the fallback.
	DefaultMaxRetries = 1

	// DefaultPageSize is used by Stream when no page size is given.
	DefaultPageSize = 50

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 50 MB to prevent OOM.
	maxResponseBytes = 50 << 20
)

// LoaderOption configures an APILoader.
type LoaderOption func(*loaderConfig)

type loaderConfig struct {
	timeout      time.Duration
	maxRetries   int
	baseBackoff  time.Duration
	cacheTTL     time.Duration
	fallbackFile string
	client       *http.Client
}

func defaultLoaderConfig() loaderConfig {
	return loaderConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		cacheTTL:    DefaultCacheTTL,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) LoaderOption {
	return func(c *loaderConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts per request.
func WithMaxRetries(n int) LoaderOption {
	return func(c *loaderConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) LoaderOption {
	return func(c *loaderConfig) {
		c.baseBackoff = d
	}
}

// WithCacheTTL sets how long responses are reused. Zero disables caching but
// keeps request de-duplication.
func WithCacheTTL(d time.Duration) LoaderOption {
	return func(c *loaderConfig) {
		c.cacheTTL = d
	}
}

// WithFallbackFile sets the local dataset used when the API is unreachable.
func WithFallbackFile(path string) LoaderOption {
	return func(c *loaderConfig) {
		c.fallbackFile = path
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(c *loaderConfig) {
		c.client = client
	}
}

// PageMeta is the pagination block of the paginated export endpoint.
type PageMeta struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Page is one page of normalized segments.
type Page struct {
	Segments []RoadSegment `json:"segments"`
	Meta     PageMeta      `json:"metadata"`
}

// BackendStatistics is the body of the statistics export endpoint.
type BackendStatistics struct {
	Summary struct {
		Segments       int `json:"total_segmentos"`
		Geometries     int `json:"total_geometrias"`
		Samples        int `json:"total_muestras"`
		SegmentIndices int `json:"total_indices_segmento"`
		SegmentHoles   int `json:"total_huecos_segmento"`
		SampleIndices  int `json:"total_indices_muestra"`
		SampleHoles    int `json:"total_huecos_muestra"`
	} `json:"resumen"`
	ByType map[string]int `json:"por_tipo"`
	Dates  struct {
		Min string `json:"fecha_minima"`
		Max string `json:"fecha_maxima"`
	} `json:"fechas"`
	Devices map[string]int `json:"dispositivos"`
}

// APILoader fetches the dataset from the road-quality backend.
type APILoader struct {
	baseURL string
	cfg     loaderConfig
	client  *http.Client
	cache   *responseCache
}

// NewLoader creates a loader for the backend at baseURL.
func NewLoader(baseURL string, opts ...LoaderOption) (*APILoader, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	cfg := defaultLoaderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	return &APILoader{
		baseURL: baseURL,
		cfg:     cfg,
		client:  client,
		cache:   newResponseCache(cfg.cacheTTL),
	}, nil
}

// BaseURL returns the backend base URL.
func (l *APILoader) BaseURL() string {
	return l.baseURL
}

// LoadAll returns the full dataset. A failed fetch is logged and replaced by
// the fallback dataset, so LoadAll never fails.
func (l *APILoader) LoadAll(ctx context.Context) []RoadSegment {
	segments, err := l.FetchAll(ctx)
	if err != nil {
		Logf("[LOADER] Error loading dataset from API: %v", err)
		return fallbackSegments(l.cfg.fallbackFile)
	}
	Logf("[LOADER] Loaded %d segments from API", len(segments))
	return segments
}

// FetchAll fetches and normalizes the full dataset.
func (l *APILoader) FetchAll(ctx context.Context) ([]RoadSegment, error) {
	body, err := l.get(ctx, "all-data", "/api/export/all-data")
	if err != nil {
		return nil, err
	}
	return l.decode("all-data", body)
}

// FetchPage fetches one page of the dataset. Pages are 1-based.
func (l *APILoader) FetchPage(ctx context.Context, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	key := "paginated?" + q.Encode()

	body, err := l.get(ctx, key, "/api/export/paginated?"+q.Encode())
	if err != nil {
		return Page{}, err
	}

	var env struct {
		Metadata  PageMeta     `json:"metadata"`
		Segmentos []apiSegment `json:"segmentos"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, &LoadError{Op: "decode page", URL: l.baseURL + "/api/export/paginated", Err: err}
	}
	return Page{Segments: normalizeSegments(env.Segmentos), Meta: env.Metadata}, nil
}

// FetchByType fetches the segments of one road category.
func (l *APILoader) FetchByType(ctx context.Context, tipo string) ([]RoadSegment, error) {
	path := "/api/export/by-type/" + url.PathEscape(tipo)
	body, err := l.get(ctx, "by-type/"+tipo, path)
	if err != nil {
		return nil, err
	}
	return l.decode(path, body)
}

// FetchStatistics fetches the backend's dataset statistics.
func (l *APILoader) FetchStatistics(ctx context.Context) (BackendStatistics, error) {
	var stats BackendStatistics
	body, err := l.get(ctx, "statistics", "/api/export/statistics")
	if err != nil {
		return stats, err
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		return stats, &LoadError{Op: "decode statistics", URL: l.baseURL + "/api/export/statistics", Err: err}
	}
	return stats, nil
}

// Stream walks the paginated endpoint and hands each page to fn until the
// last page, an error, or fn returning an error.
func (l *APILoader) Stream(ctx context.Context, pageSize int, fn func(Page) error) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	for page := 1; ; page++ {
		p, err := l.FetchPage(ctx, page, pageSize)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if !p.Meta.HasNext {
			return nil
		}
	}
}

// Invalidate drops cached responses so the next fetch hits the network.
func (l *APILoader) Invalidate() {
	l.cache.invalidate()
}

func (l *APILoader) decode(what string, body []byte) ([]RoadSegment, error) {
	segments, err := DecodeSegments(body)
	if err != nil {
		return nil, &LoadError{Op: "decode " + what, URL: l.baseURL, Err: err}
	}
	return segments, nil
}

// get fetches path through the response cache.
func (l *APILoader) get(ctx context.Context, key, path string) ([]byte, error) {
	target := l.baseURL + path
	return l.cache.fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		return l.fetchWithRetry(ctx, target)
	})
}

func (l *APILoader) fetchWithRetry(ctx context.Context, target string) ([]byte, error) {
	var lastErr error
	for attempt := range l.cfg.maxRetries {
		if attempt > 0 {
			backoff := l.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, &LoadError{Op: "fetch", URL: target, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, l.client, target)
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	if l.cfg.maxRetries > 1 {
		lastErr = fmt.Errorf("all %d attempts failed: %w", l.cfg.maxRetries, lastErr)
	}
	return nil, &LoadError{Op: "fetch", URL: target, Err: lastErr}
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// StaticLoader serves a fixed dataset. It backs offline rendering from a file.
type StaticLoader struct {
	Segments []RoadSegment
}

// LoadAll returns the fixed dataset.
func (l StaticLoader) LoadAll(context.Context) []RoadSegment {
	return l.Segments
}
