package roadmap

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed data/roadData.json
var bundledDataset []byte

// BundledSegments returns the dataset compiled into the binary.
func BundledSegments() ([]RoadSegment, error) {
	segments, err := DecodeSegments(bundledDataset)
	if err != nil {
		return nil, fmt.Errorf("bundled dataset: %w", err)
	}
	return segments, nil
}

// LoadSegmentsFile reads a dataset from disk in any accepted layout.
func LoadSegmentsFile(path string) ([]RoadSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	segments, err := DecodeSegments(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return segments, nil
}

// fallbackSegments resolves the local dataset: the configured file, then the
// bundled one, then nothing.
func fallbackSegments(path string) []RoadSegment {
	if path != "" {
		segments, err := LoadSegmentsFile(path)
		if err == nil {
			Logf("[LOADER] Fallback: loaded %d segments from %s", len(segments), path)
			return segments
		}
		Logf("[LOADER] Warning: fallback file unavailable: %v", err)
	}

	segments, err := BundledSegments()
	if err != nil {
		Logf("[LOADER] Warning: %v", err)
		return []RoadSegment{}
	}
	Logf("[LOADER] Fallback: loaded %d bundled segments", len(segments))
	return segments
}
