package roadmap

import (
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// DefaultTileProvider is used when no or an unknown provider is requested.
const DefaultTileProvider = "osm"

// defaultMinZoom applies to every preset.
const defaultMinZoom = 3

// TileProvider is a base-layer preset: URL template, attribution and zoom range.
type TileProvider struct {
	Name        string   `json:"name" yaml:"name"`
	URLTemplate string   `json:"url" yaml:"url"`
	Attribution string   `json:"attribution" yaml:"attribution"`
	MinZoom     int      `json:"minZoom" yaml:"minZoom"`
	MaxZoom     int      `json:"maxZoom" yaml:"maxZoom"`
	Subdomains  []string `json:"subdomains,omitempty" yaml:"subdomains,omitempty"`
}

var osmTemplate = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

var tileProviders = map[string]TileProvider{
	"osm": {
		Name:        "osm",
		URLTemplate: osmTemplate,
		Attribution: "© OpenStreetMap contributors",
		MinZoom:     defaultMinZoom,
		MaxZoom:     19,
		Subdomains:  []string{"a", "b", "c"},
	},
	"satellite": {
		Name:        "satellite",
		URLTemplate: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
		Attribution: "© Esri, Maxar, Earthstar Geographics",
		MinZoom:     defaultMinZoom,
		MaxZoom:     18,
	},
	"terrain": {
		Name:        "terrain",
		URLTemplate: "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenTopoMap (CC-BY-SA)",
		MinZoom:     defaultMinZoom,
		MaxZoom:     17,
		Subdomains:  []string{"a", "b", "c"},
	},
	"roads": {
		Name:        "roads",
		URLTemplate: osmTemplate,
		Attribution: "© OpenStreetMap contributors",
		MinZoom:     defaultMinZoom,
		MaxZoom:     19,
		Subdomains:  []string{"a", "b", "c"},
	},
	"transport": {
		Name:        "transport",
		URLTemplate: "https://{s}.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors, Tiles courtesy of Humanitarian OpenStreetMap Team",
		MinZoom:     defaultMinZoom,
		MaxZoom:     18,
		Subdomains:  []string{"a", "b", "c"},
	},
	"dark": {
		Name:        "dark",
		URLTemplate: "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}{r}.png",
		Attribution: "© CARTO",
		MinZoom:     defaultMinZoom,
		MaxZoom:     19,
		Subdomains:  []string{"a", "b", "c", "d"},
	},
	"light": {
		Name:        "light",
		URLTemplate: "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
		Attribution: "© CARTO",
		MinZoom:     defaultMinZoom,
		MaxZoom:     19,
		Subdomains:  []string{"a", "b", "c", "d"},
	},
}

var tileAliases = map[string]string{
	"street":      "osm",
	"topographic": "terrain",
	"topo":        "terrain",
}

// LookupTileProvider resolves a preset by name or alias. Unknown names
// resolve to the street preset and ok is false.
func LookupTileProvider(name string) (TileProvider, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := tileAliases[key]; ok {
		key = alias
	}
	if p, ok := tileProviders[key]; ok {
		return p, true
	}
	return tileProviders[DefaultTileProvider], false
}

// TileProviderNames lists preset names in sorted order.
func TileProviderNames() []string {
	names := make([]string, 0, len(tileProviders))
	for name := range tileProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// URL expands the template for one tile, rotating subdomains by tile position.
func (p TileProvider) URL(t maptile.Tile) string {
	sub := ""
	if len(p.Subdomains) > 0 {
		sub = p.Subdomains[int(t.X+t.Y)%len(p.Subdomains)]
	}

	r := strings.NewReplacer(
		"{s}", sub,
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{r}", "",
	)
	return r.Replace(p.URLTemplate)
}
