// Package collection holds the registry of upstream data collections and the
// per-satellite defaults used when the caller does not pin a resolution.
package collection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Collection describes one upstream data collection.
type Collection struct {
	// ID is the catalog identifier sent to the upstream API,
	// e.g. "sentinel-2-l2a".
	ID string `json:"id"`

	// Name is the enum-like query name accepted from callers,
	// e.g. "SENTINEL2_L2A".
	Name string `json:"name"`

	// Satellite is the platform family, derived from the name when omitted.
	Satellite string `json:"satellite,omitempty"`

	// NativeResolution is the finest ground resolution of the raw data in
	// meters per pixel.
	NativeResolution float64 `json:"native_resolution"`

	// ServiceURL overrides the default API deployment for collections hosted
	// on a different endpoint.
	ServiceURL string `json:"service_url,omitempty"`

	// DefaultScriptURL points at the community evalscript used when the
	// caller does not supply one.
	DefaultScriptURL string `json:"default_script_url,omitempty"`
}

// Fallback resolution for satellites without a configured default.
const fallbackResolution = 1000

// nativeResolutions maps satellite families to the finest raw resolution.
var nativeResolutions = map[string]float64{
	"SENTINEL1": 5,
	"SENTINEL2": 10,
	"SENTINEL3": 300,
	"LANDSAT":   15,
}

// Registry holds all known collections indexed by query name.
type Registry struct {
	collections map[string]*Collection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]*Collection)}
}

// DefaultRegistry returns a registry preloaded with the collections the tool
// is normally used against.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defaults := []*Collection{
		{
			ID:               "sentinel-1-grd",
			Name:             "SENTINEL1_IW",
			DefaultScriptURL: "https://custom-scripts.sentinel-hub.com/custom-scripts/sentinel-1/sar_rvi_temporal_analysis/script.js",
		},
		{
			ID:               "sentinel-2-l1c",
			Name:             "SENTINEL2_L1C",
			DefaultScriptURL: "https://custom-scripts.sentinel-hub.com/custom-scripts/sentinel-2/true_color/script.js",
		},
		{
			ID:               "sentinel-2-l2a",
			Name:             "SENTINEL2_L2A",
			DefaultScriptURL: "https://custom-scripts.sentinel-hub.com/custom-scripts/sentinel-2/true_color/script.js",
		},
		{
			ID:   "sentinel-3-olci",
			Name: "SENTINEL3_OLCI",
		},
		{
			ID:   "landsat-ot-l2",
			Name: "LANDSAT_OT_L2",
		},
	}
	for _, c := range defaults {
		// Defaults are well-formed, Add cannot fail here.
		_ = r.Add(c)
	}
	return r
}

// LoadDir loads collection definitions from JSON files in dir and merges them
// over the built-in defaults. A file may redefine a default collection.
func LoadDir(dir string) (*Registry, error) {
	r := DefaultRegistry()

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access collections directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("collections path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read collections directory %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read collection file %q: %w", path, err)
		}

		var c Collection
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to parse collection file %q: %w", path, err)
		}

		delete(r.collections, strings.ToUpper(c.Name))
		if err := r.Add(&c); err != nil {
			return nil, fmt.Errorf("invalid collection in %q: %w", path, err)
		}
	}

	return r, nil
}

// Add registers a collection, filling in the satellite family and native
// resolution when omitted. Returns an error for duplicates or missing fields.
func (r *Registry) Add(c *Collection) error {
	if c == nil {
		return fmt.Errorf("cannot add nil collection")
	}
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.ID == "" {
		return fmt.Errorf("collection %q: catalog ID is required", c.Name)
	}

	key := strings.ToUpper(c.Name)
	if _, exists := r.collections[key]; exists {
		return fmt.Errorf("collection %q already registered", c.Name)
	}

	if c.Satellite == "" {
		c.Satellite = satelliteFromName(c.Name)
	}
	if c.NativeResolution <= 0 {
		if res, ok := nativeResolutions[c.Satellite]; ok {
			c.NativeResolution = res
		} else {
			c.NativeResolution = fallbackResolution
		}
	}

	r.collections[key] = c
	return nil
}

// Get retrieves a collection by query name, case-insensitively.
// Returns nil when the collection is unknown.
func (r *Registry) Get(name string) *Collection {
	return r.collections[strings.ToUpper(name)]
}

// Has reports whether the collection name is known.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns the registered query names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered collections.
func (r *Registry) Count() int {
	return len(r.collections)
}

// satelliteFromName derives the platform family from a query name such as
// "SENTINEL2_L2A" or "LANDSAT_OT_L2".
func satelliteFromName(name string) string {
	upper := strings.ToUpper(name)
	if idx := strings.Index(upper, "_"); idx > 0 {
		return upper[:idx]
	}
	return upper
}
