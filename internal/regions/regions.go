// Package regions loads named area-of-interest polygons from GeoJSON files.
// A region gives a query a human name and a bounding box derived from the
// polygon's extent; the name also keys the output files.
package regions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/geofetch/geofetch/internal/geo"
)

// Region is a named area of interest.
type Region struct {
	Name string
	BBox geo.BBox
}

// Store holds regions keyed by lower-cased name.
type Store struct {
	regions map[string]Region
}

// NewStore creates an empty region store.
func NewStore() *Store {
	return &Store{regions: make(map[string]Region)}
}

// LoadDir reads every .json and .geojson file in dir into the store. A
// missing directory is not an error so the regions dir stays optional.
func (s *Store) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read regions directory %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".geojson" {
			continue
		}
		if err := s.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads one GeoJSON file into the store. The file may hold a single
// Feature or a FeatureCollection; each feature becomes one region named by
// its "name" property, falling back to the file's base name.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read region file %q: %w", path, err)
	}

	features, err := parseFeatures(data)
	if err != nil {
		return fmt.Errorf("failed to parse region file %q: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	for _, f := range features {
		if f.Geometry == nil {
			return fmt.Errorf("region file %q contains a feature without geometry", path)
		}

		name := base
		if v, ok := f.Properties["name"].(string); ok && v != "" {
			name = v
		}

		bbox := geo.FromOrbBound(f.Geometry.Bound())
		if err := bbox.Validate(); err != nil {
			return fmt.Errorf("region %q has an invalid extent: %w", name, err)
		}

		s.regions[strings.ToLower(name)] = Region{Name: name, BBox: bbox}
	}
	return nil
}

func parseFeatures(data []byte) ([]*geojson.Feature, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		return fc.Features, nil
	}
	f, err := geojson.UnmarshalFeature(data)
	if err != nil {
		return nil, err
	}
	return []*geojson.Feature{f}, nil
}

// Get looks up a region by name, case-insensitively.
func (s *Store) Get(name string) (Region, error) {
	r, ok := s.regions[strings.ToLower(name)]
	if !ok {
		return Region{}, fmt.Errorf("unknown region %q (known: %s)", name, strings.Join(s.Names(), ", "))
	}
	return r, nil
}

// Names returns the region names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.regions))
	for _, r := range s.regions {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of loaded regions.
func (s *Store) Count() int {
	return len(s.regions)
}
