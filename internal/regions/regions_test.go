package regions

import (
	"os"
	"path/filepath"
	"testing"
)

const nuukFeature = `{
  "type": "Feature",
  "properties": {"name": "Nuuk"},
  "geometry": {
    "type": "Polygon",
    "coordinates": [[[-51.8, 64.1], [-51.3, 64.1], [-51.3, 64.3], [-51.8, 64.3], [-51.8, 64.1]]]
  }
}`

const collectionTwoFeatures = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"name": "Ilulissat"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[-51.2, 69.1], [-51.0, 69.1], [-51.0, 69.3], [-51.2, 69.3], [-51.2, 69.1]]]
      }
    },
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[10.0, 55.0], [10.5, 55.0], [10.5, 55.5], [10.0, 55.5], [10.0, 55.0]]]
      }
    }
  ]
}`

func TestStore_LoadDir(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("nuuk.geojson", nuukFeature)
	write("areas.json", collectionTwoFeatures)
	write("notes.txt", "not geojson")

	s := NewStore()
	if err := s.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	// Two named features plus one falling back to the file base name.
	if s.Count() != 3 {
		t.Fatalf("Expected 3 regions, got %d: %v", s.Count(), s.Names())
	}

	r, err := s.Get("nuuk")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if r.Name != "Nuuk" {
		t.Errorf("Expected canonical name Nuuk, got %s", r.Name)
	}
	if r.BBox.MinX != -51.8 || r.BBox.MaxY != 64.3 {
		t.Errorf("Unexpected bbox: %+v", r.BBox)
	}

	// The unnamed feature takes the file's base name.
	if _, err := s.Get("AREAS"); err != nil {
		t.Errorf("Expected case-insensitive lookup by file name, got %v", err)
	}

	if _, err := s.Get("atlantis"); err == nil {
		t.Error("Expected error for unknown region")
	}
}

func TestStore_LoadDirMissing(t *testing.T) {
	s := NewStore()
	if err := s.LoadDir(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("Missing regions dir must not be an error, got %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Expected empty store, got %d regions", s.Count())
	}
}

func TestStore_LoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.geojson")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore()
	if err := s.LoadFile(bad); err == nil {
		t.Error("Expected error for malformed GeoJSON")
	}
	if err := s.LoadFile(filepath.Join(dir, "missing.geojson")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestStore_Names(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "areas.json"), []byte(collectionTwoFeatures), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore()
	if err := s.LoadDir(dir); err != nil {
		t.Fatal(err)
	}

	names := s.Names()
	if len(names) != 2 {
		t.Fatalf("Expected 2 names, got %v", names)
	}
	if names[0] != "Ilulissat" || names[1] != "areas" {
		t.Errorf("Expected sorted names [Ilulissat areas], got %v", names)
	}
}
