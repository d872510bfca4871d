// Package store writes rasters to a blob bucket. Outputs are keyed by
// acquisition date, area name, collection and download mode so repeated runs
// land in a predictable hierarchy.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/geofetch/geofetch/internal/query"
)

const contentType = "image/tiff"

// ErrWrite marks a failed write or delete against the output bucket, so
// callers can tell a storage failure apart from an upstream one.
var ErrWrite = errors.New("store: write failed")

// Key identifies one output raster.
type Key struct {
	// Date is the acquisition date; it becomes the top-level directory.
	Date time.Time

	// Name is the region name, or the bounding box string for ad-hoc areas.
	Name string

	// Collection is the collection name.
	Collection string

	// Mode is the download mode the raster was produced with.
	Mode query.Mode
}

// Object returns the blob key for the merged raster.
func (k Key) Object() string {
	return fmt.Sprintf("%s/%s_%s_%s.tif", k.Date.Format("2006-01-02"), sanitize(k.Name), k.Collection, k.Mode)
}

// TileObject returns the blob key for one tile of the raster.
func (k Key) TileObject(index int) string {
	return fmt.Sprintf("%s/tiles/%s_%s_tile%03d.tif", k.Date.Format("2006-01-02"), sanitize(k.Name), k.Collection, index)
}

func (k Key) tilePrefix() string {
	return fmt.Sprintf("%s/tiles/%s_%s_tile", k.Date.Format("2006-01-02"), sanitize(k.Name), k.Collection)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '-'
		default:
			return r
		}
	}, name)
}

// Store wraps a blob bucket.
type Store struct {
	bucket *blob.Bucket
	logger *slog.Logger
}

// Open opens the bucket named by a gocloud URL such as "file:///data/out",
// "mem://" or "s3://archive". File buckets get their directory created.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	if u, err := url.Parse(bucketURL); err == nil && u.Scheme == "file" {
		dir := u.Host + u.Path
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %q: %w", dir, err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucketURL, err)
	}

	return &Store{bucket: bucket, logger: slog.Default()}, nil
}

// NewWithBucket wraps an already opened bucket. Used by tests.
func NewWithBucket(bucket *blob.Bucket) *Store {
	return &Store{bucket: bucket, logger: slog.Default()}
}

// WithLogger sets a custom logger for the store.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// WriteOutput stores a merged raster and returns its blob key.
func (s *Store) WriteOutput(ctx context.Context, key Key, data []byte) (string, error) {
	object := key.Object()
	if err := s.write(ctx, object, data); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "wrote output raster",
		slog.String("object", object),
		slog.Int("bytes", len(data)),
	)
	return object, nil
}

// WriteTile stores one tile raster and returns its blob key.
func (s *Store) WriteTile(ctx context.Context, key Key, index int, data []byte) (string, error) {
	object := key.TileObject(index)
	if err := s.write(ctx, object, data); err != nil {
		return "", err
	}
	return object, nil
}

func (s *Store) write(ctx context.Context, object string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, object, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("%w: failed to open writer for %q: %v", ErrWrite, object, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("%w: failed to write %q: %v", ErrWrite, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to finish write of %q: %v", ErrWrite, object, err)
	}
	return nil
}

// Read returns the raster stored at object.
func (s *Store) Read(ctx context.Context, object string) ([]byte, error) {
	r, err := s.bucket.NewReader(ctx, object, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", object, err)
	}
	return data, nil
}

// Exists reports whether an object is present in the bucket.
func (s *Store) Exists(ctx context.Context, object string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, object)
	if err != nil {
		return false, fmt.Errorf("failed to stat %q: %w", object, err)
	}
	return ok, nil
}

// RemoveTiles deletes every tile object belonging to key. Tiles already gone
// are not an error.
func (s *Store) RemoveTiles(ctx context.Context, key Key) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: key.tilePrefix()})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to list tiles for %q: %v", ErrWrite, key.Object(), err)
		}

		if err := s.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("%w: failed to delete tile %q: %v", ErrWrite, obj.Key, err)
		}
	}
}
