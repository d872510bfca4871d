package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/planetlabs/go-stac"

	"github.com/geofetch/geofetch/internal/geo"
	"github.com/geofetch/geofetch/internal/query"
)

// AcquisitionWindow joins catalog timestamps belonging to the same orbit
// pass: timestamps closer than this are collapsed into one acquisition.
const AcquisitionWindow = time.Hour

const catalogPageLimit = 100

// catalogSearchRequest is the STAC search body sent to the catalog API.
type catalogSearchRequest struct {
	Collections []string  `json:"collections"`
	BBox        []float64 `json:"bbox"`
	Datetime    string    `json:"datetime"`
	Limit       int       `json:"limit"`
	Next        *int      `json:"next,omitempty"`
}

// catalogSearchResponse is a STAC ItemCollection plus the pagination context
// the catalog uses.
type catalogSearchResponse struct {
	Type     string       `json:"type"`
	Features []*stac.Item `json:"features"`
	Context  struct {
		Next *int `json:"next"`
	} `json:"context"`
}

// SearchDates queries the catalog for available acquisitions of a collection
// over the bbox and interval, returning one timestamp per acquisition in
// ascending order. Tiles acquired in the same orbit pass collapse into a
// single timestamp.
func (c *Client) SearchDates(ctx context.Context, collection string, bbox geo.BBox, interval query.Interval) ([]time.Time, error) {
	datetime := fmt.Sprintf("%s/%s",
		interval.Start.UTC().Format(time.RFC3339),
		// The interval is inclusive of the end date.
		interval.End.UTC().Add(24*time.Hour-time.Second).Format(time.RFC3339),
	)

	var stamps []time.Time
	var next *int

	for {
		req := catalogSearchRequest{
			Collections: []string{collection},
			BBox:        bbox.Slice(),
			Datetime:    datetime,
			Limit:       catalogPageLimit,
			Next:        next,
		}

		page, err := c.searchPage(ctx, req)
		if err != nil {
			return nil, err
		}

		for _, item := range page.Features {
			ts, err := itemDatetime(item)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping catalog item without datetime",
					slog.String("item_id", item.Id),
					slog.String("error", err.Error()),
				)
				continue
			}
			stamps = append(stamps, ts)
		}

		if page.Context.Next == nil {
			break
		}
		next = page.Context.Next
	}

	acquisitions := FilterTimes(stamps, AcquisitionWindow)

	c.logger.DebugContext(ctx, "catalog search completed",
		slog.String("collection", collection),
		slog.Int("items", len(stamps)),
		slog.Int("acquisitions", len(acquisitions)),
	)

	return acquisitions, nil
}

func (c *Client) searchPage(ctx context.Context, req catalogSearchRequest) (*catalogSearchResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		page, err := c.doSearch(ctx, payload)
		if err == nil {
			return page, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("catalog search failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

func (c *Client) doSearch(ctx context.Context, payload []byte) (*catalogSearchResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+catalogPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/geo+json")
	httpReq.Header.Set("User-Agent", "geofetch/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var page catalogSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return &page, nil
}

// itemDatetime extracts the acquisition timestamp from a STAC item.
func itemDatetime(item *stac.Item) (time.Time, error) {
	if item == nil || item.Properties == nil {
		return time.Time{}, fmt.Errorf("item has no properties")
	}

	raw, ok := item.Properties["datetime"].(string)
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("item has no datetime property")
	}

	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid item datetime %q: %w", raw, err)
	}
	return ts, nil
}

// FilterTimes sorts timestamps and collapses runs closer than window into a
// single timestamp (the first of the run).
func FilterTimes(stamps []time.Time, window time.Duration) []time.Time {
	if len(stamps) == 0 {
		return nil
	}

	sorted := make([]time.Time, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	filtered := []time.Time{sorted[0]}
	for _, ts := range sorted[1:] {
		if ts.Sub(filtered[len(filtered)-1]) > window {
			filtered = append(filtered, ts)
		}
	}
	return filtered
}
