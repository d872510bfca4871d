package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geofetch/geofetch/internal/collection"
	"github.com/geofetch/geofetch/internal/geo"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/job"
	"github.com/geofetch/geofetch/internal/query"
	"github.com/geofetch/geofetch/internal/regions"
)

// JobRunner executes a download job.
type JobRunner interface {
	Run(ctx context.Context, q query.Query) (*job.Report, error)
}

// Handlers holds dependencies for the HTTP handlers.
type Handlers struct {
	runner   JobRunner
	registry *collection.Registry
	regions  *regions.Store
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(runner JobRunner, registry *collection.Registry, regionStore *regions.Store, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner:   runner,
		registry: registry,
		regions:  regionStore,
		logger:   logger,
	}
}

// JobRequest is the POST /jobs body.
type JobRequest struct {
	// BBox is [min_lon, min_lat, max_lon, max_lat]. Exactly one of BBox and
	// Region must be set.
	BBox   []float64 `json:"bbox,omitempty"`
	Region string    `json:"region,omitempty"`

	// Start and End are inclusive "YYYY-MM-DD" dates. Days is an alternative
	// relative window counting back from today.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Days  int    `json:"days,omitempty"`

	Collection string  `json:"collection"`
	Resolution float64 `json:"resolution,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	Evalscript string  `json:"evalscript,omitempty"`
}

// toQuery resolves the request into a query ready for validation.
func (jr JobRequest) toQuery(regionStore *regions.Store) (query.Query, error) {
	q := query.Query{
		Collection: jr.Collection,
		Resolution: jr.Resolution,
		Evalscript: jr.Evalscript,
	}

	switch {
	case jr.Region != "" && len(jr.BBox) > 0:
		return query.Query{}, errors.New("set either bbox or region, not both")
	case jr.Region != "":
		region, err := regionStore.Get(jr.Region)
		if err != nil {
			return query.Query{}, err
		}
		q.Region = region.Name
		q.BBox = region.BBox
	default:
		bbox, err := geo.NewBBox(jr.BBox)
		if err != nil {
			return query.Query{}, err
		}
		q.BBox = bbox
	}

	if jr.Days != 0 {
		q.Interval = query.LastDays(jr.Days, time.Now())
	} else {
		interval, err := query.ParseInterval(jr.Start, jr.End)
		if err != nil {
			return query.Query{}, err
		}
		q.Interval = interval
	}

	mode := jr.Mode
	if mode == "" {
		mode = string(query.ModeSplitMerge)
	}
	parsed, err := query.ParseMode(mode)
	if err != nil {
		return query.Query{}, err
	}
	q.Mode = parsed

	return q, nil
}

// CreateJob runs a download job synchronously and returns its report.
// POST /jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	q, err := req.toQuery(h.regions)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	report, err := h.runner.Run(r.Context(), q)
	if err != nil {
		h.logger.Error("job failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("collection", q.Collection),
			slog.String("error", err.Error()),
		)

		switch {
		case errors.Is(err, hub.ErrAuth), errors.Is(err, hub.ErrServer), errors.Is(err, hub.ErrRateLimited):
			WriteUpstreamError(w, err.Error())
		case report == nil:
			// Nothing ran; the query never validated.
			WriteBadRequest(w, err.Error())
		default:
			WriteInternalError(w, err.Error())
		}
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// Health responds to liveness probes.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// collectionInfo is one /collections list entry.
type collectionInfo struct {
	Name             string  `json:"name"`
	ID               string  `json:"id"`
	Satellite        string  `json:"satellite"`
	NativeResolution float64 `json:"native_resolution"`
}

// Collections lists the known data collections.
// GET /collections
func (h *Handlers) Collections(w http.ResponseWriter, r *http.Request) {
	out := make([]collectionInfo, 0, h.registry.Count())
	for _, name := range h.registry.Names() {
		coll := h.registry.Get(name)
		if coll == nil {
			continue
		}
		out = append(out, collectionInfo{
			Name:             coll.Name,
			ID:               coll.ID,
			Satellite:        coll.Satellite,
			NativeResolution: coll.NativeResolution,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"collections": out})
}

// Regions lists the loaded region names.
// GET /regions
func (h *Handlers) Regions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"regions": h.regions.Names()})
}
