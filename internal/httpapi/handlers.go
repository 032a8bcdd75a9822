// Package httpapi implements the five read endpoints of spec §6.3 over
// the Catalog and the point-query service, following the teacher's
// handler-struct-plus-sendJSON pattern (internal/handlers/weather_handler.go).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/query"
)

// Handler serves every route of spec §6.3.
type Handler struct {
	SourceRepo   *catalog.SourceRepository
	MetricRepo   *catalog.MetricRepository
	LocationRepo *catalog.LocationRepository
	QueryService *query.Service
}

// New constructs a Handler.
func New(sourceRepo *catalog.SourceRepository, metricRepo *catalog.MetricRepository, locationRepo *catalog.LocationRepository, queryService *query.Service) *Handler {
	return &Handler{
		SourceRepo:   sourceRepo,
		MetricRepo:   metricRepo,
		LocationRepo: locationRepo,
		QueryService: queryService,
	}
}

// HandleSources handles GET /sources.
func (h *Handler) HandleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sources, err := h.SourceRepo.FindAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, sources)
}

// HandleSource handles GET /source/{id}.
func (h *Handler) HandleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := pathID(r.URL.Path, "/source/")
	if err != nil {
		http.Error(w, "invalid source id", http.StatusBadRequest)
		return
	}
	source, err := h.SourceRepo.FindByID(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if source == nil {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}
	sendJSON(w, source)
}

// HandleMetrics handles GET /metrics.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics, err := h.MetricRepo.FindAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, metrics)
}

// HandleLocationSearch handles GET /location/search?q=.
func (h *Handler) HandleLocationSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		http.Error(w, "q must be at least 2 characters", http.StatusBadRequest)
		return
	}
	locations, err := h.LocationRepo.Search(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, locations)
}

// HandleWeather handles GET /wx?lat=&lon=&start=&end=&metrics=, the
// point-query endpoint of spec §4.8/§6.3.
func (h *Handler) HandleWeather(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()

	lat, err := strconv.ParseFloat(query.Get("lat"), 64)
	if err != nil {
		http.Error(w, "invalid lat", http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(query.Get("lon"), 64)
	if err != nil {
		http.Error(w, "invalid lon", http.StatusBadRequest)
		return
	}

	start, err := parseTimeParam(query.Get("start"), time.Now().UTC())
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := parseTimeParam(query.Get("end"), start.Add(48*time.Hour))
	if err != nil {
		http.Error(w, "invalid end", http.StatusBadRequest)
		return
	}

	metricsParam := query.Get("metrics")
	if metricsParam == "" {
		http.Error(w, "metrics is required", http.StatusBadRequest)
		return
	}
	metricNames := strings.Split(metricsParam, ",")
	for i := range metricNames {
		metricNames[i] = strings.TrimSpace(metricNames[i])
	}

	result, err := h.QueryService.Query(r.Context(), lat, lon, start, end, metricNames)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, result)
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseTimeParam(v string, fallback time.Time) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, v)
}

func pathID(path, prefix string) (int64, error) {
	idStr := strings.TrimPrefix(path, prefix)
	return strconv.ParseInt(idStr, 10, 64)
}
