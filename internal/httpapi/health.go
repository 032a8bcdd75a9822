// health.go adapts the teacher's internal/handlers/system_handler.go
// into the new Catalog schema: same runtime-stats-plus-DB-ping shape,
// but "is data flowing" is answered from catalog.Source.LastUpdated
// rather than the old icon_tile_forecasts table.
package httpapi

import (
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/nimbusgrid/nimbus/internal/catalog"
)

// Health is the /health response shape.
type Health struct {
	Status         string         `json:"status"`
	Timestamp      time.Time      `json:"timestamp"`
	DatabaseStatus string         `json:"database_status"`
	MemoryUsage    string         `json:"memory_usage"`
	NumGoroutines  int            `json:"num_goroutines"`
	Sources        []SourceHealth `json:"sources,omitempty"`
}

// SourceHealth reports one source's last successful ingest.
type SourceHealth struct {
	ShortName   string    `json:"short_name"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// HealthHandler serves /health with a DB ping and per-source freshness.
type HealthHandler struct {
	DB         *sql.DB
	SourceRepo *catalog.SourceRepository
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *sql.DB, sourceRepo *catalog.SourceRepository) *HealthHandler {
	return &HealthHandler{DB: db, SourceRepo: sourceRepo}
}

// HandleHealth handles GET /health.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}

	if err := h.DB.Ping(); err != nil {
		health.Status = "degraded"
		health.DatabaseStatus = "error: " + err.Error()
	} else {
		health.DatabaseStatus = "connected"
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	health.MemoryUsage = formatMemory(memStats.Alloc)
	health.NumGoroutines = runtime.NumGoroutine()

	if sources, err := h.SourceRepo.FindAll(); err == nil {
		for _, s := range sources {
			sh := SourceHealth{ShortName: s.ShortName}
			if s.LastUpdated.Valid {
				sh.LastUpdated = s.LastUpdated.Time
			}
			health.Sources = append(health.Sources, sh)
		}
	}

	sendJSON(w, health)
}

func formatMemory(bytes uint64) string {
	const (
		_  = iota
		kb = 1 << (10 * iota)
		mb
		gb
	)
	switch {
	case bytes >= gb:
		return formatUnit(bytes, gb, "GB")
	case bytes >= mb:
		return formatUnit(bytes, mb, "MB")
	case bytes >= kb:
		return formatUnit(bytes, kb, "KB")
	default:
		return formatUnit(bytes, 1, "bytes")
	}
}

func formatUnit(bytes uint64, unit uint64, name string) string {
	if bytes%unit == 0 {
		return fmt.Sprintf("%d %s", bytes/unit, name)
	}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(unit), name)
}
