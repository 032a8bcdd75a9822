// Package merge runs the DataProvider's compaction pass on a timer. The
// compaction algorithm itself is backend-specific (spec §4.6 only
// applies to the object-store backend's small-file problem; the
// wide-column backend's Merge is a no-op) and lives in
// internal/storage; this package is just the periodic driver.
package merge

import (
	"context"
	"log"
	"time"

	"github.com/nimbusgrid/nimbus/internal/storage"
)

// Merger periodically invokes the configured DataProvider's compaction.
type Merger struct {
	Provider storage.DataProvider
}

// New constructs a Merger over provider.
func New(provider storage.DataProvider) *Merger {
	return &Merger{Provider: provider}
}

// Run executes one compaction pass.
func (m *Merger) Run(ctx context.Context) error {
	return m.Provider.Merge(ctx)
}

// RunForever calls Run on the given interval until ctx is done.
func (m *Merger) RunForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Run(ctx); err != nil {
				log.Printf("merger: pass failed: %v", err)
			}
		}
	}
}
