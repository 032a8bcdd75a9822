// Package clean implements the retention sweep of spec §4.7: expired
// bands and superseded forecast runs are dropped from the Catalog, then
// the backing DataProvider is asked to reclaim any artifact nothing
// references any longer.
package clean

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/storage"
)

// Cleaner runs the four-step retention sweep on a timer.
type Cleaner struct {
	FileBandMetaRepo *catalog.FileBandMetaRepository
	Provider         storage.DataProvider
	RetentionHours   int
}

// New constructs a Cleaner with the configured retention horizon.
func New(fileBandMetaRepo *catalog.FileBandMetaRepository, provider storage.DataProvider, retentionHours int) *Cleaner {
	return &Cleaner{FileBandMetaRepo: fileBandMetaRepo, Provider: provider, RetentionHours: retentionHours}
}

// Run executes one sweep: delete expired bands, delete superseded runs,
// then delegate orphaned-artifact reclamation to the DataProvider (spec
// §4.7 steps 3-4, which are backend-specific).
func (c *Cleaner) Run(ctx context.Context) error {
	retention := time.Duration(c.RetentionHours) * time.Hour

	expired, err := c.FileBandMetaRepo.DeleteExpired(retention)
	if err != nil {
		return fmt.Errorf("delete expired bands: %w", err)
	}
	log.Printf("cleaner: deleted %d expired bands", expired)

	superseded, err := c.FileBandMetaRepo.DeleteSupersededRuns()
	if err != nil {
		return fmt.Errorf("delete superseded runs: %w", err)
	}
	log.Printf("cleaner: deleted %d superseded-run bands", superseded)

	oldestTime := time.Now().UTC().Add(-retention)
	if err := c.Provider.Clean(ctx, oldestTime); err != nil {
		return fmt.Errorf("provider clean: %w", err)
	}
	return nil
}

// RunForever calls Run on the given interval until ctx is done, logging
// (rather than aborting) per-sweep errors so one bad sweep doesn't stop
// future ones.
func (c *Cleaner) RunForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Run(ctx); err != nil {
				log.Printf("cleaner: sweep failed: %v", err)
			}
		}
	}
}
