// merge.go implements the object-store backend's compaction pass (spec
// §4.6): small artifacts accumulate one per ingest task, so the Merger
// periodically folds a projection's live bands into fewer, larger
// artifacts and repoints the Catalog at them atomically.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/nimbusgrid/nimbus/internal/catalog"
)

// Merge runs compaction for every known projection in turn. A projection
// whose live-artifact count is below MergeMinArtifacts is left alone.
func (s *S3Store) Merge(ctx context.Context) error {
	projections, err := s.ProjectionRepo.FindAll()
	if err != nil {
		return fmt.Errorf("list projections: %w", err)
	}
	for _, proj := range projections {
		if err := s.mergeProjection(ctx, proj); err != nil {
			return fmt.Errorf("merge projection %d: %w", proj.ID, err)
		}
	}
	return nil
}

func (s *S3Store) mergeProjection(ctx context.Context, proj catalog.Projection) error {
	metas, err := s.FileMetaRepo.FindByProjection(proj.ID)
	if err != nil {
		return fmt.Errorf("find artifacts: %w", err)
	}
	if len(metas) < s.MergeMinArtifacts {
		return nil
	}

	batchSize := (len(metas) + 3) / 4 // spec §4.6: ceil(N/4), capped at 50
	if batchSize > 50 {
		batchSize = 50
	}
	if batchSize < 1 {
		batchSize = 1
	}

	for i := 0; i < len(metas); i += batchSize {
		end := i + batchSize
		if end > len(metas) {
			end = len(metas)
		}
		if err := s.mergeBatch(ctx, proj, metas[i:end]); err != nil {
			return fmt.Errorf("merge batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// mergeBatch folds the live bands of every artifact in batch into one
// new artifact, then repoints those bands at it within a single Catalog
// transaction. Artifacts left with no live bands afterward become the
// Cleaner's orphaned-FileMeta candidates; the Merger never deletes blobs
// itself.
func (s *S3Store) mergeBatch(ctx context.Context, proj catalog.Projection, metas []catalog.FileMeta) error {
	byFile := make(map[string]catalog.FileMeta, len(metas))
	var allBands []catalog.FileBandMeta
	for _, fm := range metas {
		byFile[fm.FileName] = fm
		bands, err := s.FileBandMetaRepo.FindLiveByFileName(fm.FileName, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("find live bands for %s: %w", fm.FileName, err)
		}
		allBands = append(allBands, bands...)
	}
	if len(allBands) == 0 {
		return nil // every artifact in this batch is already orphaned
	}

	sort.Slice(allBands, func(i, j int) bool {
		a, b := allBands[i], allBands[j]
		if a.SourceFieldID != b.SourceFieldID {
			return a.SourceFieldID < b.SourceFieldID
		}
		if !a.ValidTime.Equal(b.ValidTime) {
			return a.ValidTime.Before(b.ValidTime)
		}
		return a.RunTime.Before(b.RunTime)
	})

	newOffsets := make([]int, len(allBands))
	cursor := 0
	for i, b := range allBands {
		newOffsets[i] = cursor
		cursor += 4 * b.ValsPerLoc
	}
	newLocSize := cursor

	newFileName, err := randomFileName()
	if err != nil {
		return fmt.Errorf("generate merged file name: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.MergeRowConcurrency)
	for y := 0; y < proj.NY; y++ {
		y := y
		g.Go(func() error {
			return s.mergeRow(gctx, proj, y, byFile, allBands, newOffsets, newLocSize, newFileName)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.commitMerge(ctx, proj.ID, newFileName, newLocSize, allBands, newOffsets)
}

func (s *S3Store) mergeRow(ctx context.Context, proj catalog.Projection, y int, byFile map[string]catalog.FileMeta, bands []catalog.FileBandMeta, newOffsets []int, newLocSize int, newFileName string) error {
	sourceRows := make(map[string][]byte, len(byFile))
	newRow := make([]byte, proj.NX*newLocSize)

	for i, b := range bands {
		oldFM, ok := byFile[b.FileName]
		if !ok {
			continue // band's file isn't part of this batch
		}
		row, ok := sourceRows[b.FileName]
		if !ok {
			data, err := s.getObjectBytes(ctx, fmt.Sprintf("%d/%s", y, b.FileName))
			if err != nil {
				return fmt.Errorf("read row %d of %s: %w", y, b.FileName, err)
			}
			sourceRows[b.FileName] = data
			row = data
		}

		n := 4 * b.ValsPerLoc
		newOff := newOffsets[i]
		for x := 0; x < proj.NX; x++ {
			oldBase := x*oldFM.LocSize + b.Offset
			newBase := x*newLocSize + newOff
			copy(newRow[newBase:newBase+n], row[oldBase:oldBase+n])
		}
	}

	key := fmt.Sprintf("%d/%s", y, newFileName)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(newRow),
	})
	if err != nil {
		return fmt.Errorf("put merged row %d: %w", y, err)
	}
	return nil
}

func (s *S3Store) commitMerge(ctx context.Context, projectionID int64, newFileName string, newLocSize int, bands []catalog.FileBandMeta, newOffsets []int) error {
	db := s.FileMetaRepo.DB
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge commit: %w", err)
	}
	defer tx.Rollback()

	if err := s.FileMetaRepo.Create(tx, &catalog.FileMeta{
		FileName:     newFileName,
		ProjectionID: projectionID,
		Ctime:        time.Now().UTC(),
		LocSize:      newLocSize,
	}); err != nil {
		return err
	}

	for i, b := range bands {
		if err := s.FileBandMetaRepo.Repoint(tx, b.FileName, b.Offset, newFileName, newOffsets[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}
