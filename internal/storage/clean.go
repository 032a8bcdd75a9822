// clean.go implements the object-store backend's physical cleanup: once
// the Catalog-level Cleaner (internal/clean) has dropped every band
// referencing a FileMeta row, its blobs are still sitting in the bucket
// and the FileMeta row itself still exists. Clean handles this in two
// passes (spec §4.7): step 3 deletes the blobs and Catalog row for any
// FileMeta whose ctime is at or before oldestTime and which no band
// references; step 4 is the belt-and-suspenders bucket scan for objects
// with no FileMeta row at all (e.g. a crashed write left partial
// objects behind) — anything older than orphanScanAge with a file_name
// absent from the Catalog is deleted too.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	deleteBatchSize = 1000
	orphanScanAge   = 3 * time.Hour
)

// Clean drops the blobs and Catalog row for every orphaned artifact
// older than oldestTime, then scans the bucket for objects with no
// FileMeta row at all.
func (s *S3Store) Clean(ctx context.Context, oldestTime time.Time) error {
	candidates, err := s.FileMetaRepo.FindOrphanedCandidates(oldestTime)
	if err != nil {
		return fmt.Errorf("find orphaned artifacts: %w", err)
	}

	projectionNY := map[int64]int{}
	for _, fm := range candidates {
		ny, ok := projectionNY[fm.ProjectionID]
		if !ok {
			proj, err := s.ProjectionRepo.FindByID(fm.ProjectionID)
			if err != nil {
				return fmt.Errorf("find projection %d: %w", fm.ProjectionID, err)
			}
			if proj == nil {
				continue // projection itself was removed; nothing to range over
			}
			ny = proj.NY
			projectionNY[fm.ProjectionID] = ny
		}

		if err := s.deleteArtifact(ctx, fm.FileName, ny); err != nil {
			return fmt.Errorf("delete artifact %s: %w", fm.FileName, err)
		}
		if err := s.FileMetaRepo.Delete(fm.FileName); err != nil {
			return fmt.Errorf("delete file meta %s: %w", fm.FileName, err)
		}
	}

	return s.cleanOrphanedObjects(ctx)
}

// cleanOrphanedObjects lists every object in the bucket, recovers the
// file_name each key was stored under ("{y}/{file_name}"), and deletes
// any object older than orphanScanAge whose file_name has no FileMeta
// row — step 4 of spec §4.7, for objects that never made it into the
// Catalog (e.g. a write that uploaded some y-rows before crashing).
func (s *S3Store) cleanOrphanedObjects(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-orphanScanAge)
	knownFiles := map[string]bool{}

	var toDelete []string
	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list bucket objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}
			fileName := fileNameFromKey(key)
			known, ok := knownFiles[fileName]
			if !ok {
				fm, err := s.FileMetaRepo.FindByName(fileName)
				if err != nil {
					return fmt.Errorf("find file meta %s: %w", fileName, err)
				}
				known = fm != nil
				knownFiles[fileName] = known
			}
			if !known {
				toDelete = append(toDelete, key)
			}
		}
	}

	for i := 0; i < len(toDelete); i += deleteBatchSize {
		end := i + deleteBatchSize
		if end > len(toDelete) {
			end = len(toDelete)
		}
		objs := make([]s3types.ObjectIdentifier, end-i)
		for j, k := range toDelete[i:end] {
			objs[j] = s3types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := s.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.Bucket),
			Delete: &s3types.Delete{Objects: objs},
		})
		if err != nil {
			return fmt.Errorf("delete orphaned objects batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// fileNameFromKey strips the "{y}/" row prefix a PutFields object key
// carries, recovering the file_name it was written under.
func fileNameFromKey(key string) string {
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

func (s *S3Store) deleteArtifact(ctx context.Context, fileName string, ny int) error {
	keys := make([]string, ny)
	for y := 0; y < ny; y++ {
		keys[y] = fmt.Sprintf("%d/%s", y, fileName)
	}

	for i := 0; i < len(keys); i += deleteBatchSize {
		end := i + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		objs := make([]s3types.ObjectIdentifier, end-i)
		for j, k := range keys[i:end] {
			objs[j] = s3types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := s.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.Bucket),
			Delete: &s3types.Delete{Objects: objs},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
