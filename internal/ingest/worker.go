// Package ingest implements the worker loop of spec §4.1/§4.9: dequeue
// one task, fetch only its selected fields, decode, run the source's
// derived-field generators, and commit everything to storage and the
// Catalog — rescheduling the task on transient failure, dropping it on
// expiry.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/decode"
	"github.com/nimbusgrid/nimbus/internal/derive"
	"github.com/nimbusgrid/nimbus/internal/queue"
	"github.com/nimbusgrid/nimbus/internal/reduce"
	"github.com/nimbusgrid/nimbus/internal/storage"
)

const (
	fetchConcurrency = 16               // spec §4.2: "bounded worker pool"
	rescheduleDelay  = 5 * time.Minute  // spec §4.9: transient-failure backoff
	expireGrace      = 12 * time.Hour   // spec §4.1/§4.9/§8: queue expiry grace window
)

// Worker processes tasks from the queue.
type Worker struct {
	Queue              *queue.Queue
	SourceRepo         *catalog.SourceRepository
	SourceFieldRepo    *catalog.SourceFieldRepository
	MetricRepo         *catalog.MetricRepository
	ProjectionRegistry *decode.ProjectionRegistry
	Provider           storage.DataProvider
	Reducer            *reduce.Reducer
	Decoder            *decode.Decoder
	Generators         []derive.Generator
	HTTPClient         *http.Client
	ErrorReporter      func(error) // optional; e.g. tracing.SentryClient.CaptureError
}

func (w *Worker) reportError(err error) {
	if w.ErrorReporter != nil {
		w.ErrorReporter(err)
	}
}

// RunOnce dequeues and processes a single task, returning false if the
// queue had no ready work.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.Queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if task == nil {
		return false, nil
	}

	if err := w.process(ctx, task); err != nil {
		log.Printf("ingest: task %d failed, rescheduling: %v", task.AckToken, err)
		w.reportError(err)
		if rerr := w.Queue.Reschedule(ctx, task.AckToken, rescheduleDelay); rerr != nil {
			return true, fmt.Errorf("reschedule after failure: %w", rerr)
		}
		return true, nil
	}
	if err := w.Queue.Ack(ctx, task.AckToken); err != nil {
		return true, fmt.Errorf("ack task: %w", err)
	}
	return true, nil
}

// RunForever loops RunOnce until ctx is done, sleeping briefly whenever
// the queue is empty.
func (w *Worker) RunForever(ctx context.Context, idleDelay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		did, err := w.RunOnce(ctx)
		if err != nil {
			log.Printf("ingest: worker error: %v", err)
		}
		if !did {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleDelay):
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, leased *queue.Task) error {
	var task queue.IngestTask
	if err := json.Unmarshal(leased.Payload, &task); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}

	if time.Since(task.ValidTime) > expireGrace {
		log.Printf("ingest: dropping expired task for %s valid_time=%s", task.Source, task.ValidTime)
		return nil
	}

	source, err := w.SourceRepo.FindByShortName(task.Source)
	if err != nil {
		return fmt.Errorf("find source %s: %w", task.Source, err)
	}
	if source == nil {
		return fmt.Errorf("unknown source %q", task.Source)
	}

	fields, err := w.SourceFieldRepo.FindBySource(source.ID)
	if err != nil {
		return fmt.Errorf("find source fields: %w", err)
	}

	selected := map[reduce.FieldKey]bool{}
	fieldByKey := map[reduce.FieldKey]catalog.SourceField{}
	for _, f := range fields {
		key := reduce.FieldKey{ShortName: f.IndexShortName, Level: f.IndexLevel}
		selected[key] = true
		fieldByKey[key] = f
	}

	idxText, err := w.fetchIndex(ctx, task.IdxURL)
	if err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}

	ranges, err := reduce.ParseIndex(idxText, selected)
	if err != nil {
		return fmt.Errorf("parse index: %w", err)
	}
	if len(ranges) == 0 {
		return nil
	}

	data, err := w.Reducer.FetchRanges(ctx, task.URL, ranges, fetchConcurrency)
	if err != nil {
		return fmt.Errorf("fetch ranges: %w", err)
	}

	messages, decodeErrs := w.Decoder.Decode(bytes.NewReader(data))
	for _, derr := range decodeErrs {
		log.Printf("ingest: malformed band skipped: %v", derr)
	}
	if len(messages) == 0 {
		return nil
	}

	var derived []derive.DerivedArray
	for _, gen := range w.Generators {
		out, err := gen.Derive(messages)
		if err != nil {
			log.Printf("ingest: derive failed: %v", err)
			continue
		}
		derived = append(derived, out...)
	}

	return w.commit(ctx, *source, messages, derived, fieldByKey)
}

func (w *Worker) fetchIndex(ctx context.Context, idxURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idxURL, nil)
	if err != nil {
		return "", fmt.Errorf("build index request: %w", err)
	}
	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get index: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read index body: %w", err)
	}
	return string(body), nil
}

func (w *Worker) commit(ctx context.Context, source catalog.Source, messages []decode.RawMessage, derived []derive.DerivedArray, fieldByKey map[reduce.FieldKey]catalog.SourceField) error {
	byProjection := map[int64][]storage.Band{}
	var lastProjectionID int64

	for _, m := range messages {
		field, ok := fieldByKey[reduce.FieldKey{ShortName: m.ShortName, Level: m.Level}]
		if !ok {
			continue
		}
		proj, err := w.ProjectionRegistry.Resolve(ctx, m.Lats, m.Lons)
		if err != nil {
			return fmt.Errorf("resolve projection: %w", err)
		}
		if !field.ProjectionID.Valid {
			if err := w.SourceFieldRepo.SetProjection(field.ID, proj.ID); err != nil {
				return fmt.Errorf("set source field projection: %w", err)
			}
		}
		lastProjectionID = proj.ID
		byProjection[proj.ID] = append(byProjection[proj.ID], storage.Band{
			Key: storage.BandKey{
				SourceFieldID: field.ID,
				ValidTime:     m.ValidTime(),
				RunTime:       m.AnalDate,
			},
			Values: toFloat32Grid(m.Values),
		})
	}

	for _, arr := range derived {
		if lastProjectionID == 0 {
			continue // no directly-decoded band resolved a projection this task
		}
		metric, err := w.MetricRepo.FindByName(arr.MetricName)
		if err != nil {
			return fmt.Errorf("find derived metric %s: %w", arr.MetricName, err)
		}
		if metric == nil {
			continue // derived metric not registered for this deployment
		}
		field, err := w.SourceFieldRepo.FindBySourceAndMetric(source.ID, metric.ID)
		if err != nil {
			return fmt.Errorf("find derived source field: %w", err)
		}
		if field == nil {
			continue
		}
		if !field.ProjectionID.Valid {
			if err := w.SourceFieldRepo.SetProjection(field.ID, lastProjectionID); err != nil {
				return fmt.Errorf("set derived source field projection: %w", err)
			}
		}
		byProjection[lastProjectionID] = append(byProjection[lastProjectionID], storage.Band{
			Key: storage.BandKey{
				SourceFieldID: field.ID,
				ValidTime:     arr.ValidTime,
				RunTime:       arr.RunTime,
			},
			Values: toFloat32Grid(arr.Values),
		})
	}

	for projectionID, bands := range byProjection {
		if err := w.Provider.PutFields(ctx, projectionID, bands); err != nil {
			return fmt.Errorf("put fields for projection %d: %w", projectionID, err)
		}
	}
	if len(byProjection) > 0 {
		if err := w.SourceRepo.TouchLastUpdated(source.ID, time.Now().UTC()); err != nil {
			log.Printf("ingest: update last_updated for %s: %v", source.ShortName, err)
		}
	}
	return nil
}

func toFloat32Grid(grid [][]float64) [][]float32 {
	out := make([][]float32, len(grid))
	for y, row := range grid {
		f32row := make([]float32, len(row))
		for x, v := range row {
			f32row[x] = float32(v)
		}
		out[y] = f32row
	}
	return out
}
