// Package scheduler implements the per-source cron-like producers of
// spec §4.1: compute a canonical run_time, step through the model's
// forecast horizons, and enqueue one ingest task per horizon at the
// model's known publish latency. The run-time floor and step-widening
// logic is grounded directly on the teacher's `downloadICON` run-time
// computation and `processor.go`'s `createDownloadTasks`
// (hourly steps to +48h, then every 3h to +120h).
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimbusgrid/nimbus/internal/queue"
)

// SourceSchedule describes one source's cadence: how often it publishes
// a run, how long after run_time it becomes available, and how its
// forecast horizon is stepped.
type SourceSchedule struct {
	ShortName    string
	CycleHours   int           // e.g. 1 (hourly) or 6 (6-hourly)
	PublishLag   time.Duration // run_time + PublishLag = acquire_time
	URLTemplate  string        // strftime-style template, see spec §6.1
	IdxTemplate  string
	HorizonSteps []HorizonStep
}

// HorizonStep is one [fromHour, toHour) sub-range of the forecast
// horizon with its own step size — "step by 1 early and widen later"
// (spec §4.1).
type HorizonStep struct {
	FromHour int
	ToHour   int
	StepHours int
}

// CanonicalRunTime floors now to the source's cycle boundary, e.g. the
// top of the hour for hourly models or the most recent 6-hour mark for
// 6-hourly models.
func (s SourceSchedule) CanonicalRunTime(now time.Time) time.Time {
	now = now.UTC()
	flooredHour := (now.Hour() / s.CycleHours) * s.CycleHours
	return time.Date(now.Year(), now.Month(), now.Day(), flooredHour, 0, 0, 0, time.UTC)
}

// AcquireTime is when the run's tasks should be scheduled for delivery.
func (s SourceSchedule) AcquireTime(runTime time.Time) time.Time {
	return runTime.Add(s.PublishLag)
}

// Horizons enumerates every forecast hour offset for one run, honoring
// the step-widening schedule.
func (s SourceSchedule) Horizons() []int {
	var hours []int
	for _, step := range s.HorizonSteps {
		for h := step.FromHour; h < step.ToHour; h += step.StepHours {
			hours = append(hours, h)
		}
	}
	return hours
}

// Producer enqueues one IngestTask per horizon for a source's canonical
// run, scheduled at acquire_time.
type Producer struct {
	Q *queue.Queue
}

// NewProducer constructs a Producer bound to the shared work queue.
func NewProducer(q *queue.Queue) *Producer {
	return &Producer{Q: q}
}

// Produce enqueues tasks for one source's canonical run computed from
// now, returning the run_time used and the number of tasks enqueued.
func (p *Producer) Produce(ctx context.Context, s SourceSchedule, now time.Time) (time.Time, int, error) {
	runTime := s.CanonicalRunTime(now)
	acquireAt := s.AcquireTime(runTime)

	n := 0
	for _, h := range s.Horizons() {
		validTime := runTime.Add(time.Duration(h) * time.Hour)
		task := queue.IngestTask{
			Source:    s.ShortName,
			RunTime:   runTime,
			ValidTime: validTime,
			URL:       renderTemplate(s.URLTemplate, runTime, h),
			IdxURL:    renderTemplate(s.IdxTemplate, runTime, h),
		}
		if err := p.Q.Enqueue(ctx, task, acquireAt); err != nil {
			return runTime, n, fmt.Errorf("enqueue horizon %d for %s: %w", h, s.ShortName, err)
		}
		n++
	}
	return runTime, n, nil
}

// renderTemplate fills in the strftime-style placeholders spec §6.1
// describes ({yyyymmdd}, {HH}, {hh}) for one run/horizon pair.
func renderTemplate(tmpl string, runTime time.Time, horizonHour int) string {
	tmpl = strings.ReplaceAll(tmpl, "{yyyymmdd}", runTime.Format("20060102"))
	tmpl = strings.ReplaceAll(tmpl, "{HH}", fmt.Sprintf("%02d", runTime.Hour()))
	tmpl = strings.ReplaceAll(tmpl, "{hh}", fmt.Sprintf("%02d", horizonHour))
	return tmpl
}
