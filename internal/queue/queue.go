// Package queue implements the durable, at-least-once work queue of spec
// §4.1: enqueue(task, schedule_at), dequeue() -> (task, ack_token), and
// reschedule(task, delay). Grounded on the teacher's database/sql + lib/pq
// idiom (internal/database); the queue is a Postgres table rather than a
// dedicated broker because no message-queue client appears anywhere in
// the retrieval pack, and the Catalog's own Postgres connection already
// gives every worker atomic, durable enqueue/lease semantics via
// SELECT ... FOR UPDATE SKIP LOCKED.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// IngestTask is the payload enqueued by the Scheduler and consumed by the
// worker loop — the `{source, run_time, valid_time, url, idx_url}` tuple
// of spec §4.1.
type IngestTask struct {
	Source    string    `json:"source"`
	RunTime   time.Time `json:"run_time"`
	ValidTime time.Time `json:"valid_time"`
	URL       string    `json:"url"`
	IdxURL    string    `json:"idx_url"`
}

// Task is a leased row from the queue, returned by Dequeue. AckToken is
// the row id; it must be passed back to Ack or Reschedule.
type Task struct {
	AckToken   int64
	Payload    json.RawMessage
	EnqueuedAt time.Time
	ScheduleAt time.Time
	Attempts   int
}

// Queue is the Postgres-backed work queue.
type Queue struct {
	db           *sql.DB
	leaseSeconds int
}

// New constructs a Queue bound to the Catalog store's connection pool.
func New(db *sql.DB, leaseSeconds int) *Queue {
	return &Queue{db: db, leaseSeconds: leaseSeconds}
}

// Enqueue inserts task for delivery no earlier than scheduleAt. Delivery
// is at-least-once: callers may enqueue the same logical task more than
// once (e.g. on redelivery after a crash) and both rows are independently
// deliverable.
func (q *Queue) Enqueue(ctx context.Context, task IngestTask, scheduleAt time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal ingest task: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_tasks (payload, schedule_at, state) VALUES ($1, $2, 'queued')`,
		payload, scheduleAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Dequeue leases the oldest-scheduled ready task for LeaseSeconds,
// skipping rows already leased by another worker (SKIP LOCKED avoids
// blocking concurrent dequeuers). Returns (nil, nil) when the queue has
// no ready work.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer tx.Rollback()

	var t Task
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload, enqueued_at, schedule_at, attempts
		FROM queue_tasks
		WHERE state = 'queued' AND schedule_at <= NOW()
		ORDER BY schedule_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&t.AckToken, &t.Payload, &t.EnqueuedAt, &t.ScheduleAt, &t.Attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue select: %w", err)
	}

	leaseUntil := time.Now().UTC().Add(time.Duration(q.leaseSeconds) * time.Second)
	_, err = tx.ExecContext(ctx,
		`UPDATE queue_tasks SET state = 'leased', leased_until = $2, attempts = attempts + 1 WHERE id = $1`,
		t.AckToken, leaseUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}
	t.Attempts++
	return &t, nil
}

// Reschedule re-enqueues a leased task after delay — used on transient
// failure (spec §4.1 worker loop, step c). Expired tasks do not come
// through here; the worker drops them and they are acked (see Ack).
func (q *Queue) Reschedule(ctx context.Context, ackToken int64, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_tasks SET state = 'queued', schedule_at = NOW() + $2::interval, leased_until = NULL WHERE id = $1`,
		ackToken, fmt.Sprintf("%d seconds", int(delay.Seconds())),
	)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return nil
}

// Ack marks a task done by removing its row. Done and Expired are both
// acked this way (spec §4.9); the caller logs the outcome before calling
// Ack so the distinction is visible in worker logs even though the queue
// itself does not retain history.
func (q *Queue) Ack(ctx context.Context, ackToken int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_tasks WHERE id = $1`, ackToken)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

// ReclaimExpiredLeases requeues tasks whose lease has lapsed without an
// ack — the redelivery-on-failure half of "at-least-once" for workers
// that crashed mid-task rather than explicitly rescheduling.
func (q *Queue) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE queue_tasks SET state = 'queued', leased_until = NULL
		 WHERE state = 'leased' AND leased_until < NOW()`,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}
