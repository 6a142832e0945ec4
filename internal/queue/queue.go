// File path: internal/queue/queue.go

// Package queue implements the durable, crash-safe job queue: a
// SQLite-backed FIFO-within-priority queue with a single in-flight job,
// startup crash recovery, and a bounded recent-jobs ring, mirrored in an
// in-memory priority heap for the consumer loop.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/excavator-project/excavator/internal/logging"
	"github.com/excavator-project/excavator/internal/xerrors"
)

const component = "queue"

// Type enumerates job kinds.
type Type string

const (
	FileExtraction  Type = "FILE_EXTRACTION"
	BatchExtraction Type = "BATCH_EXTRACTION"
	FAEImport       Type = "FAE_IMPORT"
	Correlation     Type = "CORRELATION"
	Transcribe      Type = "TRANSCRIBE"
	VisionAnalyze   Type = "VISION_ANALYZE"
)

// Status is a job's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Priority orders jobs ahead of FIFO within the queue; lower sorts first.
type Priority int

const (
	PUser       Priority = 1
	PFAE        Priority = 2
	PRecent     Priority = 3
	PScheduled  Priority = 4
	PBackground Priority = 5
	PNormal              = PRecent
)

// Job is one queue entry.
type Job struct {
	ID           string          `db:"id" json:"id"`
	Type         Type            `db:"job_type" json:"type"`
	Status       Status          `db:"status" json:"status"`
	PayloadJSON  string          `db:"payload" json:"-"`
	Priority     Priority        `db:"priority" json:"priority"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	StartedAt    *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	Error        string          `db:"error" json:"error,omitempty"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`
	MaxRetries   int             `db:"max_retries" json:"max_retries"`
	Payload      json.RawMessage `db:"-" json:"payload,omitempty"`
}

// Stats is the rollup returned by Stats().
type Stats struct {
	Pending        int            `json:"pending"`
	Running        int            `json:"running"`
	SucceededTotal int            `json:"succeeded_total"`
	FailedTotal    int            `json:"failed_total"`
	ByType         map[string]int `json:"by_type"`
	RecentFailures int            `json:"recent_failures_1h"`
}

type heapItem struct {
	priority  Priority
	createdAt time.Time
	jobID     string
	index     int
}

type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *jobHeap) Push(x interface{}) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the durable job queue.
type Queue struct {
	db            *sqlx.DB
	maxAttempts   int
	recentJobsCap int

	mu      sync.Mutex
	pending jobHeap
	notify  chan struct{}
}

// Open opens the jobs database at path, recovers any jobs stuck `running`
// from a prior crash, and loads pending jobs into the
// in-memory heap.
func Open(ctx context.Context, path string, maxAttempts, recentJobsCap int) (*Queue, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(60000)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.New(xerrors.Fatal, component, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payload TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 3,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			error TEXT,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_priority ON jobs(priority, created_at);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, xerrors.New(xerrors.Fatal, component, fmt.Errorf("migrate: %w", err))
		}
	}

	q := &Queue{db: db, maxAttempts: maxAttempts, recentJobsCap: recentJobsCap, notify: make(chan struct{}, 1)}
	if err := q.recoverCrashedJobs(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := q.loadPendingIntoMemory(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

// recoverCrashedJobs re-queues any job left `running` at a prior crash,
// incrementing its attempt counter.
func (q *Queue) recoverCrashedJobs(ctx context.Context) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE jobs SET status='pending', started_at=NULL, attempt_count=attempt_count+1
WHERE status='running'`)
	if err != nil {
		return fmt.Errorf("recover crashed jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.With(component).Warn("recovered jobs left running across a crash", "count", n)
	}
	return nil
}

func (q *Queue) loadPendingIntoMemory(ctx context.Context) error {
	var rows []Job
	if err := q.db.SelectContext(ctx, &rows, `SELECT * FROM jobs WHERE status='pending' ORDER BY priority, created_at`); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make(jobHeap, 0, len(rows))
	heap.Init(&q.pending)
	for _, r := range rows {
		heap.Push(&q.pending, &heapItem{priority: r.Priority, createdAt: r.CreatedAt, jobID: r.ID})
	}
	return nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue persists a new job, then pushes it onto the in-memory heap, and
// returns its id. Persists before returning.
func (q *Queue) Enqueue(ctx context.Context, jobType Type, payload interface{}, priority Priority) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", xerrors.ProgrammerErrorf(component, "marshal payload: %v", err)
	}
	if priority == 0 {
		priority = PNormal
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO jobs (id, job_type, status, payload, priority, created_at, error, attempt_count, max_retries)
VALUES (?, ?, 'pending', ?, ?, ?, '', 0, ?)`, id, jobType, string(data), priority, now, q.maxAttempts)
	if err != nil {
		return "", xerrors.New(xerrors.TransientIO, component, fmt.Errorf("enqueue: %w", err))
	}
	q.mu.Lock()
	heap.Push(&q.pending, &heapItem{priority: priority, createdAt: now, jobID: id})
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return id, nil
}

// ClaimNext atomically marks the oldest pending job (by priority then FIFO)
// running and returns it, or (nil, nil) if the queue is empty. Guarantees
// at-most-one in-flight job: callers must serialize calls to ClaimNext
// themselves; the daemon runs exactly one consumer loop.
func (q *Queue) ClaimNext(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	if q.pending.Len() == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	item := heap.Pop(&q.pending).(*heapItem)
	q.mu.Unlock()

	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
UPDATE jobs SET status='running', started_at=?, attempt_count=attempt_count+1
WHERE id=? AND status='pending'`, now, item.jobID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already claimed or cancelled out-of-band; try the next one.
		return q.ClaimNext(ctx)
	}
	var job Job
	if err := q.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id=?`, item.jobID); err != nil {
		return nil, err
	}
	job.Payload = json.RawMessage(job.PayloadJSON)
	return &job, nil
}

// Wait blocks until a job is enqueued or ctx is cancelled, for the consumer
// loop to avoid busy-polling.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-q.notify:
	case <-t.C:
	case <-ctx.Done():
	}
}

// Complete marks a job terminal and records its finish timestamp. A job
// whose attempt count would exceed maxAttempts on a future retry is left
// terminal, not re-enqueued — retries are a producer decision.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, errMsg string) error {
	if status != Succeeded && status != Failed && status != Cancelled {
		return xerrors.ProgrammerErrorf(component, "complete: invalid terminal status %q", status)
	}
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status=?, completed_at=?, error=? WHERE id=?`, status, now, errMsg, jobID)
	if err != nil {
		return err
	}
	return q.trimRecent(ctx)
}

// trimRecent enforces the bounded recent-jobs ring:
// terminal jobs beyond recentJobsCap (ordered by completion) are deleted.
func (q *Queue) trimRecent(ctx context.Context) error {
	if q.recentJobsCap <= 0 {
		return nil
	}
	_, err := q.db.ExecContext(ctx, `
DELETE FROM jobs WHERE id IN (
	SELECT id FROM jobs WHERE status IN ('succeeded','failed','cancelled')
	ORDER BY COALESCE(completed_at, started_at, created_at) DESC
	LIMIT -1 OFFSET ?
)`, q.recentJobsCap)
	return err
}

// CleanupOld deletes terminal jobs older than the retention window,
// beyond whatever trimRecent already bounds.
func (q *Queue) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := q.db.ExecContext(ctx, `
DELETE FROM jobs WHERE status IN ('succeeded','failed','cancelled') AND COALESCE(completed_at, created_at) < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Current returns the job currently in the running state, if any.
func (q *Queue) Current(ctx context.Context) (*Job, error) {
	var job Job
	err := q.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE status='running' ORDER BY started_at DESC LIMIT 1`)
	if err != nil {
		return nil, nil
	}
	job.Payload = json.RawMessage(job.PayloadJSON)
	return &job, nil
}

// Recent returns up to n most-recently-touched jobs (running or terminal).
func (q *Queue) Recent(ctx context.Context, n int) ([]Job, error) {
	if n <= 0 {
		n = 10
	}
	var jobs []Job
	err := q.db.SelectContext(ctx, &jobs, `
SELECT * FROM jobs WHERE status != 'pending'
ORDER BY COALESCE(completed_at, started_at, created_at) DESC LIMIT ?`, n)
	for i := range jobs {
		jobs[i].Payload = json.RawMessage(jobs[i].PayloadJSON)
	}
	return jobs, err
}

// PendingCount returns the number of pending jobs.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM jobs WHERE status='pending'`)
	return n, err
}

// Stats returns the queue rollup served by the control plane.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	out.ByType = map[string]int{}
	if err := q.db.GetContext(ctx, &out.Pending, `SELECT COUNT(*) FROM jobs WHERE status='pending'`); err != nil {
		return out, err
	}
	if err := q.db.GetContext(ctx, &out.Running, `SELECT COUNT(*) FROM jobs WHERE status='running'`); err != nil {
		return out, err
	}
	if err := q.db.GetContext(ctx, &out.SucceededTotal, `SELECT COUNT(*) FROM jobs WHERE status='succeeded'`); err != nil {
		return out, err
	}
	if err := q.db.GetContext(ctx, &out.FailedTotal, `SELECT COUNT(*) FROM jobs WHERE status='failed'`); err != nil {
		return out, err
	}
	type row struct {
		Type  string `db:"job_type"`
		Count int    `db:"c"`
	}
	var rows []row
	if err := q.db.SelectContext(ctx, &rows, `SELECT job_type, COUNT(*) AS c FROM jobs GROUP BY job_type`); err != nil {
		return out, err
	}
	for _, r := range rows {
		out.ByType[r.Type] = r.Count
	}
	cutoff := time.Now().UTC().Add(-time.Hour)
	if err := q.db.GetContext(ctx, &out.RecentFailures, `SELECT COUNT(*) FROM jobs WHERE status='failed' AND completed_at >= ?`, cutoff); err != nil {
		return out, err
	}
	return out, nil
}

// ExceedsMaxAttempts reports whether a job's attempt count has crossed its
// configured retry ceiling (default 3), at which point it is terminally
// failed rather than retried.
func (j Job) ExceedsMaxAttempts() bool {
	return j.AttemptCount > j.MaxRetries
}
