// Package queue provides the persistent job queue backing document ingestion
// and maintenance work.
//
// Jobs live in Postgres next to the data they describe, so enqueueing a job
// and updating a document row commit in the same database. Claiming uses
// FOR UPDATE SKIP LOCKED so any number of workers can poll the same table
// without coordination; a visibility deadline returns jobs whose worker died
// to the queue after a timeout.
//
// The package also carries the AMQP status fan-out (fanout.go): terminal
// document state changes are published to a durable queue for downstream
// consumers such as notification services.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dealgraph.org/common"
	"dealgraph.org/db"
)

// Job states.
const (
	StateCreated   = "created"
	StateActive    = "active"
	StateCompleted = "completed"
	StateRetry     = "retry"
	StateFailed    = "failed"
	StateArchived  = "archived"
)

// ErrDuplicate is returned by Enqueue when an equivalent pending job already
// exists for the singleton key.
var ErrDuplicate = errors.New("duplicate singleton job")

// Job is one unit of queued work.
type Job struct {
	ID                 string
	Kind               string
	Payload            []byte
	State              string
	Attempt            int
	MaxAttempts        int
	Priority           int
	SingletonKey       *string
	RunAt              time.Time
	ClaimedBy          string
	VisibilityDeadline *time.Time
	LastError          string
	CreatedAt          time.Time
	FinishedAt         *time.Time
}

// UnmarshalPayload decodes the job payload into dst.
func (j *Job) UnmarshalPayload(dst interface{}) error {
	return json.Unmarshal(j.Payload, dst)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    id                  UUID PRIMARY KEY,
    kind                TEXT NOT NULL,
    payload             JSONB NOT NULL DEFAULT '{}',
    state               TEXT NOT NULL DEFAULT 'created',
    attempt             INT NOT NULL DEFAULT 0,
    max_attempts        INT NOT NULL DEFAULT 3,
    priority            INT NOT NULL DEFAULT 0,
    singleton_key       TEXT,
    run_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    claimed_by          TEXT NOT NULL DEFAULT '',
    visibility_deadline TIMESTAMPTZ,
    last_error          TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_fetch
    ON jobs (kind, priority DESC, run_at)
    WHERE state IN ('created', 'retry');

CREATE INDEX IF NOT EXISTS idx_jobs_visibility
    ON jobs (visibility_deadline)
    WHERE state = 'active';

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_singleton
    ON jobs (kind, singleton_key)
    WHERE singleton_key IS NOT NULL AND state IN ('created', 'active', 'retry');

CREATE TABLE IF NOT EXISTS jobs_archive (
    LIKE jobs INCLUDING ALL
);
`

// JobQueue is the Postgres-backed queue.
type JobQueue struct {
	pg                *db.PostgresDB
	visibilityTimeout time.Duration
	maxRetries        int
}

// NewJobQueue wires a queue onto an existing pgx pool.
func NewJobQueue(pg *db.PostgresDB, visibilityTimeout time.Duration, maxRetries int) *JobQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 10 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &JobQueue{pg: pg, visibilityTimeout: visibilityTimeout, maxRetries: maxRetries}
}

// EnsureSchema creates the jobs tables and indexes if missing.
func (q *JobQueue) EnsureSchema(ctx context.Context) error {
	if _, err := q.pg.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create jobs schema: %w", err)
	}
	return nil
}

// EnqueueParams describes a job to enqueue.
type EnqueueParams struct {
	Kind string
	// Payload is marshaled to JSON.
	Payload interface{}
	// SingletonKey deduplicates: at most one pending or running job per
	// (kind, key). Empty disables deduplication.
	SingletonKey string
	// RunAt defers execution; zero means immediately.
	RunAt       time.Time
	Priority    int
	MaxAttempts int
}

// Enqueue inserts a job. With a singleton key, a second enqueue while an
// equivalent job is still pending returns ErrDuplicate alongside the id of
// the existing job.
func (q *JobQueue) Enqueue(ctx context.Context, p EnqueueParams) (string, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = q.maxRetries
	}

	id := uuid.NewString()
	var singleton *string
	if p.SingletonKey != "" {
		singleton = &p.SingletonKey
	}

	rows, err := q.pg.Exec(ctx, `
		INSERT INTO jobs (id, kind, payload, state, max_attempts, priority, singleton_key, run_at)
		VALUES ($1, $2, $3, 'created', $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		id, p.Kind, payload, p.MaxAttempts, p.Priority, singleton, p.RunAt)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	if rows == 0 {
		var existing string
		err := q.pg.QueryRow(ctx, `
			SELECT id FROM jobs
			WHERE kind = $1 AND singleton_key = $2 AND state IN ('created', 'active', 'retry')`,
			p.Kind, p.SingletonKey).Scan(&existing)
		if err != nil {
			return "", fmt.Errorf("failed to resolve duplicate job: %w", err)
		}
		return existing, ErrDuplicate
	}

	common.Logger.WithFields(map[string]interface{}{
		"job_id": id, "kind": p.Kind,
	}).Debug("job enqueued")
	return id, nil
}

const jobColumns = `id, kind, payload, state, attempt, max_attempts, priority,
	singleton_key, run_at, claimed_by, visibility_deadline, last_error, created_at, finished_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &j.State, &j.Attempt, &j.MaxAttempts,
		&j.Priority, &j.SingletonKey, &j.RunAt, &j.ClaimedBy, &j.VisibilityDeadline,
		&j.LastError, &j.CreatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Fetch atomically claims up to limit runnable jobs of the given kinds.
// Claimed jobs move to active with a visibility deadline; a worker that
// stops heartbeating loses its claim when ReapExpired runs.
func (q *JobQueue) Fetch(ctx context.Context, workerID string, kinds []string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	deadline := time.Now().UTC().Add(q.visibilityTimeout)

	rows, err := q.pg.Query(ctx, fmt.Sprintf(`
		UPDATE jobs SET
			state = 'active',
			attempt = attempt + 1,
			claimed_by = $1,
			visibility_deadline = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE state IN ('created', 'retry')
			  AND kind = ANY($3)
			  AND run_at <= now()
			ORDER BY priority DESC, run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, jobColumns),
		workerID, deadline, kinds, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Complete marks an active job finished.
func (q *JobQueue) Complete(ctx context.Context, jobID string) error {
	rows, err := q.pg.Exec(ctx, `
		UPDATE jobs SET state = 'completed', finished_at = now(), visibility_deadline = NULL
		WHERE id = $1 AND state = 'active'`, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s not active", jobID)
	}
	return nil
}

// Fail records a failure. Retryable failures with attempts remaining move to
// retry with exponential backoff; everything else moves to failed.
func (q *JobQueue) Fail(ctx context.Context, job *Job, cause error, retryable bool) error {
	msg := ""
	if cause != nil {
		msg = common.Truncate(cause.Error(), 2000)
	}

	if retryable && job.Attempt < job.MaxAttempts {
		runAt := time.Now().UTC().Add(RetryDelay(job.Attempt))
		_, err := q.pg.Exec(ctx, `
			UPDATE jobs SET state = 'retry', run_at = $2, last_error = $3, visibility_deadline = NULL
			WHERE id = $1`, job.ID, runAt, msg)
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		common.Logger.WithFields(map[string]interface{}{
			"job_id": job.ID, "kind": job.Kind, "attempt": job.Attempt, "run_at": runAt,
		}).Warn("job retry scheduled")
		return nil
	}

	_, err := q.pg.Exec(ctx, `
		UPDATE jobs SET state = 'failed', finished_at = now(), last_error = $2, visibility_deadline = NULL
		WHERE id = $1`, job.ID, msg)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	common.Logger.WithFields(map[string]interface{}{
		"job_id": job.ID, "kind": job.Kind, "attempt": job.Attempt,
	}).Error("job failed terminally")
	return nil
}

// Heartbeat extends the visibility deadline of a job still being worked.
func (q *JobQueue) Heartbeat(ctx context.Context, jobID, workerID string) error {
	deadline := time.Now().UTC().Add(q.visibilityTimeout)
	rows, err := q.pg.Exec(ctx, `
		UPDATE jobs SET visibility_deadline = $3
		WHERE id = $1 AND claimed_by = $2 AND state = 'active'`,
		jobID, workerID, deadline)
	if err != nil {
		return fmt.Errorf("failed to heartbeat job: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s no longer claimed by %s", jobID, workerID)
	}
	return nil
}

// ReapExpired returns timed-out active jobs to the queue. Jobs out of
// attempts move to failed instead.
func (q *JobQueue) ReapExpired(ctx context.Context) (int64, error) {
	retried, err := q.pg.Exec(ctx, `
		UPDATE jobs SET state = 'retry', claimed_by = '', visibility_deadline = NULL,
			last_error = 'visibility timeout expired'
		WHERE state = 'active' AND visibility_deadline < now() AND attempt < max_attempts`)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired jobs: %w", err)
	}
	failed, err := q.pg.Exec(ctx, `
		UPDATE jobs SET state = 'failed', finished_at = now(), visibility_deadline = NULL,
			last_error = 'visibility timeout expired'
		WHERE state = 'active' AND visibility_deadline < now()`)
	if err != nil {
		return retried, fmt.Errorf("failed to fail expired jobs: %w", err)
	}
	if retried+failed > 0 {
		common.Logger.WithFields(map[string]interface{}{
			"retried": retried, "failed": failed,
		}).Warn("reaped expired jobs")
	}
	return retried + failed, nil
}

// ArchiveFinished moves completed and failed jobs older than the cutoff into
// jobs_archive, keeping the hot table small.
func (q *JobQueue) ArchiveFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var moved int64
	err := q.pg.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			WITH moved AS (
				DELETE FROM jobs
				WHERE state IN ('completed', 'failed') AND finished_at < $1
				RETURNING *
			)
			INSERT INTO jobs_archive SELECT * FROM moved`, cutoff)
		if err != nil {
			return err
		}
		moved = tag.RowsAffected()
		if moved > 0 {
			_, err = tx.Exec(ctx, `UPDATE jobs_archive SET state = 'archived' WHERE state <> 'archived'`)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive jobs: %w", err)
	}
	return moved, nil
}

// Get loads a job by id from the hot table.
func (q *JobQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	return scanJob(q.pg.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns), jobID))
}

// PendingCount returns runnable jobs per kind, for the health endpoint.
func (q *JobQueue) PendingCount(ctx context.Context) (map[string]int64, error) {
	rows, err := q.pg.Query(ctx, `
		SELECT kind, count(*) FROM jobs
		WHERE state IN ('created', 'retry')
		GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
