// Package checkpoint persists agent workflow state so long-running sessions
// (CIM authoring, supervisor runs) survive restarts and can be resumed or
// rewound. Checkpoints are append-only per (thread, namespace); the latest
// checkpoint is the live state and older ones form the undo history.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dealgraph.org/common"
	"dealgraph.org/db"
)

// DefaultRetention is how long checkpoints are kept before the cleanup job
// removes them.
const DefaultRetention = 30 * 24 * time.Hour

// Checkpoint is one saved workflow state. Namespace separates sub-workflows
// sharing a thread; the top-level workflow uses the empty namespace.
type Checkpoint struct {
	ThreadID     string
	Namespace    string
	CheckpointID string
	ParentID     string
	State        json.RawMessage
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

// PendingWrite is a buffered channel write attached to a checkpoint, applied
// when the workflow resumes.
type PendingWrite struct {
	CheckpointID string
	TaskID       string
	Channel      string
	Value        json.RawMessage
}

// ChannelBlob is a versioned channel value too large or too opaque to live in
// the checkpoint state itself.
type ChannelBlob struct {
	Channel string
	Version string
	Type    string
	Blob    []byte
}

// Store is the Postgres-backed checkpointer.
type Store struct {
	pg *db.PostgresDB
}

// NewStore wires the checkpointer onto the shared pgx pool.
func NewStore(pg *db.PostgresDB) *Store {
	return &Store{pg: pg}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
    thread_id     TEXT NOT NULL,
    checkpoint_ns TEXT NOT NULL DEFAULT '',
    checkpoint_id UUID NOT NULL,
    parent_id     UUID,
    state         JSONB NOT NULL,
    metadata      JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_time
    ON workflow_checkpoints (thread_id, checkpoint_ns, created_at DESC);

CREATE TABLE IF NOT EXISTS workflow_checkpoint_writes (
    thread_id     TEXT NOT NULL,
    checkpoint_ns TEXT NOT NULL DEFAULT '',
    checkpoint_id UUID NOT NULL,
    task_id       TEXT NOT NULL,
    channel       TEXT NOT NULL,
    value         JSONB,
    PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, channel)
);

CREATE TABLE IF NOT EXISTS workflow_checkpoint_blobs (
    thread_id     TEXT NOT NULL,
    checkpoint_ns TEXT NOT NULL DEFAULT '',
    channel       TEXT NOT NULL,
    version       TEXT NOT NULL,
    type          TEXT NOT NULL DEFAULT '',
    blob          BYTEA,
    PRIMARY KEY (thread_id, checkpoint_ns, channel, version)
);
`

// EnsureSchema creates the checkpoint tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pg.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// PutParams describes one checkpoint to save.
type PutParams struct {
	ThreadID  string
	Namespace string
	// CheckpointID is the idempotency key within (thread, namespace). Empty
	// generates one; callers that may re-deliver the same step supply their
	// own so the retry is a no-op.
	CheckpointID string
	State        json.RawMessage
	Metadata     map[string]interface{}
}

// Put saves a checkpoint and returns its id. The previous latest checkpoint
// in the same thread and namespace becomes the parent. Saving an id that
// already exists returns it without writing, so re-delivered steps do not
// fork the history.
func (s *Store) Put(ctx context.Context, p PutParams) (string, error) {
	if p.ThreadID == "" {
		return "", common.E(common.KindValidation, "thread id is required")
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return "", common.Wrap(common.KindValidation, "checkpoint metadata not serializable", err)
	}

	checkpointID := p.CheckpointID
	if checkpointID == "" {
		checkpointID = uuid.NewString()
	}
	err = s.pg.WithTx(ctx, func(tx pgx.Tx) error {
		var parentID *string
		err := tx.QueryRow(ctx, `
			SELECT checkpoint_id::text FROM workflow_checkpoints
			WHERE thread_id = $1 AND checkpoint_ns = $2
			ORDER BY created_at DESC LIMIT 1`, p.ThreadID, p.Namespace).Scan(&parentID)
		if err != nil && err != pgx.ErrNoRows {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_id, state, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id) DO NOTHING`,
			p.ThreadID, p.Namespace, checkpointID, parentID, p.State, metaJSON)
		return err
	})
	if err != nil {
		return "", common.Wrap(common.KindTransientIO, "failed to save checkpoint", err)
	}
	return checkpointID, nil
}

const checkpointColumns = `thread_id, checkpoint_ns, checkpoint_id::text,
	COALESCE(parent_id::text, ''), state, metadata, created_at`

// GetLatest returns the newest checkpoint for a thread and namespace.
func (s *Store) GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error) {
	row := s.pg.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM workflow_checkpoints
		WHERE thread_id = $1 AND checkpoint_ns = $2
		ORDER BY created_at DESC LIMIT 1`, checkpointColumns), threadID, namespace)
	cp, err := scanCheckpoint(row)
	if err == pgx.ErrNoRows {
		return nil, common.E(common.KindNotFound, "no checkpoint for thread")
	}
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to load checkpoint", err)
	}
	return cp, nil
}

// Get returns a specific checkpoint.
func (s *Store) Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error) {
	row := s.pg.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM workflow_checkpoints
		WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3`, checkpointColumns),
		threadID, namespace, checkpointID)
	cp, err := scanCheckpoint(row)
	if err == pgx.ErrNoRows {
		return nil, common.E(common.KindNotFound, "checkpoint not found")
	}
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to load checkpoint", err)
	}
	return cp, nil
}

// List returns checkpoints for a thread and namespace, newest first.
func (s *Store) List(ctx context.Context, threadID, namespace string, limit int) ([]Checkpoint, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pg.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM workflow_checkpoints
		WHERE thread_id = $1 AND checkpoint_ns = $2
		ORDER BY created_at DESC LIMIT $3`, checkpointColumns), threadID, namespace, limit)
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to list checkpoints", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// PutWrites buffers pending channel writes for a checkpoint.
func (s *Store) PutWrites(ctx context.Context, threadID, namespace string, writes []PendingWrite) error {
	return s.pg.WithTx(ctx, func(tx pgx.Tx) error {
		for _, w := range writes {
			_, err := tx.Exec(ctx, `
				INSERT INTO workflow_checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, channel, value)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, channel)
				DO UPDATE SET value = EXCLUDED.value`,
				threadID, namespace, w.CheckpointID, w.TaskID, w.Channel, w.Value)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetWrites returns buffered writes for a checkpoint.
func (s *Store) GetWrites(ctx context.Context, threadID, namespace, checkpointID string) ([]PendingWrite, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT checkpoint_id::text, task_id, channel, value
		FROM workflow_checkpoint_writes
		WHERE thread_id = $1 AND checkpoint_ns = $2 AND checkpoint_id = $3`,
		threadID, namespace, checkpointID)
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to load checkpoint writes", err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var w PendingWrite
		if err := rows.Scan(&w.CheckpointID, &w.TaskID, &w.Channel, &w.Value); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// PutBlobs upserts versioned channel values for a thread and namespace.
func (s *Store) PutBlobs(ctx context.Context, threadID, namespace string, blobs []ChannelBlob) error {
	return s.pg.WithTx(ctx, func(tx pgx.Tx) error {
		for _, b := range blobs {
			_, err := tx.Exec(ctx, `
				INSERT INTO workflow_checkpoint_blobs (thread_id, checkpoint_ns, channel, version, type, blob)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (thread_id, checkpoint_ns, channel, version)
				DO UPDATE SET type = EXCLUDED.type, blob = EXCLUDED.blob`,
				threadID, namespace, b.Channel, b.Version, b.Type, b.Blob)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetBlob loads one versioned channel value.
func (s *Store) GetBlob(ctx context.Context, threadID, namespace, channel, version string) (*ChannelBlob, error) {
	var b ChannelBlob
	err := s.pg.QueryRow(ctx, `
		SELECT channel, version, type, blob FROM workflow_checkpoint_blobs
		WHERE thread_id = $1 AND checkpoint_ns = $2 AND channel = $3 AND version = $4`,
		threadID, namespace, channel, version).Scan(&b.Channel, &b.Version, &b.Type, &b.Blob)
	if err == pgx.ErrNoRows {
		return nil, common.E(common.KindNotFound, "channel blob not found")
	}
	if err != nil {
		return nil, common.Wrap(common.KindTransientIO, "failed to load channel blob", err)
	}
	return &b, nil
}

// DeleteBefore removes checkpoints and their writes older than the cutoff,
// and the channel blobs of threads left without any checkpoint. Run by the
// retention job.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.pg.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			DELETE FROM workflow_checkpoint_writes w
			USING workflow_checkpoints c
			WHERE w.thread_id = c.thread_id AND w.checkpoint_ns = c.checkpoint_ns
			  AND w.checkpoint_id = c.checkpoint_id
			  AND c.created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM workflow_checkpoints WHERE created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		_, err = tx.Exec(ctx, `
			DELETE FROM workflow_checkpoint_blobs b
			WHERE NOT EXISTS (
				SELECT 1 FROM workflow_checkpoints c
				WHERE c.thread_id = b.thread_id AND c.checkpoint_ns = b.checkpoint_ns
			)`)
		return err
	})
	if err != nil {
		return 0, common.Wrap(common.KindTransientIO, "failed to prune checkpoints", err)
	}
	return deleted, nil
}

// DeleteThread removes a thread entirely. Used by the deal deletion cascade.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	return s.pg.WithTx(ctx, func(tx pgx.Tx) error {
		for _, table := range []string{"workflow_checkpoint_writes", "workflow_checkpoint_blobs", "workflow_checkpoints"} {
			if _, err := tx.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, table), threadID); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteThreadPrefix removes all threads for a deal in one pass.
func (s *Store) DeleteThreadPrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	err := s.pg.WithTx(ctx, func(tx pgx.Tx) error {
		for _, table := range []string{"workflow_checkpoint_writes", "workflow_checkpoint_blobs"} {
			if _, err := tx.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE thread_id LIKE $1 || '%%'`, table), prefix); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM workflow_checkpoints WHERE thread_id LIKE $1 || '%'`, prefix)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, common.Wrap(common.KindTransientIO, "failed to delete checkpoint threads", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var metaJSON []byte
	err := row.Scan(&cp.ThreadID, &cp.Namespace, &cp.CheckpointID, &cp.ParentID, &cp.State, &metaJSON, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &cp.Metadata); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}
