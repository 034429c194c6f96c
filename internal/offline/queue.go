package offline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-gatepass/internal/models"
)

// MaxRetry is how many transient failures an intent survives before it
// is parked as failed and left for manual resolution.
const MaxRetry = 3

// Queue is the durable client-side list of scan intents, kept in a local
// sqlite file so that a captured scan survives process restarts and
// connectivity gaps. Every scan is enqueued, online or not.
type Queue struct {
	Bun *bun.DB

	// MaxRetry overrides the default retry bound when > 0.
	MaxRetry int
}

// OpenQueue opens (or creates) the sqlite-backed queue at path.
func OpenQueue(path string) (*Queue, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// sqlite is single-writer; one connection avoids lock churn
	sqldb.SetMaxOpenConns(1)

	q := &Queue{Bun: bun.NewDB(sqldb, sqlitedialect.New())}
	if err := q.CreateSchema(context.Background()); err != nil {
		sqldb.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) CreateSchema(ctx context.Context) error {
	_, err := q.Bun.NewCreateTable().
		Model((*models.ScanIntent)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create scan_intents table: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.Bun.Close()
}

// Enqueue records a scan intent as pending with a zero retry count.
// Safe to call at any time, including while a drain is running; the
// drain picks new intents up on its next cycle.
func (q *Queue) Enqueue(ctx context.Context, intent models.ScanIntent) error {
	intent.SyncStatus = models.SyncPending
	intent.RetryCount = 0
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	if intent.ScannedAt.IsZero() {
		intent.ScannedAt = intent.CreatedAt
	}
	_, err := q.Bun.NewInsert().Model(&intent).Exec(ctx)
	return err
}

// ListPending returns pending intents in original enqueue order.
func (q *Queue) ListPending(ctx context.Context) ([]models.ScanIntent, error) {
	var intents []models.ScanIntent
	err := q.Bun.NewSelect().
		Model(&intents).
		Where("sync_status = ?", models.SyncPending).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// ListFailed returns intents that exhausted their retries and wait for
// manual resolution.
func (q *Queue) ListFailed(ctx context.Context) ([]models.ScanIntent, error) {
	var intents []models.ScanIntent
	err := q.Bun.NewSelect().
		Model(&intents).
		Where("sync_status = ?", models.SyncFailed).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// MarkSynced moves an intent to its synced terminal state. The row is
// kept for audit until pruned.
func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	_, err := q.Bun.NewUpdate().
		Model((*models.ScanIntent)(nil)).
		Set("sync_status = ?", models.SyncSynced).
		Where("id = ?", id).
		Where("sync_status = ?", models.SyncPending).
		Exec(ctx)
	return err
}

// MarkRejected ends an intent as synced but records the server's
// rejection reason, so a business-rule discard is auditable rather
// than silent.
func (q *Queue) MarkRejected(ctx context.Context, id, reason string) error {
	_, err := q.Bun.NewUpdate().
		Model((*models.ScanIntent)(nil)).
		Set("sync_status = ?", models.SyncSynced).
		Set("last_error = ?", reason).
		Where("id = ?", id).
		Where("sync_status = ?", models.SyncPending).
		Exec(ctx)
	return err
}

// MarkAttemptFailed counts one transient failure against an intent and
// returns the intent's resulting sync status. At MaxRetry the intent
// becomes failed, terminal, and never auto-retried again; below that it
// stays pending for the next drain cycle.
func (q *Queue) MarkAttemptFailed(ctx context.Context, id, reason string) (string, error) {
	var intent models.ScanIntent
	err := q.Bun.NewSelect().
		Model(&intent).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return "", err
	}
	if intent.SyncStatus != models.SyncPending {
		return intent.SyncStatus, nil
	}

	maxRetry := q.MaxRetry
	if maxRetry <= 0 {
		maxRetry = MaxRetry
	}

	intent.RetryCount++
	intent.LastRetryAt = time.Now()
	intent.LastError = reason
	if intent.RetryCount >= maxRetry {
		intent.SyncStatus = models.SyncFailed
	}

	_, err = q.Bun.NewUpdate().
		Model(&intent).
		Column("retry_count", "last_retry_at", "last_error", "sync_status").
		Where("id = ?", intent.ID).
		Exec(ctx)
	if err != nil {
		return "", err
	}
	return intent.SyncStatus, nil
}

// Prune garbage-collects terminal entries older than the cutoff to bound
// storage growth. Pending intents are never pruned; failed ones only
// after the same retention window, so they stay visible for review.
func (q *Queue) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := q.Bun.NewDelete().
		Model((*models.ScanIntent)(nil)).
		Where("sync_status IN (?, ?)", models.SyncSynced, models.SyncFailed).
		Where("created_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

type Counts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var counts Counts
	for status, dst := range map[string]*int{
		models.SyncPending: &counts.Pending,
		models.SyncSynced:  &counts.Synced,
		models.SyncFailed:  &counts.Failed,
	} {
		n, err := q.Bun.NewSelect().
			Model((*models.ScanIntent)(nil)).
			Where("sync_status = ?", status).
			Count(ctx)
		if err != nil {
			return Counts{}, err
		}
		*dst = n
	}
	return counts, nil
}
