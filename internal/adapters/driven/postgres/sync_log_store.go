package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncLogStore = (*SyncLogStore)(nil)

// SyncLogStore implements driven.SyncLogStore using PostgreSQL.
// Append-on-start, one completion update, no deletes.
type SyncLogStore struct {
	db *DB
}

// NewSyncLogStore creates a new SyncLogStore
func NewSyncLogStore(db *DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

const syncLogColumns = `
	id, project_id, operation, status,
	items_created, items_updated, items_deleted,
	error_message, error_category, retry_count,
	started_at, completed_at, duration_ms
`

func scanSyncLogEntry(row rowScanner) (*domain.SyncLogEntry, error) {
	var e domain.SyncLogEntry
	var projectID, errMsg, errCategory sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64
	var created, updated, deleted pq.StringArray

	err := row.Scan(
		&e.ID, &projectID, &e.Operation, &e.Status,
		&created, &updated, &deleted,
		&errMsg, &errCategory, &e.RetryCount,
		&e.StartedAt, &completedAt, &durationMs,
	)
	if err != nil {
		return nil, err
	}

	e.ProjectID = StringPtr(projectID)
	e.ErrorMessage = StringPtr(errMsg)
	if errCategory.Valid {
		e.ErrorCategory = domain.ErrorCategory(errCategory.String)
	}
	e.CompletedAt = TimePtr(completedAt)
	if durationMs.Valid {
		ms := durationMs.Int64
		e.DurationMs = &ms
	}
	if len(created) > 0 {
		e.ItemsCreated = created
	}
	if len(updated) > 0 {
		e.ItemsUpdated = updated
	}
	if len(deleted) > 0 {
		e.ItemsDeleted = deleted
	}
	return &e, nil
}

// StartAttempt appends a log entry for a freshly claimed attempt
func (s *SyncLogStore) StartAttempt(ctx context.Context, entry *domain.SyncLogEntry) (string, error) {
	query := `
		INSERT INTO sync_log (
			id, project_id, operation, status,
			items_created, items_updated, items_deleted,
			error_message, error_category, retry_count,
			started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var category sql.NullString
	if entry.ErrorCategory != "" {
		category = sql.NullString{String: string(entry.ErrorCategory), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, NullString(entry.ProjectID), string(entry.Operation), string(entry.Status),
		pq.Array(emptyIfNil(entry.ItemsCreated)),
		pq.Array(emptyIfNil(entry.ItemsUpdated)),
		pq.Array(emptyIfNil(entry.ItemsDeleted)),
		NullString(entry.ErrorMessage), category, entry.RetryCount,
		entry.StartedAt,
	)
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// CompleteAttempt applies the one-and-only completion update
func (s *SyncLogStore) CompleteAttempt(ctx context.Context, id string, outcome domain.SyncOutcome) error {
	query := `
		UPDATE sync_log SET
			status = $2,
			items_created = $3,
			items_updated = $4,
			items_deleted = $5,
			error_message = $6,
			error_category = $7,
			completed_at = NOW(),
			duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT
		WHERE id = $1 AND completed_at IS NULL
	`

	var errMsg sql.NullString
	if outcome.ErrorMessage != "" {
		errMsg = sql.NullString{String: outcome.ErrorMessage, Valid: true}
	}
	var category sql.NullString
	if outcome.ErrorCategory != "" {
		category = sql.NullString{String: string(outcome.ErrorCategory), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		id, string(outcome.Status),
		pq.Array(emptyIfNil(outcome.ItemsCreated)),
		pq.Array(emptyIfNil(outcome.ItemsUpdated)),
		pq.Array(emptyIfNil(outcome.ItemsDeleted)),
		errMsg, category,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a log entry
func (s *SyncLogStore) GetByID(ctx context.Context, id string) (*domain.SyncLogEntry, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_log WHERE id = $1`

	entry, err := scanSyncLogEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListRecent returns the newest entries, optionally scoped to a project
func (s *SyncLogStore) ListRecent(ctx context.Context, projectID *string, limit int) ([]*domain.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + syncLogColumns + `
		FROM sync_log
		WHERE $1::TEXT IS NULL OR project_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, NullString(projectID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSyncLogEntries(rows)
}

// ListFailedForRetry returns the latest error entry per project whose
// recorded failure left the project below maxRetries. The inner DISTINCT ON
// picks each project's newest error first so a project whose latest failure
// exhausted the bound is excluded, not resurfaced via an older entry.
func (s *SyncLogStore) ListFailedForRetry(ctx context.Context, maxRetries, limit int) ([]*domain.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + syncLogColumns + `
		FROM (
			SELECT DISTINCT ON (project_id) ` + syncLogColumns + `
			FROM sync_log
			WHERE status = 'error' AND project_id IS NOT NULL
			ORDER BY project_id, started_at DESC
		) latest
		WHERE retry_count + 1 < $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSyncLogEntries(rows)
}

// GetStats aggregates entries started within the window
func (s *SyncLogStore) GetStats(ctx context.Context, window time.Duration) (*domain.SyncLogStats, error) {
	since := time.Now().Add(-window)

	stats := &domain.SyncLogStats{
		ByStatus:    make(map[domain.SyncLogStatus]int64),
		ByOperation: make(map[domain.SyncOperation]int64),
		ByCategory:  make(map[domain.ErrorCategory]int64),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(duration_ms), 0)
		FROM sync_log
		WHERE started_at >= $1
	`, since).Scan(&stats.Total, &stats.AvgDurationMs)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_log WHERE started_at >= $1 GROUP BY status
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[domain.SyncLogStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	opRows, err := s.db.QueryContext(ctx, `
		SELECT operation, COUNT(*) FROM sync_log WHERE started_at >= $1 GROUP BY operation
	`, since)
	if err != nil {
		return nil, err
	}
	defer opRows.Close()
	for opRows.Next() {
		var op string
		var count int64
		if err := opRows.Scan(&op, &count); err != nil {
			return nil, err
		}
		stats.ByOperation[domain.SyncOperation(op)] = count
	}
	if err := opRows.Err(); err != nil {
		return nil, err
	}

	catRows, err := s.db.QueryContext(ctx, `
		SELECT error_category, COUNT(*)
		FROM sync_log
		WHERE started_at >= $1 AND error_category IS NOT NULL
		GROUP BY error_category
	`, since)
	if err != nil {
		return nil, err
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var count int64
		if err := catRows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats.ByCategory[domain.ErrorCategory(category)] = count
	}
	if err := catRows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func collectSyncLogEntries(rows *sql.Rows) ([]*domain.SyncLogEntry, error) {
	var entries []*domain.SyncLogEntry
	for rows.Next() {
		entry, err := scanSyncLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// emptyIfNil keeps TEXT[] columns NOT NULL friendly
func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
