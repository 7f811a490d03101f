package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProjectStore = (*ProjectStore)(nil)

// ProjectStore implements driven.ProjectStore using PostgreSQL.
// Every sync-status write is a single conditional UPDATE; the row-level
// atomicity of those statements is what arbitrates concurrent workers.
type ProjectStore struct {
	db *DB
}

// NewProjectStore creates a new ProjectStore
func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

const projectColumns = `
	id, name, description, status,
	board_id, card_id, frame_id,
	sync_status, sync_error_message, sync_retry_count,
	last_sync_attempt, last_synced_at,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var boardID, cardID, frameID, syncError sql.NullString
	var lastAttempt, lastSynced sql.NullTime

	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Status,
		&boardID, &cardID, &frameID,
		&p.SyncStatus, &syncError, &p.SyncRetryCount,
		&lastAttempt, &lastSynced,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.BoardID = StringPtr(boardID)
	p.CardID = StringPtr(cardID)
	p.FrameID = StringPtr(frameID)
	p.SyncErrorMessage = StringPtr(syncError)
	p.LastSyncAttempt = TimePtr(lastAttempt)
	p.LastSyncedAt = TimePtr(lastSynced)
	return &p, nil
}

// GetByID retrieves a project by id
func (s *ProjectStore) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	project, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

// List retrieves all projects, newest first
func (s *ProjectStore) List(ctx context.Context) ([]*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Create inserts a new project row
func (s *ProjectStore) Create(ctx context.Context, project *domain.Project) error {
	query := `
		INSERT INTO projects (
			id, name, description, status,
			board_id, card_id, frame_id,
			sync_status, sync_error_message, sync_retry_count,
			last_sync_attempt, last_synced_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Description, string(project.Status),
		NullString(project.BoardID), NullString(project.CardID), NullString(project.FrameID),
		string(project.SyncStatus), NullString(project.SyncErrorMessage), project.SyncRetryCount,
		NullTime(project.LastSyncAttempt), NullTime(project.LastSyncedAt),
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update replaces the mutable project fields.
// Sync fields are deliberately excluded: those change only through the
// conditional writes below, so an Update can never clobber a claim.
func (s *ProjectStore) Update(ctx context.Context, project *domain.Project) error {
	query := `
		UPDATE projects SET
			name = $2,
			description = $3,
			status = $4,
			board_id = $5,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Description, string(project.Status),
		NullString(project.BoardID),
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

// Delete removes the project row
func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
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

// Archive marks the project archived
func (s *ProjectStore) Archive(ctx context.Context, id string) error {
	query := `UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, string(domain.ProjectStatusArchived))
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

// legalSources returns the statuses that may transition into target,
// derived from the domain transition table.
func legalSources(target domain.SyncStatus) []string {
	all := []domain.SyncStatus{
		domain.SyncStatusNotRequired,
		domain.SyncStatusPending,
		domain.SyncStatusSyncing,
		domain.SyncStatusSynced,
		domain.SyncStatusError,
	}
	var sources []string
	for _, from := range all {
		if domain.CanTransition(from, target) {
			sources = append(sources, string(from))
		}
	}
	return sources
}

// UpdateSyncStatus sets the sync status as a single conditional UPDATE.
// The WHERE clause encodes the legal transition table, so an illegal write
// (including racing another worker's claim) affects zero rows.
func (s *ProjectStore) UpdateSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid sync status %q", domain.ErrInvalidInput, status)
	}

	query := `
		UPDATE projects SET
			sync_status = $2,
			sync_retry_count = CASE WHEN $2 = 'synced' THEN 0 ELSE sync_retry_count END,
			sync_error_message = CASE WHEN $2 = 'synced' THEN NULL ELSE sync_error_message END,
			updated_at = NOW()
		WHERE id = $1 AND sync_status = ANY($3)
	`

	result, err := s.db.ExecContext(ctx, query, id, string(status), pq.Array(legalSources(status)))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Row missing or transition illegal; one more read to tell them apart.
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT sync_status FROM projects WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// ClaimForSync atomically moves pending|sync_error → syncing and stamps the
// attempt time. The UPDATE ... RETURNING is the whole concurrency story:
// two workers racing the same project see exactly one affected row between
// them.
func (s *ProjectStore) ClaimForSync(ctx context.Context, id string, maxRetries int) (*domain.Project, error) {
	query := `
		UPDATE projects SET
			sync_status = $2,
			last_sync_attempt = NOW(),
			updated_at = NOW()
		WHERE id = $1
		  AND (sync_status = $3
		       OR (sync_status = $4 AND ($5 <= 0 OR sync_retry_count < $5)))
		RETURNING ` + projectColumns

	project, err := scanProject(s.db.QueryRowContext(ctx, query,
		id,
		string(domain.SyncStatusSyncing),
		string(domain.SyncStatusPending),
		string(domain.SyncStatusError),
		maxRetries,
	))
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Claim rejected: distinguish why.
	var current string
	var retryCount int
	err = s.db.QueryRowContext(ctx,
		`SELECT sync_status, sync_retry_count FROM projects WHERE id = $1`, id,
	).Scan(&current, &retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if domain.SyncStatus(current) == domain.SyncStatusError && maxRetries > 0 && retryCount >= maxRetries {
		return nil, domain.ErrRetriesExhausted
	}
	return nil, domain.ErrSyncInProgress
}

// MarkSynced completes a successful attempt
func (s *ProjectStore) MarkSynced(ctx context.Context, id string, refs domain.ExternalRefs, at time.Time) error {
	query := `
		UPDATE projects SET
			sync_status = $2,
			sync_retry_count = 0,
			sync_error_message = NULL,
			last_synced_at = $3,
			board_id = COALESCE($4, board_id),
			card_id = COALESCE($5, card_id),
			frame_id = COALESCE($6, frame_id),
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		id, string(domain.SyncStatusSynced), at,
		NullString(refs.BoardID), NullString(refs.CardID), NullString(refs.FrameID),
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

// MarkSyncError completes a failed attempt
func (s *ProjectStore) MarkSyncError(ctx context.Context, id string, message string) error {
	query := `
		UPDATE projects SET
			sync_status = $2,
			sync_retry_count = sync_retry_count + 1,
			sync_error_message = $3,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, string(domain.SyncStatusError), message)
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

// ClearExternalReferences drops the whiteboard ids and moves the project to
// not_required (legal from any state)
func (s *ProjectStore) ClearExternalReferences(ctx context.Context, id string) error {
	query := `
		UPDATE projects SET
			board_id = NULL,
			card_id = NULL,
			frame_id = NULL,
			sync_status = $2,
			sync_error_message = NULL,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, id, string(domain.SyncStatusNotRequired))
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

// ListNeedingSync returns sync-eligible projects, oldest attempt first with
// never-attempted projects ahead of everything
func (s *ProjectStore) ListNeedingSync(ctx context.Context, maxRetries int) ([]*domain.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE sync_status = $1
		   OR (sync_status = $2 AND sync_retry_count < $3)
		ORDER BY last_sync_attempt ASC NULLS FIRST
	`

	rows, err := s.db.QueryContext(ctx, query,
		string(domain.SyncStatusPending), string(domain.SyncStatusError), maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// GetSyncHealthMetrics aggregates the current status distribution
func (s *ProjectStore) GetSyncHealthMetrics(ctx context.Context) (*domain.SyncHealthMetrics, error) {
	metrics := &domain.SyncHealthMetrics{}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE sync_status = 'synced'),
			COUNT(*) FILTER (WHERE sync_status = 'pending'),
			COUNT(*) FILTER (WHERE sync_status = 'syncing'),
			COUNT(*) FILTER (WHERE sync_status = 'sync_error'),
			COUNT(*) FILTER (WHERE sync_status = 'not_required'),
			COALESCE(AVG(sync_retry_count), 0)
		FROM projects
	`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&metrics.TotalProjects,
		&metrics.SyncedCount,
		&metrics.PendingCount,
		&metrics.SyncingCount,
		&metrics.ErrorCount,
		&metrics.NotRequiredCount,
		&metrics.AvgRetryCount,
	)
	if err != nil {
		return nil, err
	}

	if metrics.TotalProjects == 0 {
		metrics.SyncSuccessRate = 100
		metrics.AvgRetryCount = 0
		return metrics, nil
	}
	metrics.SyncSuccessRate = float64(metrics.SyncedCount) / float64(metrics.TotalProjects) * 100

	lastErrQuery := `
		SELECT sync_error_message, name, updated_at
		FROM projects
		WHERE sync_status = 'sync_error' AND sync_error_message IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var msg, name string
	var at time.Time
	err = s.db.QueryRowContext(ctx, lastErrQuery).Scan(&msg, &name, &at)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		metrics.LastSyncError = &msg
		metrics.LastErrorProjectName = &name
		metrics.LastErrorAt = &at
	}

	return metrics, nil
}
