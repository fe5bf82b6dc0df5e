// Package projects implements the Discovery Subscriber: it
// consumes project:added and project:removed events off the bus, persists
// the project row with an idempotent upsert-by-path, and republishes the
// canonical, persisted project back onto the bus for downstream consumers
// (the realtime fan-out). Enqueueing analysis is done by the subscriber
// itself, not by a bus consumer.
package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devradar/devradar/pkg/models"
)

// marshalOrEmpty serializes v for a JSONB column, falling back to an
// empty JSON object on the (unexpected) marshal error rather than
// aborting the write.
func marshalOrEmpty(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// uniqueViolation is PostgreSQL's SQLSTATE for a unique-constraint race on
// the projects.path index; the upsert treats it as "already exists" and
// re-reads the winning row.
const uniqueViolation = "23505"

var ErrNotFound = errors.New("projects: not found")

// Store is the projects table's persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool for project persistence.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// DiscoveredFields are the descriptive attributes the Discovery Subscriber
// learned from validation and metadata extraction for a candidate path.
type DiscoveredFields struct {
	Name           string
	Description    string
	Framework      string
	Language       string
	PackageManager string
	FileCount      int
	LinesOfCode    int
	Size           int64
	LastModified   time.Time
}

// Get returns a project by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Project, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// GetByPath returns a project by its unique filesystem path.
func (s *Store) GetByPath(ctx context.Context, path string) (*models.Project, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM projects WHERE path = $1`, path)
	return scanProject(row)
}

// List returns projects, optionally filtered by status, newest-discovered
// first.
func (s *Store) List(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error) {
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.pool.Query(ctx, selectColumns+` FROM projects WHERE status = $1 ORDER BY discovered_at DESC`, status)
	} else {
		rows, err = s.pool.Query(ctx, selectColumns+` FROM projects ORDER BY discovered_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("projects: list: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const selectColumns = `SELECT id, name, path, description, framework, language, package_manager,
	file_count, lines_of_code, size, last_modified, status, is_active,
	discovered_at, updated_at, analyzed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*models.Project, error) {
	p, err := scanProjectRows(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanProjectRows(row scanner) (*models.Project, error) {
	var p models.Project
	var analyzedAt *time.Time
	if err := row.Scan(
		&p.ID, &p.Name, &p.Path, &p.Description, &p.Framework, &p.Language, &p.PackageManager,
		&p.FileCount, &p.LinesOfCode, &p.Size, &p.LastModified, &p.Status, &p.IsActive,
		&p.DiscoveredAt, &p.UpdatedAt, &analyzedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("projects: scan: %w", err)
	}
	p.AnalyzedAt = analyzedAt
	return &p, nil
}

// UpsertDiscovered is the subscriber's idempotent upsert by path. created
// reports whether a new row was inserted (vs. an existing one updated).
func (s *Store) UpsertDiscovered(ctx context.Context, path string, f DiscoveredFields) (project *models.Project, created bool, err error) {
	existing, err := s.GetByPath(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		updated, err := s.updateDiscovered(ctx, existing, f)
		return updated, false, err
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, path, description, framework, language, package_manager,
			file_count, lines_of_code, size, last_modified, status, is_active, discovered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, true, now(), now())`,
		id, f.Name, path, f.Description, f.Framework, f.Language, f.PackageManager,
		f.FileCount, f.LinesOfCode, f.Size, f.LastModified, models.StatusDiscovered,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			time.Sleep(50 * time.Millisecond)
			existing, rerr := s.GetByPath(ctx, path)
			if rerr != nil {
				return nil, false, fmt.Errorf("projects: re-read after unique race: %w", rerr)
			}
			updated, uerr := s.updateDiscovered(ctx, existing, f)
			return updated, false, uerr
		}
		return nil, false, fmt.Errorf("projects: insert: %w", err)
	}

	inserted, err := s.Get(ctx, id)
	return inserted, true, err
}

// updateDiscovered refreshes descriptive fields and isActive on a
// re-discovered project. An ARCHIVED or ERROR row is revived to
// DISCOVERED, so a directory that comes back (or recovers) never sits
// active-but-archived; statuses with a job in flight (QUEUED, ANALYZING)
// and ANALYZED are left untouched.
func (s *Store) updateDiscovered(ctx context.Context, existing *models.Project, f DiscoveredFields) (*models.Project, error) {
	status := existing.Status
	if status == models.StatusArchived || status == models.StatusError {
		status = models.StatusDiscovered
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE projects SET
			framework = $2, language = $3, package_manager = $4,
			file_count = $5, lines_of_code = $6, size = $7, last_modified = $8,
			status = $9, is_active = true, updated_at = now()
		WHERE id = $1`,
		existing.ID, f.Framework, f.Language, f.PackageManager,
		f.FileCount, f.LinesOfCode, f.Size, f.LastModified, status,
	)
	if err != nil {
		return nil, fmt.Errorf("projects: update: %w", err)
	}
	return s.Get(ctx, existing.ID)
}

// MarkRemoved archives the project at path: isActive=false, status=ARCHIVED.
// Returns ErrNotFound if no row exists for path.
func (s *Store) MarkRemoved(ctx context.Context, path string) (*models.Project, error) {
	existing, err := s.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `UPDATE projects SET is_active = false, status = $2, updated_at = now() WHERE id = $1`,
		existing.ID, models.StatusArchived)
	if err != nil {
		return nil, fmt.Errorf("projects: mark removed: %w", err)
	}
	return s.Get(ctx, existing.ID)
}

// UpdateStatus performs a validated state-machine transition. Invalid
// transitions are rejected rather than silently applied.
func (s *Store) UpdateStatus(ctx context.Context, id string, next models.ProjectStatus) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("projects: illegal transition %s -> %s", p.Status, next)
	}
	_, err = s.pool.Exec(ctx, `UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("projects: update status: %w", err)
	}
	return nil
}

// UpdateMetrics refreshes the file-count/LOC/size fields the worker
// recomputes after a fresh context extraction.
func (s *Store) UpdateMetrics(ctx context.Context, id string, fileCount, linesOfCode int, size int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE projects SET file_count = $2, lines_of_code = $3, size = $4, updated_at = now() WHERE id = $1`,
		id, fileCount, linesOfCode, size)
	if err != nil {
		return fmt.Errorf("projects: update metrics: %w", err)
	}
	return nil
}

// ResetStuck forces an ANALYZING project back to DISCOVERED — the
// operator-initiated reset-stuck transition.
func (s *Store) ResetStuck(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, models.StatusDiscovered, models.StatusAnalyzing)
	if err != nil {
		return fmt.Errorf("projects: reset stuck: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("projects: %s is not ANALYZING", id)
	}
	return nil
}

// DeleteInactive removes every archived/removed project row (and, via the
// cascade, its analyses). Run at startup when the resetDeleted admin flag
// is set, so a fresh scan starts from a clean slate.
func (s *Store) DeleteInactive(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE is_active = false`)
	if err != nil {
		return 0, fmt.Errorf("projects: delete inactive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CompleteAnalysis atomically inserts the Analysis row and advances the
// project to ANALYZED, so a reader never observes ANALYZED without a
// corresponding Analysis.
func (s *Store) CompleteAnalysis(ctx context.Context, projectID string, a models.Analysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("projects: begin complete-analysis tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO project_analyses (id, project_id, summary, tech_stack, complexity, recommendations,
			completion_score, maturity_level, production_gaps, estimated_value, model, tokens_used, cache_hit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())`,
		id, projectID, a.Summary, marshalOrEmpty(a.TechStack), a.Complexity, marshalOrEmpty(a.Recommendations),
		a.CompletionScore, a.MaturityLevel, marshalOrEmpty(a.ProductionGaps), marshalOrEmpty(a.EstimatedValue),
		a.Model, a.TokensUsed, a.CacheHit,
	); err != nil {
		return fmt.Errorf("projects: insert analysis: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE projects SET status = $2, analyzed_at = now(), updated_at = now() WHERE id = $1`,
		projectID, models.StatusAnalyzed,
	); err != nil {
		return fmt.Errorf("projects: advance to analyzed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("projects: commit complete-analysis: %w", err)
	}
	return nil
}

// MarkFailed records that analysis failed without advancing status to
// ANALYZED: a project left ANALYZING moves to ERROR; a project in any other
// status is left unchanged.
func (s *Store) MarkFailed(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		projectID, models.StatusError, models.StatusAnalyzing)
	if err != nil {
		return fmt.Errorf("projects: mark failed: %w", err)
	}
	return nil
}
