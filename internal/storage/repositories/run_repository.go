package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/theblitlabs/misuse-detection/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

const defaultListLimit = 20

// RunRepository persists the pipeline run history.
type RunRepository struct {
	db *sqlx.DB
}

func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO pipeline_runs (
			id, model, metric, score, row_count,
			started_at, finished_at, status, error
		) VALUES (
			:id, :model, :metric, :score, :row_count,
			:started_at, :finished_at, :status, :error
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, run)
	return err
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var run models.Run
	query := `SELECT * FROM pipeline_runs WHERE id = $1`

	err := r.db.GetContext(ctx, &run, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListRecent returns at most limit runs, newest first. A non-positive limit
// uses the default page size.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var runs []*models.Run
	query := `SELECT * FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`

	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, err
	}
	return runs, nil
}
