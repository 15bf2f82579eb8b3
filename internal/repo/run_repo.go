package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Interflow/internal/domain"
)

// uniqueViolation — SQLSTATE нарушения уникального ключа.
const uniqueViolation = "23505"

// defaultRunPage — размер страницы List без явного Limit.
const defaultRunPage = 50

// RunRepo хранит историю runs в PostgreSQL: запись создаётся при
// старте run и обновляется один раз, когда run завершился.
type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// RunFilter — отбор в List. Пустые поля не фильтруют.
type RunFilter struct {
	Workflow string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// runRow — строка таблицы runs. JSONB колонки pgx раскладывает в map сам.
type runRow struct {
	ID         uuid.UUID        `db:"id"`
	Workflow   string           `db:"workflow"`
	Status     domain.RunStatus `db:"status"`
	Stopped    bool             `db:"stopped"`
	Inputs     map[string]any   `db:"inputs"`
	Outputs    map[string]any   `db:"outputs"`
	StartedAt  *time.Time       `db:"started_at"`
	FinishedAt *time.Time       `db:"finished_at"`
	Error      *string          `db:"error"`
	CreatedAt  time.Time        `db:"created_at"`
}

func (row runRow) run() domain.Run {
	run := domain.Run{
		ID:         row.ID,
		Workflow:   row.Workflow,
		Status:     row.Status,
		Stopped:    row.Stopped,
		Inputs:     row.Inputs,
		Outputs:    row.Outputs,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		CreatedAt:  row.CreatedAt,
	}
	if row.Error != nil {
		run.Error = *row.Error
	}
	return run
}

const selectRuns = `SELECT id, workflow, status, stopped, inputs, outputs, started_at, finished_at, error, created_at FROM runs`

// Create сохраняет только что запущенный run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO runs (id, workflow, status, inputs, started_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Workflow, run.Status, run.Inputs, run.StartedAt, run.CreatedAt,
	)
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("run %s: %w", run.ID, ErrAlreadyExists)
	case err != nil:
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run или ErrNotFound.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	rows, _ := r.pool.Query(ctx, selectRuns+` WHERE id = $1`, id)
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[runRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	run := row.run()
	return &run, nil
}

// List возвращает runs от новых к старым.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunPage
	}

	rows, _ := r.pool.Query(ctx,
		selectRuns+`
		WHERE ($1::text IS NULL OR workflow = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		nullString(filter.Workflow), nullString(string(filter.Status)), limit, filter.Offset,
	)
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[runRow])
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]domain.Run, len(collected))
	for i, row := range collected {
		runs[i] = row.run()
	}
	return runs, nil
}

// Update записывает итог run.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $2, stopped = $3, outputs = $4, started_at = $5, finished_at = $6, error = $7
		 WHERE id = $1`,
		run.ID, run.Status, run.Stopped, run.Outputs, run.StartedAt, run.FinishedAt, nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString превращает "" в SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
