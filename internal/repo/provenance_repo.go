package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/provenance"
)

// ProvenanceRepo — хранилище provenance в PostgreSQL.
// Реализует provenance.Store и provenance.Reader.
type ProvenanceRepo struct {
	pool *pgxpool.Pool
}

// NewProvenanceRepo создаёт новый ProvenanceRepo.
func NewProvenanceRepo(pool *pgxpool.Pool) *ProvenanceRepo {
	return &ProvenanceRepo{pool: pool}
}

// SaveRecord сохраняет значение входа или выхода узла.
func (r *ProvenanceRepo) SaveRecord(ctx context.Context, rec provenance.Record) error {
	valueJSON, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	query := `
		INSERT INTO provenance_records (run_id, node_id, kind, value, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, query, rec.RunID, rec.NodeID, rec.Kind, valueJSON, rec.RecordedAt); err != nil {
		return fmt.Errorf("insert provenance record: %w", err)
	}
	return nil
}

// SaveStatus сохраняет (или обновляет) статус run.
func (r *ProvenanceRepo) SaveStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	query := `
		INSERT INTO provenance_status (run_id, status, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, runID, status); err != nil {
		return fmt.Errorf("upsert provenance status: %w", err)
	}
	return nil
}

// ListRecords возвращает записи run в порядке записи.
func (r *ProvenanceRepo) ListRecords(ctx context.Context, runID string) ([]provenance.Record, error) {
	query := `
		SELECT run_id, node_id, kind, value, recorded_at
		FROM provenance_records
		WHERE run_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list provenance records: %w", err)
	}
	defer rows.Close()

	var records []provenance.Record
	for rows.Next() {
		var rec provenance.Record
		var valueJSON []byte
		if err := rows.Scan(&rec.RunID, &rec.NodeID, &rec.Kind, &valueJSON, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan provenance record: %w", err)
		}
		if err := decodeValue(valueJSON, &rec.Value); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStatus возвращает последний сохранённый статус run.
func (r *ProvenanceRepo) GetStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM provenance_status WHERE run_id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get provenance status: %w", err)
	}
	return status, nil
}

func decodeValue(data []byte, dst *any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
