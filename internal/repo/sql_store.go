package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/provenance"
)

// Драйверы SQLStore.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SQLStore — хранилище provenance поверх database/sql для SQLite и MySQL.
// Реализует provenance.Store и provenance.Reader.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore открывает базу и создаёт таблицы.
//
// Для SQLite dsn — путь к файлу или ":memory:", для MySQL — DSN
// go-sql-driver (user:pass@tcp(host:3306)/db?parseTime=true).
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverMySQL {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite допускает одного писателя; для :memory: одно соединение
		// ещё и единственная база
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	var stmts []string
	if s.driver == DriverSQLite {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS provenance_records (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id      TEXT NOT NULL,
				node_id     TEXT NOT NULL,
				kind        TEXT NOT NULL,
				value       TEXT,
				recorded_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_provenance_run ON provenance_records (run_id, id)`,
			`CREATE TABLE IF NOT EXISTS provenance_status (
				run_id     TEXT PRIMARY KEY,
				status     TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS provenance_records (
				id          BIGINT AUTO_INCREMENT PRIMARY KEY,
				run_id      VARCHAR(64) NOT NULL,
				node_id     VARCHAR(255) NOT NULL,
				kind        VARCHAR(16) NOT NULL,
				value       JSON,
				recorded_at DATETIME(6) NOT NULL,
				INDEX idx_provenance_run (run_id, id)
			)`,
			`CREATE TABLE IF NOT EXISTS provenance_status (
				run_id     VARCHAR(64) PRIMARY KEY,
				status     VARCHAR(16) NOT NULL,
				updated_at DATETIME(6) NOT NULL
			)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.driver, err)
		}
	}
	return nil
}

// SaveRecord реализует provenance.Store.
func (s *SQLStore) SaveRecord(ctx context.Context, rec provenance.Record) error {
	valueJSON, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	query := `INSERT INTO provenance_records (run_id, node_id, kind, value, recorded_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, rec.RunID, rec.NodeID, string(rec.Kind), string(valueJSON), rec.RecordedAt.UTC()); err != nil {
		return fmt.Errorf("insert provenance record: %w", err)
	}
	return nil
}

// SaveStatus реализует provenance.Store.
func (s *SQLStore) SaveStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	query := `INSERT INTO provenance_status (run_id, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`
	if s.driver == DriverMySQL {
		query = `INSERT INTO provenance_status (run_id, status, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)`
	}

	if _, err := s.db.ExecContext(ctx, query, runID, string(status), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert provenance status: %w", err)
	}
	return nil
}

// ListRecords реализует provenance.Reader.
func (s *SQLStore) ListRecords(ctx context.Context, runID string) ([]provenance.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, kind, value, recorded_at FROM provenance_records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list provenance records: %w", err)
	}
	defer rows.Close()

	var records []provenance.Record
	for rows.Next() {
		var rec provenance.Record
		var kind string
		var valueJSON sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.NodeID, &kind, &valueJSON, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan provenance record: %w", err)
		}
		rec.Kind = provenance.RecordKind(kind)
		if valueJSON.Valid {
			if err := decodeValue([]byte(valueJSON.String), &rec.Value); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStatus реализует provenance.Reader.
func (s *SQLStore) GetStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM provenance_status WHERE run_id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get provenance status: %w", err)
	}
	return domain.RunStatus(status), nil
}

// Close закрывает базу.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
