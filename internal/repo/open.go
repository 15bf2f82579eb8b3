package repo

import (
	"context"
	"fmt"

	"github.com/shaiso/Interflow/internal/provenance"
)

// DriverPostgres — provenance в PostgreSQL через pgx.
const DriverPostgres = "postgres"

// DriverMemory — provenance в памяти процесса.
const DriverMemory = "memory"

// ProvenanceBackend — хранилище provenance с чтением.
type ProvenanceBackend interface {
	provenance.Store
	provenance.Reader
}

// OpenProvenance открывает хранилище provenance по имени драйвера
// (postgres, sqlite, mysql, memory) и возвращает функцию закрытия.
func OpenProvenance(ctx context.Context, driver, dsn string) (ProvenanceBackend, func(), error) {
	switch driver {
	case DriverPostgres:
		pool, err := NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return NewProvenanceRepo(pool), pool.Close, nil

	case DriverSQLite, DriverMySQL:
		store, err := NewSQLStore(ctx, driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case DriverMemory, "":
		return provenance.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}
