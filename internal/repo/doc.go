// Package repo — хранение runs и provenance.
//
//   - db.go              — пул pgx и схема PostgreSQL
//   - run_repo.go        — история runs (PostgreSQL)
//   - provenance_repo.go — provenance в PostgreSQL
//   - sql_store.go       — provenance в SQLite (modernc) и MySQL
//   - open.go            — выбор хранилища по имени драйвера
package repo
