// Package provenance — best-effort журнал входов и выходов узлов.
//
// Интерпретатор пишет через Recorder; AsyncRecorder переносит записи в Store
// из фоновой горутины через ограниченную очередь, так что медленное
// или недоступное хранилище не тормозит выполнение.
//
// Реализации Store: MemoryStore здесь, PostgreSQL/SQLite/MySQL в пакете repo.
package provenance
