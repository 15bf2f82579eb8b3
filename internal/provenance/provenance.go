package provenance

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Interflow/internal/domain"
)

// ErrClosed — запись в закрытый AsyncRecorder.
var ErrClosed = errors.New("provenance recorder closed")

// RecordKind — вид записи provenance.
type RecordKind string

const (
	RecordInput  RecordKind = "INPUT"
	RecordOutput RecordKind = "OUTPUT"
)

// Record — одно значение, вошедшее в узел или вышедшее из него.
type Record struct {
	RunID      string     `json:"run_id"`
	NodeID     string     `json:"node_id"`
	Kind       RecordKind `json:"kind"`
	Value      any        `json:"value"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Recorder — интерфейс, который видит интерпретатор.
//
// Методы не возвращают ошибок и не блокируют: запись provenance
// не должна влиять на выполнение.
type Recorder interface {
	RecordInput(runID, nodeID string, value any)
	RecordOutput(runID, nodeID string, value any)
	SetStatus(runID string, status domain.RunStatus)
}

// Store — хранилище provenance.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	SaveStatus(ctx context.Context, runID string, status domain.RunStatus) error
}

// Reader читает provenance run (CLI, API).
type Reader interface {
	ListRecords(ctx context.Context, runID string) ([]Record, error)
	GetStatus(ctx context.Context, runID string) (domain.RunStatus, error)
}

// Nop — Recorder, который ничего не записывает.
type Nop struct{}

func (Nop) RecordInput(string, string, any)    {}
func (Nop) RecordOutput(string, string, any)   {}
func (Nop) SetStatus(string, domain.RunStatus) {}
