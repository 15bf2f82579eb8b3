package orchestrator

import "errors"

var (
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotActive — run завершён, pause/resume/step/stop к нему неприменимы.
	ErrRunNotActive = errors.New("run is not active")

	ErrRunAlreadyActive    = errors.New("run already active")
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
