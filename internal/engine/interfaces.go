package engine

import (
	"time"

	"github.com/capstan/capstan/pkg/types"
)

// RunNotifier receives per-connection run lifecycle events
type RunNotifier interface {
	NotifyRunStart(connection string)
	NotifyRunSuccess(connection string, duration time.Duration)
	NotifyRunFailure(connection string, err error)
}

// RunRecorder persists per-connection run state
type RunRecorder interface {
	InitializeRun(connection string, runID string, taskCount int) (*types.RunRecord, error)
	CompleteRun(connection string, status types.RunStatus, failures int, lastError string) error
}
