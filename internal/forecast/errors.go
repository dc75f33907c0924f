package forecast

import (
	"errors"
	"fmt"

	"github.com/mr1hm/go-quake-forecast/internal/repository"
)

var (
	ErrRunInProgress         = errors.New("forecast run already in progress")
	ErrCleanupFailed         = errors.New("forecast cleanup failed")
	ErrInsufficientHistory   = repository.ErrInsufficientHistory
	ErrConcurrentRunDetected = errors.New("concurrent forecast run detected")
	ErrPublishFailed         = errors.New("forecast publish failed")
	ErrModelShape            = errors.New("model output does not match its declared shape")
)

// Stage names the point of a run where it stopped.
type Stage string

const (
	StageLock    Stage = "lock"
	StageCleanup Stage = "cleanup"
	StageHistory Stage = "history"
	StageCompute Stage = "compute"
	StagePublish Stage = "publish"
)

// Ran reports whether the engine got past its preconditions. Lock, cleanup and
// history failures mean the engine decided not to run.
func (s Stage) Ran() bool {
	return s == StageCompute || s == StagePublish
}

// RunError is returned by Engine.Run for every failed run.
type RunError struct {
	Stage Stage
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("forecast %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// StageOf returns the stage of a RunError in err's chain.
func StageOf(err error) (Stage, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.Stage, true
	}
	return "", false
}
