package inspector

import (
	"errors"
	"fmt"
)

// Stage names the step of an inspection that failed.
type Stage string

// Inspection stages, in execution order.
const (
	StageNavigate Stage = "navigate"
	StageScroll   Stage = "scroll"
	StageSettle   Stage = "settle"
	StageEvaluate Stage = "evaluate"
)

// Sentinel errors matched through StageError.
var (
	ErrNavigation = errors.New("page navigation failed")
	ErrEvaluation = errors.New("page evaluation failed")
	// ErrHTTPStatus is wrapped when fail-on-HTTP-error rejects a document.
	ErrHTTPStatus = errors.New("document returned an error status")
)

// StageError reports which stage of inspecting URL failed.
type StageError struct {
	Stage Stage
	URL   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("inspect %s: %s: %v", e.URL, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches ErrNavigation for the navigate stage and ErrEvaluation for the
// in-page stages.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrNavigation:
		return e.Stage == StageNavigate
	case ErrEvaluation:
		return e.Stage == StageScroll || e.Stage == StageEvaluate
	default:
		return false
	}
}
