package engine

import "errors"

var (
	// ErrWorkflowNotPublished is returned when starting a draft or archived definition.
	ErrWorkflowNotPublished = errors.New("workflow is not published")

	// ErrInvalidTransition is returned by pause, resume and cancel when the execution
	// is not in a state the operation may leave.
	ErrInvalidTransition = errors.New("invalid execution state transition")

	// ErrEngineStopped is returned by Start after Shutdown.
	ErrEngineStopped = errors.New("engine is shut down")

	// errDiscarded marks a write skipped because the execution is no longer running.
	errDiscarded = errors.New("execution is not running")
)

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsWorkflowNotPublished(err error) bool {
	return errors.Is(err, ErrWorkflowNotPublished)
}
