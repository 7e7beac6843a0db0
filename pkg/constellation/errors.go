package constellation

import "errors"

// Validation errors raised synchronously at the API boundary. They are
// never swallowed; structural operations that fail leave the constellation
// unchanged.
var (
	ErrInvalidTask         = errors.New("invalid task")
	ErrDuplicateTask       = errors.New("duplicate task")
	ErrTaskNotFound        = errors.New("task not found")
	ErrTaskRunning         = errors.New("task is running")
	ErrTaskTerminal        = errors.New("task already terminal")
	ErrInvalidTransition   = errors.New("invalid task transition")
	ErrInvalidDependency   = errors.New("invalid dependency")
	ErrDuplicateDependency = errors.New("duplicate dependency")
	ErrDependencyNotFound  = errors.New("dependency not found")
	ErrCycleDetected       = errors.New("dependency cycle detected")
)
