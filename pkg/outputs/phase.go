package outputs

import "sync/atomic"

// Phase is the lifecycle phase of a task as seen by its output declarations
type Phase int32

const (
	// PhaseConfigurable is the window in which declarations are accepted silently
	PhaseConfigurable Phase = iota
	// PhaseExecuting covers both running and finished tasks
	PhaseExecuting
)

func (p Phase) String() string {
	switch p {
	case PhaseConfigurable:
		return "configurable"
	case PhaseExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// IsConfigurable reports whether declarations are still expected in this phase
func (p Phase) IsConfigurable() bool {
	return p == PhaseConfigurable
}

// Lifecycle is the task-owned holder of the phase. The zero value is configurable.
// Start is one way; there is no transition back within a build.
type Lifecycle struct {
	phase atomic.Int32
}

// Phase returns the current phase
func (l *Lifecycle) Phase() Phase {
	return Phase(l.phase.Load())
}

// Start moves the task into PhaseExecuting. Calling it again has no effect.
func (l *Lifecycle) Start() {
	l.phase.Store(int32(PhaseExecuting))
}
