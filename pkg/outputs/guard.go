package outputs

import "fmt"

// shouldWarn is the pure decision behind the guard
func shouldWarn(phase Phase, warningsEnabled bool) bool {
	return !phase.IsConfigurable() && warningsEnabled
}

// guard reports declarations made after the owning task left the configurable phase.
// It belongs to exactly one TaskOutputs and is not safe for concurrent use.
type guard struct {
	outputs         *TaskOutputs
	warningsEnabled bool
	strict          bool
}

func newGuard(o *TaskOutputs, strict bool) *guard {
	return &guard{outputs: o, warningsEnabled: true, strict: strict}
}

// check never blocks in the default mode; it only logs. In strict mode a mutation
// after start is refused with *ErrMutationAfterStart.
func (g *guard) check(action string) error {
	task := g.outputs.task
	phase := task.Phase()
	if g.strict && !phase.IsConfigurable() {
		return &ErrMutationAfterStart{TaskID: task.ID(), Action: action}
	}
	if shouldWarn(phase, g.warningsEnabled) {
		g.outputs.logger.Warn(
			fmt.Sprintf("calling %s after task execution has started is deprecated", action),
			"task", task.ID(),
			"action", action,
			"hint", "declare outputs while the task is being configured",
		)
	}
	return nil
}

// withWarningsSuppressed runs body with warnings disabled and restores the previous
// setting on every exit path.
func (g *guard) withWarningsSuppressed(body func() error) error {
	previous := g.warningsEnabled
	g.warningsEnabled = false
	defer func() { g.warningsEnabled = previous }()
	return body()
}
