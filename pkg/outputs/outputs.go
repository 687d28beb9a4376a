package outputs

import (
	"fmt"
	"os"

	"fbs/pkg/logger"
)

// Task is the read-only view of a task needed by its output declarations
type Task interface {
	ID() string
	Phase() Phase
}

// ContentComparator compares the declared outputs against a previous execution.
// It is supplied by the snapshotting layer; this package never reads file contents.
type ContentComparator interface {
	OutputsUnchanged(task Task, declared OutputSet, previous HistoryRecord) (bool, error)
}

// Option configures a TaskOutputs
type Option func(*TaskOutputs)

// WithLogger sets the logger used for post-start declaration warnings
func WithLogger(l logger.Logger) Option {
	return func(o *TaskOutputs) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithResolver replaces the default resolver rooted at the working directory
func WithResolver(r PathResolver) Option {
	return func(o *TaskOutputs) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithStrictMode turns post-start declarations into ErrMutationAfterStart errors
func WithStrictMode(strict bool) Option {
	return func(o *TaskOutputs) {
		o.strict = strict
	}
}

// TaskOutputs owns the declared outputs, the up-to-date predicates and the history
// binding of a single task.
type TaskOutputs struct {
	task     Task
	files    OutputSet
	upToDate AndPredicate
	history  HistoryRecord
	resolver PathResolver
	logger   logger.Logger
	strict   bool
	guard    *guard
}

// New creates the output declarations for task
func New(task Task, opts ...Option) *TaskOutputs {
	o := &TaskOutputs{
		task:   task,
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.resolver == nil {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		o.resolver = NewFileResolver(wd)
	}
	o.guard = newGuard(o, o.strict)
	return o
}

// Task returns the owning task
func (o *TaskOutputs) Task() Task {
	return o.task
}

// Declare resolves every path and adds it to the declared outputs. Slices of
// path-like values are flattened. When any path fails to resolve nothing is added
// and the resolver's error is returned as is.
func (o *TaskOutputs) Declare(paths ...any) error {
	if err := o.guard.check("TaskOutputs.Declare"); err != nil {
		return err
	}
	return o.declare(paths)
}

func (o *TaskOutputs) declare(paths []any) error {
	resolved := make([]string, 0, len(paths))
	for _, p := range flatten(paths) {
		r, err := o.resolver.Resolve(p)
		if err != nil {
			return err
		}
		resolved = append(resolved, r)
	}
	o.files.add(resolved...)
	return nil
}

// DeclareSingle declares one output path
func (o *TaskOutputs) DeclareSingle(path any) error {
	if err := o.guard.check("TaskOutputs.DeclareSingle"); err != nil {
		return err
	}
	return o.declare([]any{path})
}

// DeclareDirectory declares an output directory. Unlike the file variants it does
// not warn when called after the task has started.
func (o *TaskOutputs) DeclareDirectory(path any) error {
	return o.guard.withWarningsSuppressed(func() error {
		if err := o.guard.check("TaskOutputs.DeclareDirectory"); err != nil {
			return err
		}
		return o.Declare(path)
	})
}

// Snapshot returns a copy of the declared outputs
func (o *TaskOutputs) Snapshot() OutputSet {
	return o.files.clone()
}

// AddPredicate registers an additional up-to-date condition
func (o *TaskOutputs) AddPredicate(p Predicate) error {
	if p == nil {
		return ErrNilPredicate
	}
	if err := o.guard.check("TaskOutputs.AddPredicate"); err != nil {
		return err
	}
	o.upToDate = o.upToDate.And(p)
	return nil
}

// UpToDateWhen registers fn as an up-to-date condition
func (o *TaskOutputs) UpToDateWhen(fn func(Task) bool) error {
	if fn == nil {
		return ErrNilPredicate
	}
	if err := o.guard.check("TaskOutputs.UpToDateWhen"); err != nil {
		return err
	}
	o.upToDate = o.upToDate.And(PredicateFunc(fn))
	return nil
}

// UpToDateSpec returns the combined predicate
func (o *TaskOutputs) UpToDateSpec() Predicate {
	return o.upToDate
}

// PredicateCount returns the number of registered predicates
func (o *TaskOutputs) PredicateCount() int {
	return o.upToDate.Len()
}

// HasOutput reports whether the task declared any output or up-to-date predicate.
// Tasks without either are never considered up to date.
func (o *TaskOutputs) HasOutput() bool {
	return !o.files.IsEmpty() || o.upToDate.Len() > 0
}

// IsUpToDateAccordingToPredicates evaluates all registered predicates against task
func (o *TaskOutputs) IsUpToDateAccordingToPredicates(task Task) bool {
	return o.upToDate.IsSatisfiedBy(task)
}

// IsUpToDate combines the predicates with the content comparison done by cmp.
// A missing history binding yields false without an error.
func (o *TaskOutputs) IsUpToDate(task Task, cmp ContentComparator) (bool, error) {
	if !o.HasOutput() {
		return false, nil
	}
	if !o.IsUpToDateAccordingToPredicates(task) {
		return false, nil
	}
	previous, ok := o.History()
	if !ok {
		return false, nil
	}
	if cmp == nil {
		return false, fmt.Errorf("no content comparator configured for task %s", task.ID())
	}
	unchanged, err := cmp.OutputsUnchanged(task, o.Snapshot(), previous)
	if err != nil {
		return false, fmt.Errorf("failed to compare outputs of task %s: %w", task.ID(), err)
	}
	return unchanged, nil
}

func flatten(values []any) []any {
	var out []any
	for _, v := range values {
		switch vv := v.(type) {
		case []any:
			out = append(out, flatten(vv)...)
		case []string:
			for _, s := range vv {
				out = append(out, s)
			}
		default:
			out = append(out, v)
		}
	}
	return out
}
