package graph

import (
	"context"

	"fbs/pkg/outputs"
)

// TaskResult represents the result of executing a task
type TaskResult struct {
	// Files contains the paths of files the task reports to have produced
	Files []string
	// Error contains any error that occurred during task execution
	Error error
}

// DependencyInput describes a finished dependency to the task depending on it
type DependencyInput struct {
	// TaskID is the ID of the dependency task
	TaskID string
	// Directory is the directory the dependency ran in
	Directory string
	// Outputs are the canonical output paths declared by the dependency
	Outputs []string
	// UpToDate is set when the dependency was skipped in this build
	UpToDate bool
}

// Task represents a unit of work in the build graph
type Task interface {
	// ID and Phase make every graph task usable as an outputs.Task
	outputs.Task

	// Hash returns a hash representing the task's configuration
	Hash() string

	// Dependencies returns the list of tasks that must complete before this task can run
	Dependencies() []Task

	// Directory is the directory the task runs in
	Directory() string

	// Outputs returns the output declarations of the task
	Outputs() *outputs.TaskOutputs

	// Start moves the task out of its configuration phase. The runner calls it
	// right before Execute.
	Start()

	// Execute runs the task. dependencyInputs describes all direct dependencies.
	Execute(ctx context.Context, dependencyInputs []DependencyInput) TaskResult
}

// BaseTask implements the bookkeeping part of Task. Concrete tasks embed it and
// provide Hash and Execute.
type BaseTask struct {
	id        string
	directory string
	deps      []Task
	lifecycle outputs.Lifecycle
	outputs   *outputs.TaskOutputs
}

// NewBaseTask creates the shared task state. Output paths are resolved relative
// to directory.
func NewBaseTask(id, directory string, deps []Task, opts ...outputs.Option) *BaseTask {
	b := &BaseTask{
		id:        id,
		directory: directory,
		deps:      deps,
	}
	all := append([]outputs.Option{outputs.WithResolver(outputs.NewFileResolver(directory))}, opts...)
	b.outputs = outputs.New(b, all...)
	return b
}

func (b *BaseTask) ID() string                    { return b.id }
func (b *BaseTask) Directory() string             { return b.directory }
func (b *BaseTask) Dependencies() []Task          { return b.deps }
func (b *BaseTask) Outputs() *outputs.TaskOutputs { return b.outputs }
func (b *BaseTask) Phase() outputs.Phase          { return b.lifecycle.Phase() }
func (b *BaseTask) Start()                        { b.lifecycle.Start() }

// AddDependency appends a dependency while the task is being configured
func (b *BaseTask) AddDependency(dep Task) {
	b.deps = append(b.deps, dep)
}
