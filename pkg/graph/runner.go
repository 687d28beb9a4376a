package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fbs/pkg/history"
	"fbs/pkg/logger"
	"fbs/pkg/outputs"
	"fbs/pkg/snapshot"
)

// ExecutionResult represents the outcome of one task in a build
type ExecutionResult struct {
	Task     Task
	TaskHash string
	Result   TaskResult
	UpToDate bool // Whether the task was skipped because its outputs were reusable
}

// ProgressCallback is called when task execution status changes
type ProgressCallback func(task Task, status string, finished bool, upToDate bool)

// Runner executes tasks in a graph, skipping the ones that are up to date
type Runner struct {
	store       history.Store
	snapshotter *snapshot.Snapshotter
	comparator  outputs.ContentComparator
	logger      logger.Logger
	now         func() time.Time
}

// NewRunner creates a runner that records executions in store
func NewRunner(store history.Store, snapshotter *snapshot.Snapshotter, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Default()
	}
	return &Runner{
		store:       store,
		snapshotter: snapshotter,
		comparator:  snapshot.NewComparator(snapshotter),
		logger:      log,
		now:         time.Now,
	}
}

// Execute runs all tasks in the graph in topological order
func (r *Runner) Execute(ctx context.Context, graph *Graph) ([]ExecutionResult, error) {
	return r.ExecuteWithProgress(ctx, graph, nil)
}

// ExecuteWithProgress runs all tasks in the graph with progress callbacks
func (r *Runner) ExecuteWithProgress(ctx context.Context, graph *Graph, progressCallback ProgressCallback) ([]ExecutionResult, error) {
	return r.ExecuteWithProgressParallel(ctx, graph, progressCallback, 1)
}

// ExecuteWithProgressParallel runs all tasks in the graph with progress callbacks using parallel workers
func (r *Runner) ExecuteWithProgressParallel(ctx context.Context, graph *Graph, progressCallback ProgressCallback, parallelWorkers int) ([]ExecutionResult, error) {
	if parallelWorkers <= 1 {
		return r.executeSequential(ctx, graph, progressCallback)
	}
	return r.executeParallel(ctx, graph, progressCallback, parallelWorkers)
}

func notify(cb ProgressCallback, task Task, result *ExecutionResult) {
	if cb == nil {
		return
	}
	if result == nil {
		cb(task, "running", false, false)
		return
	}
	status := "completed"
	switch {
	case result.Result.Error != nil:
		status = "failed"
	case result.UpToDate:
		status = "up-to-date"
	}
	cb(task, status, true, result.UpToDate)
}

func (r *Runner) executeSequential(ctx context.Context, graph *Graph, progressCallback ProgressCallback) ([]ExecutionResult, error) {
	orderedTasks, err := graph.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("failed to sort tasks: %w", err)
	}

	var results []ExecutionResult
	executedTasks := make(map[string]ExecutionResult)

	for _, task := range orderedTasks {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		notify(progressCallback, task, nil)

		result, err := r.executeTask(ctx, task, executedTasks)
		if err != nil {
			return results, fmt.Errorf("failed to execute task %s: %w", task.ID(), err)
		}

		results = append(results, result)
		executedTasks[task.ID()] = result
		notify(progressCallback, task, &result)

		if result.Result.Error != nil {
			return results, fmt.Errorf("task %s failed: %w", task.ID(), result.Result.Error)
		}
	}

	return results, nil
}

func (r *Runner) executeParallel(ctx context.Context, graph *Graph, progressCallback ProgressCallback, parallelWorkers int) ([]ExecutionResult, error) {
	// the sort doubles as cycle detection before any worker starts
	if _, err := graph.TopologicalSort(); err != nil {
		return nil, fmt.Errorf("failed to sort tasks: %w", err)
	}

	allTasks := graph.GetTasks()
	dependents := graph.dependents()
	taskInDegree := make(map[string]int) // taskID -> number of uncompleted dependencies
	for _, task := range allTasks {
		taskInDegree[task.ID()] = len(task.Dependencies())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskQueue := make(chan Task, len(allTasks))
	resultChan := make(chan ExecutionResult, len(allTasks))
	errorChan := make(chan error, parallelWorkers)

	executedTasks := &SafeExecutedTasks{
		tasks: make(map[string]ExecutionResult),
	}

	for _, task := range allTasks {
		if taskInDegree[task.ID()] == 0 {
			taskQueue <- task
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < parallelWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerParallel(ctx, taskQueue, resultChan, errorChan, progressCallback, executedTasks)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	var results []ExecutionResult
	completedCount := 0

	for completedCount < len(allTasks) {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case err := <-errorChan:
			return results, err
		case result := <-resultChan:
			results = append(results, result)
			executedTasks.Set(result.Task.ID(), result)
			completedCount++

			if result.Result.Error != nil {
				return results, fmt.Errorf("task %s failed: %w", result.Task.ID(), result.Result.Error)
			}

			// Queue the tasks whose last dependency just finished
			for _, next := range dependents[result.Task.ID()] {
				taskInDegree[next]--
				if taskInDegree[next] == 0 {
					task, err := graph.GetTask(next)
					if err != nil {
						return results, err
					}
					taskQueue <- task
				}
			}
		}
	}

	close(taskQueue)

	return results, nil
}

// SafeExecutedTasks provides thread-safe access to executed tasks
type SafeExecutedTasks struct {
	tasks map[string]ExecutionResult
	mu    sync.RWMutex
}

func (s *SafeExecutedTasks) Set(taskID string, result ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = result
}

func (s *SafeExecutedTasks) ToMap() map[string]ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]ExecutionResult, len(s.tasks))
	for k, v := range s.tasks {
		result[k] = v
	}
	return result
}

func (r *Runner) workerParallel(ctx context.Context, taskQueue <-chan Task, resultChan chan<- ExecutionResult, errorChan chan<- error, progressCallback ProgressCallback, executedTasks *SafeExecutedTasks) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-taskQueue:
			if !ok {
				return
			}

			notify(progressCallback, task, nil)

			result, err := r.executeTask(ctx, task, executedTasks.ToMap())
			if err != nil {
				select {
				case errorChan <- fmt.Errorf("failed to execute task %s: %w", task.ID(), err):
				case <-ctx.Done():
				}
				return
			}

			notify(progressCallback, task, &result)

			select {
			case resultChan <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// bindHistory looks up the previous execution of task and binds it. Store failures
// are logged and treated like a missing record.
func (r *Runner) bindHistory(task Task, log logger.Logger) *history.Record {
	record, err := r.store.Load(task.ID())
	switch {
	case err == nil:
		task.Outputs().BindHistory(record)
		return record
	case errors.Is(err, history.ErrNotFound):
		log.Debug("no previous execution recorded")
	default:
		log.Warn("failed to load task history, task will run", "error", err)
	}
	return nil
}

// decide reports whether task can be skipped, and why not if it cannot
func (r *Runner) decide(task Task, taskHash string, record *history.Record, executedTasks map[string]ExecutionResult) (bool, string, error) {
	out := task.Outputs()
	if !out.HasOutput() {
		return false, "task declares no outputs", nil
	}

	// predicates always run, even when another reason already forces execution
	upToDate, err := out.IsUpToDate(task, r.comparator)
	if err != nil {
		return false, "", err
	}

	switch {
	case record == nil:
		return false, "no previous execution", nil
	case record.ConfigHash != taskHash:
		return false, "task configuration changed", nil
	}
	for _, dep := range task.Dependencies() {
		if depResult, ok := executedTasks[dep.ID()]; ok && !depResult.UpToDate {
			return false, fmt.Sprintf("dependency %s was executed", dep.ID()), nil
		}
	}
	if !upToDate {
		return false, "outputs changed or an up-to-date condition failed", nil
	}
	return true, "", nil
}

// executeTask decides whether task is up to date and runs it if it is not
func (r *Runner) executeTask(ctx context.Context, task Task, executedTasks map[string]ExecutionResult) (ExecutionResult, error) {
	taskHash := ComputeTaskHash(task)
	log := r.logger.With("task", task.ID())

	record := r.bindHistory(task, log)

	upToDate, reason, err := r.decide(task, taskHash, record, executedTasks)
	if err != nil {
		return ExecutionResult{}, err
	}
	if upToDate {
		log.Debug("task is up to date, skipping")
		previous, _ := task.Outputs().PreviousOutputs()
		return ExecutionResult{
			Task:     task,
			TaskHash: taskHash,
			Result:   TaskResult{Files: previous.Paths()},
			UpToDate: true,
		}, nil
	}
	log.Debug("task will run", "reason", reason)

	var dependencyInputs []DependencyInput
	for _, dep := range task.Dependencies() {
		depResult, exists := executedTasks[dep.ID()]
		if !exists {
			return ExecutionResult{}, fmt.Errorf("dependency %s not found in executed tasks", dep.ID())
		}
		dependencyInputs = append(dependencyInputs, DependencyInput{
			TaskID:    dep.ID(),
			Directory: dep.Directory(),
			Outputs:   dep.Outputs().Snapshot().Paths(),
			UpToDate:  depResult.UpToDate,
		})
	}

	configured := task.Outputs().Snapshot()
	task.Start()
	taskResult := task.Execute(logger.ContextWithLogger(ctx, log), dependencyInputs)

	result := ExecutionResult{
		Task:     task,
		TaskHash: taskHash,
		Result:   taskResult,
	}
	if taskResult.Error != nil {
		return result, nil
	}

	if task.Outputs().HasOutput() {
		if err := r.recordExecution(task, taskHash, configured); err != nil {
			return ExecutionResult{}, err
		}
	}
	return result, nil
}

// recordExecution stores the outputs of a successful execution for the next build.
// Outputs declared during execution are fingerprinted but kept apart from the
// configured set, which is what the next freshly configured task will declare.
// The hash stays the one the decision was based on.
func (r *Runner) recordExecution(task Task, taskHash string, configured outputs.OutputSet) error {
	declared := task.Outputs().Snapshot()
	fingerprints, err := r.snapshotter.Fingerprint(declared)
	if err != nil {
		return fmt.Errorf("failed to fingerprint outputs of task %s: %w", task.ID(), err)
	}

	var late []string
	for _, path := range declared.Paths() {
		if !configured.Contains(path) {
			late = append(late, path)
		}
	}

	record := &history.Record{
		TaskID:       task.ID(),
		ConfigHash:   taskHash,
		Outputs:      configured.Paths(),
		LateOutputs:  late,
		Fingerprints: fingerprints,
		ExecutedAt:   r.now(),
	}
	if err := r.store.Save(record); err != nil {
		return fmt.Errorf("failed to record execution of task %s: %w", task.ID(), err)
	}
	return nil
}

// ExecuteTask executes a single task (useful for testing or selective execution)
func (r *Runner) ExecuteTask(ctx context.Context, task Task) (ExecutionResult, error) {
	return r.executeTask(ctx, task, make(map[string]ExecutionResult))
}
