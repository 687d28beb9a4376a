package graph

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTask = errors.New("task already exists")
	ErrTaskNotFound  = errors.New("task not found")
	ErrCycle         = errors.New("cycle detected in task graph")
)

// Graph represents a directed acyclic graph of tasks
type Graph struct {
	tasks []Task
	index map[string]Task
	edges map[string][]string // task ID -> list of dependency task IDs
}

// NewGraph creates a new empty graph
func NewGraph() *Graph {
	return &Graph{
		tasks: make([]Task, 0),
		index: make(map[string]Task),
		edges: make(map[string][]string),
	}
}

// AddTask adds a task to the graph
func (g *Graph) AddTask(task Task) error {
	if _, exists := g.index[task.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID())
	}

	g.tasks = append(g.tasks, task)
	g.index[task.ID()] = task

	var depIDs []string
	for _, dep := range task.Dependencies() {
		depIDs = append(depIDs, dep.ID())
	}
	g.edges[task.ID()] = depIDs

	return nil
}

// GetTask returns a task by its ID
func (g *Graph) GetTask(id string) (Task, error) {
	task, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// GetTasks returns all tasks in the graph in insertion order
func (g *Graph) GetTasks() []Task {
	return g.tasks
}

// Subgraph returns a new graph with the given tasks and everything they depend on
func (g *Graph) Subgraph(ids []string) (*Graph, error) {
	sub := NewGraph()
	visited := make(map[string]bool)

	var add func(task Task) error
	add = func(task Task) error {
		if visited[task.ID()] {
			return nil
		}
		visited[task.ID()] = true
		for _, dep := range task.Dependencies() {
			if err := add(dep); err != nil {
				return err
			}
		}
		return sub.AddTask(task)
	}

	for _, id := range ids {
		task, err := g.GetTask(id)
		if err != nil {
			return nil, err
		}
		if err := add(task); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// dependents returns task ID -> IDs of the tasks depending on it
func (g *Graph) dependents() map[string][]string {
	result := make(map[string][]string)
	for _, task := range g.tasks {
		for _, dep := range g.edges[task.ID()] {
			result[dep] = append(result[dep], task.ID())
		}
	}
	return result
}

// TopologicalSort returns tasks in topological order (dependencies first).
// Tasks without ordering constraints keep their insertion order.
func (g *Graph) TopologicalSort() ([]Task, error) {
	// Kahn's algorithm for topological sorting
	inDegree := make(map[string]int)
	for _, task := range g.tasks {
		inDegree[task.ID()] = len(g.edges[task.ID()])
	}

	var queue []string
	for _, task := range g.tasks {
		if inDegree[task.ID()] == 0 {
			queue = append(queue, task.ID())
		}
	}

	dependents := g.dependents()
	var result []Task

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		task, err := g.GetTask(current)
		if err != nil {
			return nil, err
		}
		result = append(result, task)

		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(result) != len(g.tasks) {
		return nil, ErrCycle
	}

	return result, nil
}
