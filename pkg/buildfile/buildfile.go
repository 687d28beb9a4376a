// Package buildfile discovers fbs.yaml files and turns their task definitions
// into a task graph.
package buildfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/google/shlex"

	"fbs/pkg/graph"
	"fbs/pkg/logger"
	"fbs/pkg/outputs"
)

// FileName is the build file looked for in every directory
const FileName = "fbs.yaml"

var (
	ErrInvalidTask       = errors.New("invalid task definition")
	ErrUnknownDependency = errors.New("unknown dependency")
)

// File is the content of one build file
type File struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec is one task definition
type TaskSpec struct {
	Name         string            `yaml:"name"`
	Command      []string          `yaml:"command"`
	Run          string            `yaml:"run"`
	Env          map[string]string `yaml:"env"`
	DependsOn    []string          `yaml:"depends_on"`
	Outputs      OutputSpec        `yaml:"outputs"`
	UpToDateWhen []map[string]any  `yaml:"up_to_date_when"`
}

// OutputSpec lists declared output files and directories, relative to the build file
type OutputSpec struct {
	Files []string `yaml:"files"`
	Dirs  []string `yaml:"dirs"`
}

// PlanResult represents the tasks found below a directory
type PlanResult struct {
	// Graph contains the discovered tasks
	Graph *graph.Graph
	// Tasks maps task IDs to the loaded command tasks
	Tasks map[string]*CommandTask
	// RootDir is the directory that was scanned
	RootDir string
	// Files are the build files that were loaded
	Files []string
}

// Loader creates tasks from build files
type Loader struct {
	logger logger.Logger
	strict bool
}

// NewLoader creates a loader. strict is passed on to every task's output declarations.
func NewLoader(log logger.Logger, strict bool) *Loader {
	if log == nil {
		log = logger.Default()
	}
	return &Loader{logger: log, strict: strict}
}

type loadedTask struct {
	task *CommandTask
	spec TaskSpec
	rel  string
}

// Plan loads every build file below rootDir and wires the tasks into a graph
func (l *Loader) Plan(ctx context.Context, rootDir string) (*PlanResult, error) {
	files, err := Discover(ctx, rootDir)
	if err != nil {
		return nil, err
	}

	var loaded []loadedTask
	byID := make(map[string]*CommandTask)

	for _, path := range files {
		dir := filepath.Dir(path)
		rel, err := filepath.Rel(rootDir, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to relativize %s: %w", dir, err)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			rel = ""
		}

		file, err := ParseFile(path)
		if err != nil {
			return nil, err
		}

		for _, spec := range file.Tasks {
			task, err := l.newTask(dir, rel, spec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if _, exists := byID[task.ID()]; exists {
				return nil, fmt.Errorf("%s: %w: %s", path, graph.ErrDuplicateTask, task.ID())
			}
			byID[task.ID()] = task
			loaded = append(loaded, loadedTask{task: task, spec: spec, rel: rel})
		}
	}

	// dependencies have to be in place before tasks are added to the graph
	for _, lt := range loaded {
		for _, ref := range lt.spec.DependsOn {
			id := ref
			if !strings.Contains(ref, ":") {
				id = TaskID(lt.rel, ref)
			}
			dep, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("task %s: %w: %s", lt.task.ID(), ErrUnknownDependency, ref)
			}
			lt.task.AddDependency(dep)
		}
	}

	g := graph.NewGraph()
	for _, lt := range loaded {
		if err := g.AddTask(lt.task); err != nil {
			return nil, err
		}
	}

	l.logger.Debug("planned build", "root", rootDir, "files", len(files), "tasks", len(loaded))

	return &PlanResult{
		Graph:   g,
		Tasks:   byID,
		RootDir: rootDir,
		Files:   files,
	}, nil
}

// TaskID builds the ID of task name defined in the build file at relDir
func TaskID(relDir, name string) string {
	return relDir + ":" + name
}

// newTask creates the task and declares its outputs and predicates. This is the
// configuration phase of the task.
func (l *Loader) newTask(dir, rel string, spec TaskSpec) (*CommandTask, error) {
	if spec.Name == "" || strings.Contains(spec.Name, ":") {
		return nil, fmt.Errorf("%w: bad name %q", ErrInvalidTask, spec.Name)
	}
	command, err := commandOf(spec)
	if err != nil {
		return nil, err
	}

	id := TaskID(rel, spec.Name)
	task := NewCommandTask(id, spec.Name, dir, command, spec.Env,
		outputs.WithLogger(l.logger),
		outputs.WithStrictMode(l.strict),
	)

	out := task.Outputs()
	if len(spec.Outputs.Files) > 0 {
		if err := out.Declare(spec.Outputs.Files); err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
	}
	for _, d := range spec.Outputs.Dirs {
		if err := out.DeclareDirectory(d); err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
	}
	for i, entry := range spec.UpToDateWhen {
		p, err := buildPredicate(dir, entry)
		if err != nil {
			return nil, fmt.Errorf("task %s: up_to_date_when[%d]: %w", id, i, err)
		}
		if err := out.AddPredicate(p); err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
	}
	return task, nil
}

// commandOf returns the argv of a task, given either as a list or as a shell-like run line
func commandOf(spec TaskSpec) ([]string, error) {
	switch {
	case len(spec.Command) > 0 && spec.Run != "":
		return nil, fmt.Errorf("%w: task %s sets both command and run", ErrInvalidTask, spec.Name)
	case len(spec.Command) > 0:
		return spec.Command, nil
	case spec.Run != "":
		parts, err := shlex.Split(spec.Run)
		if err != nil {
			return nil, fmt.Errorf("%w: task %s: failed to split run line: %v", ErrInvalidTask, spec.Name, err)
		}
		if len(parts) > 0 {
			return parts, nil
		}
	}
	return nil, fmt.Errorf("%w: task %s has no command", ErrInvalidTask, spec.Name)
}

// ParseFile reads one build file
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse build file %s: %w", path, err)
	}
	return &file, nil
}

// Discover returns all build files below rootDir, deepest directories first
func Discover(ctx context.Context, rootDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			// Skip .git directory and other hidden directories
			if path != rootDir && (strings.HasPrefix(d.Name(), ".") || isSkippableDir(d.Name())) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == FileName {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect build files: %w", err)
	}

	sortByDepth(files)
	return files, nil
}

// sortByDepth sorts paths by depth (deepest first), then lexically
func sortByDepth(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di := strings.Count(paths[i], string(filepath.Separator))
		dj := strings.Count(paths[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
}

// isSkippableDir returns true if the directory should be skipped during discovery
func isSkippableDir(dirName string) bool {
	switch dirName {
	case "node_modules", "target", "build", "dist", "out", "bin", "obj",
		"__pycache__", "vendor", "_build":
		return true
	}
	return false
}
