package buildfile

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"fbs/pkg/graph"
	"fbs/pkg/logger"
	"fbs/pkg/outputs"
)

// CommandTask runs an external command in its directory
type CommandTask struct {
	*graph.BaseTask
	name    string
	command []string
	env     map[string]string
}

// NewCommandTask creates a command task; outputs and predicates are declared by the caller
func NewCommandTask(id, name, dir string, command []string, env map[string]string, opts ...outputs.Option) *CommandTask {
	return &CommandTask{
		BaseTask: graph.NewBaseTask(id, dir, nil, opts...),
		name:     name,
		command:  command,
		env:      env,
	}
}

// Name returns the task name as written in the build file
func (c *CommandTask) Name() string {
	return c.name
}

// Command returns the command line
func (c *CommandTask) Command() []string {
	return c.command
}

// Hash returns a hash representing the task's configuration
func (c *CommandTask) Hash() string {
	h := sha256.New()

	h.Write([]byte("CommandTask"))
	h.Write([]byte(c.ID()))
	h.Write([]byte(c.Directory()))

	for _, arg := range c.command {
		h.Write([]byte(arg))
		h.Write([]byte{0})
	}

	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k + "=" + c.env[k]))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// Execute runs the command and reports the declared outputs that exist afterwards
func (c *CommandTask) Execute(ctx context.Context, dependencyInputs []graph.DependencyInput) graph.TaskResult {
	if len(c.command) == 0 {
		return graph.TaskResult{Error: fmt.Errorf("task %s has no command", c.ID())}
	}

	log := logger.FromContext(ctx)
	log.Debug("running command", "command", strings.Join(c.command, " "), "dir", c.Directory())

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Dir = c.Directory()
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Debug("command failed", "error", err)
		return graph.TaskResult{
			Error: fmt.Errorf("command %q failed: %w\nOutput: %s", c.command[0], err, string(output)),
		}
	}

	var files []string
	for _, path := range c.Outputs().Snapshot().Paths() {
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	return graph.TaskResult{Files: files}
}
