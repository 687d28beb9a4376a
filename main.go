package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"fbs/pkg/buildfile"
	"fbs/pkg/config"
	"fbs/pkg/graph"
	"fbs/pkg/history"
	"fbs/pkg/logger"
	"fbs/pkg/outputs"
	"fbs/pkg/snapshot"
)

const version = "1.1.0"

type CLI struct {
	Version  bool   `short:"v" help:"Show version information"`
	Parallel int    `short:"j" help:"Number of parallel workers for task execution (default from config)"`
	Strict   bool   `help:"Fail on output declarations made after a task has started"`
	LogLevel string `help:"Log level: debug, info, warn, error"`
	LogJSON  bool   `name:"log-json" help:"Log as JSON"`
	CacheDir string `help:"Directory holding the execution history"`

	Plan         PlanCmd         `cmd:"" help:"Plan and print the build graph"`
	Build        BuildCmd        `cmd:"" help:"Execute tasks, skipping the ones that are up to date"`
	Outputs      OutputsCmd      `cmd:"" help:"Show declared and previous outputs of a task"`
	CleanHistory CleanHistoryCmd `cmd:"" name:"clean-history" help:"Forget the recorded executions of all tasks"`
}

type PlanCmd struct {
	Directory string `arg:"" optional:"" help:"Directory to plan (defaults to current directory)"`
}

type BuildCmd struct {
	Directory string   `arg:"" optional:"" help:"Directory to build (defaults to current directory)"`
	Tasks     []string `short:"t" name:"task" help:"Only run these task IDs and their dependencies"`
}

type OutputsCmd struct {
	Task      string `arg:"" help:"Task ID, e.g. lib:compile"`
	Directory string `arg:"" optional:"" help:"Project directory (defaults to current directory)"`
}

type CleanHistoryCmd struct {
	Directory string `arg:"" optional:"" help:"Project directory (defaults to current directory)"`
}

var (
	taskStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	hashStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pathStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	upToDateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("fbs"),
		kong.Description("Incremental build runner"),
	)

	if cli.Version {
		fmt.Printf("fbs version %s\n", version)
		return
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch ctx.Command() {
	case "plan <directory>", "plan":
		err = runPlan(runCtx, &cli, cli.Plan.Directory)
	case "build <directory>", "build":
		err = runBuild(runCtx, &cli, cli.Build)
	case "outputs <task> <directory>", "outputs <task>":
		err = runOutputs(runCtx, &cli, cli.Outputs)
	case "clean-history <directory>", "clean-history":
		err = runCleanHistory(runCtx, &cli, cli.CleanHistory.Directory)
	default:
		err = ctx.PrintUsage(false)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// workspace is everything a command needs after configuration has been loaded
type workspace struct {
	dir    string
	cfg    *config.Config
	log    logger.Logger
	store  *history.FileStore
	plan   *buildfile.PlanResult
	runner *graph.Runner
}

func resolveDirectory(directory string) (string, error) {
	dir := directory
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return absDir, nil
}

// openWorkspace loads configuration, applies the global flags and plans the build
func openWorkspace(ctx context.Context, cli *CLI, directory string) (*workspace, error) {
	absDir, err := resolveDirectory(directory)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfiguration(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cli.Parallel > 0 {
		cfg.Parallel = cli.Parallel
	}
	if cli.Strict {
		cfg.Strict = true
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogJSON {
		cfg.Log.JSON = true
	}
	if cli.CacheDir != "" {
		cfg.CacheDir = cli.CacheDir
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		Output:     os.Stderr,
		JSON:       cfg.Log.JSON,
		TimeFormat: "15:04:05",
	})
	logger.SetDefault(log)

	store, err := history.NewFileStore(cfg.HistoryDir())
	if err != nil {
		return nil, err
	}

	plan, err := buildfile.NewLoader(log, cfg.Strict).Plan(ctx, absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to plan build graph: %w", err)
	}

	return &workspace{
		dir:    absDir,
		cfg:    cfg,
		log:    log,
		store:  store,
		plan:   plan,
		runner: graph.NewRunner(store, snapshot.NewSnapshotter(), log),
	}, nil
}

func (w *workspace) relPath(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return path
	}
	return rel
}

func runPlan(ctx context.Context, cli *CLI, directory string) error {
	ws, err := openWorkspace(ctx, cli, directory)
	if err != nil {
		return err
	}

	fmt.Printf("Planning Directory: %s\n", ws.dir)
	if len(ws.cfg.Files) > 0 {
		fmt.Printf("Configuration: %s\n", strings.Join(ws.cfg.Files, ", "))
	}

	tasks, err := ws.plan.Graph.TopologicalSort()
	if err != nil {
		return fmt.Errorf("failed to sort tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks discovered.")
		return nil
	}

	for _, task := range tasks {
		ws.printTask(task)
	}
	return nil
}

func (w *workspace) printTask(task graph.Task) {
	out := task.Outputs()
	hash := graph.ComputeTaskHash(task)

	lastRun := "never run"
	if record, err := w.store.Load(task.ID()); err == nil {
		lastRun = "last run " + record.ExecutedAt.Format("2006-01-02 15:04:05")
		if record.ConfigHash != hash {
			lastRun += ", configuration changed since"
		}
	}

	fmt.Printf("- %s %s %s\n", taskStyle.Render(task.ID()), hashStyle.Render(hash[:8]), lastRun)
	for _, dep := range task.Dependencies() {
		fmt.Printf("    -> %s\n", taskStyle.Render(dep.ID()))
	}
	if !out.HasOutput() {
		fmt.Printf("    %s\n", warnStyle.Render("no outputs declared, always runs"))
		return
	}
	for _, path := range out.Snapshot().Paths() {
		fmt.Printf("    output %s\n", pathStyle.Render(w.relPath(path)))
	}
	if n := out.PredicateCount(); n > 0 {
		fmt.Printf("    %d up-to-date condition(s)\n", n)
	}
}

func runBuild(ctx context.Context, cli *CLI, cmd BuildCmd) error {
	ws, err := openWorkspace(ctx, cli, cmd.Directory)
	if err != nil {
		return err
	}

	executionGraph := ws.plan.Graph
	if len(cmd.Tasks) > 0 {
		executionGraph, err = ws.plan.Graph.Subgraph(cmd.Tasks)
		if err != nil {
			return err
		}
	}
	if len(executionGraph.GetTasks()) == 0 {
		fmt.Printf("No tasks found in directory %s\n", ws.dir)
		return nil
	}

	var mu sync.Mutex
	progress := func(task graph.Task, status string, finished bool, upToDate bool) {
		if !finished {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		var symbol string
		switch {
		case status == "failed":
			symbol = failedStyle.Render("✗")
		case upToDate:
			symbol = upToDateStyle.Render("↻")
		default:
			symbol = taskStyle.Render("✓")
		}
		fmt.Printf("  %s %s %s\n", symbol, task.ID(), hashStyle.Render(status))
	}

	results, err := ws.runner.ExecuteWithProgressParallel(ctx, executionGraph, progress, ws.cfg.Parallel)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	skipped := 0
	for _, r := range results {
		if r.UpToDate {
			skipped++
		}
	}
	fmt.Printf("%d task(s), %d executed, %d up to date\n", len(results), len(results)-skipped, skipped)
	return nil
}

func runOutputs(ctx context.Context, cli *CLI, cmd OutputsCmd) error {
	ws, err := openWorkspace(ctx, cli, cmd.Directory)
	if err != nil {
		return err
	}

	task, err := ws.plan.Graph.GetTask(cmd.Task)
	if err != nil {
		ids := make([]string, 0, len(ws.plan.Tasks))
		for id := range ws.plan.Tasks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return fmt.Errorf("%w (known tasks: %s)", err, strings.Join(ids, ", "))
	}

	out := task.Outputs()
	if record, err := ws.store.Load(task.ID()); err == nil {
		out.BindHistory(record)
	} else if !errors.Is(err, history.ErrNotFound) {
		return err
	}

	fmt.Printf("Declared outputs of %s:\n", taskStyle.Render(task.ID()))
	declared := out.Snapshot()
	if declared.IsEmpty() {
		fmt.Println("  (none)")
	}
	for _, path := range declared.Paths() {
		fmt.Printf("  %s\n", pathStyle.Render(ws.relPath(path)))
	}

	fmt.Println("Previous outputs:")
	previous, err := out.PreviousOutputs()
	switch {
	case errors.Is(err, outputs.ErrHistoryUnavailable):
		fmt.Println("  no history recorded")
	case err != nil:
		return err
	case previous.IsEmpty():
		fmt.Println("  (none)")
	default:
		for _, path := range previous.Paths() {
			fmt.Printf("  %s\n", pathStyle.Render(ws.relPath(path)))
		}
	}
	return nil
}

func runCleanHistory(ctx context.Context, cli *CLI, directory string) error {
	ws, err := openWorkspace(ctx, cli, directory)
	if err != nil {
		return err
	}

	for _, task := range ws.plan.Graph.GetTasks() {
		if err := ws.store.Delete(task.ID()); err != nil {
			return err
		}
		ws.log.Debug("history removed", "task", task.ID())
	}
	fmt.Printf("Removed history of %d task(s)\n", len(ws.plan.Graph.GetTasks()))
	return nil
}
