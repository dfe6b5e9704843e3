package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/systemstart/gridrun/pkg/api"
	"github.com/systemstart/gridrun/pkg/engine"
	"github.com/systemstart/gridrun/pkg/logging"
	"github.com/systemstart/gridrun/pkg/server"
	"github.com/systemstart/gridrun/pkg/store"
)

var version = "dev"

const (
	_ = iota
	exitDotenvError
	exitWorkflowsNotSpecified
	exitLoadWorkflowsFailed
	exitInputDirectoryCheckFailed
	exitLoadRunnersFailed
	exitWorkspaceInitFailed
	exitInvalidEvent
	exitRunFailed
	exitServerFailed
)

var (
	workflowsPath  string
	eventName      string
	eventRef       string
	changedPaths   string
	inputDirectory string
	workspace      string
	runnersFile    string
	maxParallel    int
	envFile        string
	loggingType    string
	logLevel       string
	serve          bool
	listenAddr     string
	showVersion    bool
)

func init() {
	flag.StringVar(
		&workflowsPath,
		"workflows",
		"",
		"workflow file or directory of workflow files")
	flag.StringVar(
		&eventName,
		"event",
		api.EventPush,
		"event to dispatch: push or pull_request")
	flag.StringVar(
		&eventRef,
		"ref",
		"refs/heads/main",
		"git ref the event refers to")
	flag.StringVar(
		&changedPaths,
		"changed-paths",
		"",
		"comma-separated list of changed paths for path filters")
	flag.StringVar(
		&inputDirectory,
		"input-directory",
		".",
		"source tree instances check out from")
	flag.StringVar(
		&workspace,
		"workspace",
		"runs",
		"directory run state is stored under")
	flag.StringVar(
		&runnersFile,
		"runners",
		"",
		"runner mapping YAML file")
	flag.IntVar(
		&maxParallel,
		"max-parallel",
		0,
		"cap on concurrently running instances per job (0 = per-job strategy)")
	flag.StringVar(
		&envFile,
		"env-file",
		"",
		"dotenv file to load (default: .env when present)")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&serve,
		"serve",
		false,
		"run as a webhook server instead of dispatching one event")
	flag.StringVar(
		&listenAddr,
		"listen",
		":8080",
		"listen address in server mode")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	_ = logging.Initialize(loggingType, logLevel)

	includeEnv()

	workflows := loadWorkflows()
	mapping := loadRunnerMapping()
	inputDir := checkInputDirectory()
	st := openStore()

	eng := &engine.Engine{
		Store:       st,
		Mapping:     mapping,
		InputDir:    inputDir,
		MaxParallel: maxParallel,
	}

	if serve {
		runServer(eng, st, workflows)
	} else {
		runOnce(eng, workflows)
	}

	slog.Info("done")
}

func runOnce(eng *engine.Engine, workflows []*api.Workflow) {
	event := api.Event{
		Name:  eventName,
		Ref:   eventRef,
		Paths: splitPaths(changedPaths),
	}
	if err := event.Validate(); err != nil {
		slog.Error("invalid event", "error", err)
		os.Exit(exitInvalidEvent)
	}

	summary, err := eng.Run(context.Background(), engine.Request{
		Event:     event,
		Workflows: workflows,
	})
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(exitRunFailed)
	}

	slog.Info("run complete", "run", summary.ID, "instances", len(summary.Instances))
}

func runServer(eng *engine.Engine, st *store.Store, workflows []*api.Workflow) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(eng, st, workflows)
	if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(exitServerFailed)
	}
}

func loadWorkflows() []*api.Workflow {
	if workflowsPath == "" {
		slog.Error("-workflows not set")
		os.Exit(exitWorkflowsNotSpecified)
	}

	workflows, err := engine.DiscoverWorkflows(workflowsPath)
	if err != nil {
		slog.Error("failed to load workflows", "path", workflowsPath, "error", err)
		os.Exit(exitLoadWorkflowsFailed)
	}
	if len(workflows) == 0 {
		slog.Error("no workflow files found", "path", workflowsPath)
		os.Exit(exitLoadWorkflowsFailed)
	}

	slog.Info("loaded workflows", "count", len(workflows))
	return workflows
}

func loadRunnerMapping() *api.RunnerMapping {
	if runnersFile == "" {
		return nil
	}

	mapping, err := api.LoadRunnerMapping(runnersFile)
	if err != nil {
		slog.Error("failed to load runner mapping", "filename", runnersFile, "error", err)
		os.Exit(exitLoadRunnersFailed)
	}
	return mapping
}

func checkInputDirectory() string {
	st, err := os.Stat(inputDirectory)
	if err != nil {
		slog.Error("failed to check input directory", "directory", inputDirectory, "error", err)
		os.Exit(exitInputDirectoryCheckFailed)
	}
	if !st.IsDir() {
		slog.Error("-input-directory is not a directory", "directory", inputDirectory)
		os.Exit(exitInputDirectoryCheckFailed)
	}

	abs, err := filepath.Abs(inputDirectory)
	if err != nil {
		slog.Error("failed to resolve input directory", "directory", inputDirectory, "error", err)
		os.Exit(exitInputDirectoryCheckFailed)
	}
	return abs
}

func openStore() *store.Store {
	st, err := store.New(workspace)
	if err != nil {
		slog.Error("failed to prepare workspace", "directory", workspace, "error", err)
		os.Exit(exitWorkspaceInitFailed)
	}
	return st
}

func includeEnv() {
	var err error
	if envFile != "" {
		err = godotenv.Load(envFile)
	} else {
		err = godotenv.Load()
	}

	if err != nil {
		if envFile != "" || !os.IsNotExist(err) {
			slog.Error("failed to load dotenv file", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Debug("no .env file found")
	} else {
		slog.Info("using dotenv file")
	}
}

func splitPaths(list string) []string {
	if list == "" {
		return nil
	}

	var paths []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
