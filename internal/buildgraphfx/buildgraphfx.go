// Package buildgraphfx wires together the command surface's dependencies:
// configuration, logging, the task registry, and the storage/token layers
// a run needs. It has no behavior of its own — it is pure construction,
// kept out of cmd/ so each command stays a thin cobra.Command builder.
package buildgraphfx

import (
	"log/slog"
	"os"

	"github.com/buildgraph/buildgraph/internal/config"
	"github.com/buildgraph/buildgraph/internal/jobtoken"
	"github.com/buildgraph/buildgraph/internal/logger"
	"github.com/buildgraph/buildgraph/internal/taskschema"
	"github.com/buildgraph/buildgraph/internal/tasks"
	"github.com/buildgraph/buildgraph/internal/tempstorage"
)

// App bundles the constructed dependencies one invocation needs.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	Registry *taskschema.Registry
	Storage  *tempstorage.Store
	Tokens   *jobtoken.Manager
}

// Options carries the resolved CLI inputs buildgraphfx needs to construct
// an App.
type Options struct {
	ConfigPath      string
	WorkspaceRoot   string
	SharedStorageDir string // overrides config.SharedStorageDir when non-empty
	TokenSignature  string // "" to mint a fresh signature
	LogJSON         bool   // forces JSON logging regardless of config
}

// New loads configuration and constructs the App for one invocation.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.SharedStorageDir != "" {
		cfg.SharedStorageDir = opts.SharedStorageDir
	}

	log := logger.New(logger.Options{
		Writer: os.Stderr,
		Level:  cfg.LogLevel,
		JSON:   cfg.LogJSON || opts.LogJSON,
	})

	registry := taskschema.NewRegistry()
	tasks.Register(registry, opts.WorkspaceRoot)

	localRoot := config.LocalStorageDirFor(cfg, opts.WorkspaceRoot)
	storage := tempstorage.New(opts.WorkspaceRoot, localRoot, cfg.SharedStorageDir)

	signature := opts.TokenSignature
	if signature == "" {
		signature = jobtoken.NewSignature()
	}
	tokens := jobtoken.NewManager(signature)

	return &App{
		Config:   cfg,
		Log:      log,
		Registry: registry,
		Storage:  storage,
		Tokens:   tokens,
	}, nil
}
