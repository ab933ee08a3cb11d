// Command cocoa runs the Local Cocoa knowledge workspace: it watches
// document folders, indexes them through the two-round pipeline, and
// serves search, QA and memory over HTTP.
//
// Usage:
//
//	go build -tags sqlite_fts5 ./cmd/cocoa
//	cocoa serve --config config.yaml
//	cocoa validate --config config.yaml
//
// The sqlite_fts5 tag is required: full-text search runs on SQLite
// FTS5, which mattn/go-sqlite3 only compiles in under that tag.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/synvo-ai/Local-Cocoa/pkg/chunker"
	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/indexer"
	"github.com/synvo-ai/Local-Cocoa/pkg/logger"
	"github.com/synvo-ai/Local-Cocoa/pkg/memory"
	"github.com/synvo-ai/Local-Cocoa/pkg/observability"
	"github.com/synvo-ai/Local-Cocoa/pkg/parser"
	"github.com/synvo-ai/Local-Cocoa/pkg/search"
	"github.com/synvo-ai/Local-Cocoa/pkg/server"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
	"github.com/synvo-ai/Local-Cocoa/pkg/vector"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the workspace server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("Local Cocoa %s\n", version)
	return nil
}

// ValidateCmd checks the configuration without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := loadConfig(cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	fmt.Println("Configuration OK")
	return nil
}

// ServeCmd runs the full workspace.
type ServeCmd struct {
	Listen string   `help:"HTTP bind address (overrides config)."`
	Watch  []string `help:"Additional folders to index." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	cfg.Indexer.WatchRoots = append(cfg.Indexer.WatchRoots, c.Watch...)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	logger.Init(level, os.Stderr, "simple")
	log := logger.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Persisted settings override the config file's initial snapshot.
	initial := cfg.Settings
	if saved, ok, err := config.LoadSettings(cfg.DataDir); err != nil {
		log.Warn("could not load saved settings", "error", err)
	} else if ok {
		initial = saved
	}
	settings := config.NewStore(initial)

	registry := prometheus.NewRegistry()
	observability.SetGlobalMetrics(observability.NewMetrics(registry))

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	vectors, err := vector.New(ctx, cfg.Vector)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer vectors.Close()

	embedder := clients.NewEmbeddingClient(cfg.Endpoints.Embedding, cfg.Model.EmbedModel, cfg.Model.APIKey, cfg.Vector.Dimension)
	reranker := clients.NewRerankClient(cfg.Endpoints.Rerank, cfg.Model.APIKey)
	llm := clients.NewLlmClient(clients.LlmOptions{
		BaseURL:     cfg.Endpoints.LLM,
		Model:       cfg.Model.Model,
		APIKey:      cfg.Model.APIKey,
		Temperature: cfg.Model.Temperature,
		Timeout:     time.Duration(cfg.Model.TimeoutSecs) * time.Second,
		MaxRetries:  cfg.Model.MaxRetries,
	})
	vision := clients.NewVisionClient(cfg.Endpoints.Vision, cfg.Model.VisionModel, cfg.Model.APIKey, 180*time.Second)

	ck, err := chunker.New()
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}
	router := parser.NewContentRouter()

	state := indexer.NewStateManager()
	fast := indexer.NewFastProcessor(st, vectors, router, ck, embedder, state, settings, log)
	deep := indexer.NewDeepProcessor(st, vectors, router, ck, embedder, vision, state, settings, log)
	sched := indexer.NewScheduler(st, fast, deep, state, cfg.Indexer, log)
	sched.Start(ctx)
	defer sched.Stop()

	if len(cfg.Indexer.WatchRoots) > 0 {
		watcher := indexer.NewWatcher(st, sched, cfg.Indexer.WatchRoots, log)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}

	engine := search.NewEngine(st, vectors, embedder, reranker, llm, settings, log)
	memories := memory.NewService(st, llm, log)

	srv := server.New(cfg, settings, st, engine, memories, state, registry, log)
	return srv.Start(ctx)
}

func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("cocoa"),
		kong.Description("Local Cocoa - local document workspace with two-round indexing and hybrid QA"),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
	os.Exit(exitOK)
}
