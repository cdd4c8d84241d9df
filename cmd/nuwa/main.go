package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nuwa-labs/nuwa/internal/agent"
	"github.com/nuwa-labs/nuwa/internal/cli"
	"github.com/nuwa-labs/nuwa/internal/config"
	"github.com/nuwa-labs/nuwa/internal/llm"
	"github.com/nuwa-labs/nuwa/internal/maintenance"
	"github.com/nuwa-labs/nuwa/internal/memory"
	"github.com/nuwa-labs/nuwa/internal/metrics"
	"github.com/nuwa-labs/nuwa/internal/session"
	"github.com/nuwa-labs/nuwa/pkg/tools"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	message    = flag.String("m", "", "Send one message and exit")
	provider   = flag.String("provider", "", "Provider override (openai, deepseek, qwen, zhipu, anthropic)")
	resume     = flag.String("resume", "", "Resume a saved session by name")
	stream     = flag.Bool("stream", false, "Stream replies instead of rendering markdown")
	debug      = flag.Bool("debug", false, "Verbose logging")
	version    = "dev"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("nuwa version %s\n", version)
			return
		}
	}

	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if *provider != "" {
		if _, ok := cfg.GetProvider(*provider); !ok {
			logger.Fatal("unknown provider", zap.String("provider", *provider))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Address, logger); err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	manager := llm.NewManager(cfg, logger)

	registry := tools.NewRegistry()
	registry.Register(&tools.CalculatorTool{})
	registry.Register(&tools.DatetimeTool{})
	registry.Register(&tools.FetchURLTool{})

	if cfg.Agent.EnableMultimodal {
		var imageKey string
		if qwen, ok := cfg.GetProvider("qwen"); ok {
			imageKey = qwen.APIKey
		}
		registry.Register(&tools.GenerateImageTool{
			APIKey:  imageKey,
			SaveDir: filepath.Join(cfg.Storage.DataDir, "generated_images"),
		})
	}

	var searcher *tools.DocSearcher
	if cfg.Agent.DocsPath != "" {
		searcher, err = tools.NewDocSearcher(cfg.Agent.DocsPath, logger)
		if err != nil {
			logger.Warn("doc search unavailable", zap.Error(err))
		} else {
			defer searcher.Close()
			registry.Register(&tools.SearchDocsTool{Searcher: searcher})
		}
	}

	var mem *memory.Manager
	var memStore *memory.Store
	if cfg.Agent.EnableMemory {
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Storage.DataDir, "nuwa.db")
		}
		memStore, err = memory.NewStore(path)
		if err != nil {
			logger.Fatal("failed to open memory store", zap.Error(err))
		}
		mem = memory.NewManager(memStore, logger)
	}

	var sessions *session.Store
	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "sessions")
	}
	sessions, err = session.Open(badgerPath, 30*24*time.Hour, logger)
	if err != nil {
		logger.Warn("session store unavailable, conversations will not persist", zap.Error(err))
		sessions = nil
	} else {
		defer sessions.Close()
	}

	upkeep := maintenance.NewRunner(maintenance.DefaultConfig(), memStore, sessions, logger)
	if err := upkeep.Start(); err != nil {
		logger.Warn("maintenance runner failed to start", zap.Error(err))
	} else {
		defer upkeep.Stop()
	}

	a := agent.New(cfg.Agent, manager, registry, mem, m, logger)
	a.SetProvider(*provider)

	repl := cli.NewREPL(a, sessions, cfg, *stream, logger)

	if *resume != "" {
		if err := repl.RestoreSession(*resume); err != nil {
			logger.Warn("failed to resume session", zap.String("session", *resume), zap.Error(err))
		}
	}

	if *message != "" {
		if err := repl.RunOnce(ctx, *message); err != nil {
			logger.Fatal("chat failed", zap.Error(err))
		}
		return
	}

	if err := repl.Run(ctx); err != nil {
		logger.Fatal("repl failed", zap.Error(err))
	}
}

func newLogger(debug bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		logger, err = cfg.Build()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return logger
}
