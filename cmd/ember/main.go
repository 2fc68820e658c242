// Command ember runs the browser engine supervisor behind an HTTP API.
// Sessions attach to the engine, load URLs through it and finally exit it.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/ember/internal/api"
	"github.com/seantiz/ember/internal/config"
	"github.com/seantiz/ember/internal/engine"
	"github.com/seantiz/ember/internal/sink"
	"github.com/seantiz/ember/internal/store"
	"github.com/seantiz/ember/internal/task"
)

const sinkDialTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("EMBER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	cfg := config.Load()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("ember: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sink", cfg.SinkKind,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	out, err := openSink(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open sink: %v", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("close sink", "error", err)
		}
	}()

	spawner := engine.DefaultSpawner(engine.SubsystemConfig{
		UserAgent:     cfg.UserAgent,
		FetchTimeout:  cfg.FetchTimeout,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		ScriptTimeout: cfg.ScriptTimeout,
	}, logger)

	eng, err := engine.NewEngine(out, spawner, logger, engine.WithRendererExitTimeout(cfg.RendererExitTimeout))
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}
	root, err := eng.Start()
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	srv := api.NewServer(cfg.ListenAddr, db, eng, root, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openSink opens the configured frame surface.
func openSink(cfg config.Config, logger *slog.Logger) (sink.Surface, error) {
	target := sink.Target{
		Network: cfg.SinkKind,
		Address: cfg.SinkAddr,
		CID:     cfg.VsockCID,
		Port:    cfg.VsockPort,
	}
	viewport := task.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}

	ctx, cancel := context.WithTimeout(context.Background(), sinkDialTimeout)
	defer cancel()

	logger.Info("opening sink", "target", target.String())
	return sink.Open(ctx, target, viewport, logger.With("component", "sink"))
}
