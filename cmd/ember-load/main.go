// Command ember-load drives the engine without the HTTP API: it loads each
// URL given on the command line in order, waits for the page to settle and
// then exits the engine, printing the shutdown result as JSON.
//
// Usage: ember-load [-settle 2s] [-config ember.yaml] URL...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/seantiz/ember/internal/config"
	"github.com/seantiz/ember/internal/engine"
	"github.com/seantiz/ember/internal/sink"
	"github.com/seantiz/ember/internal/task"
)

func main() {
	configPath := flag.String("config", os.Getenv("EMBER_CONFIG"), "path to a YAML config file")
	settle := flag.Duration("settle", 2*time.Second, "time to let each page load before the next command")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ember-load [-settle 2s] [-config file] URL...")
		os.Exit(2)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	// Frames and subsystem logs go to stderr; stdout carries the result.
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	urls := make([]*url.URL, 0, flag.NArg())
	for _, arg := range flag.Args() {
		u, err := url.Parse(arg)
		if err != nil || !u.IsAbs() {
			log.Fatalf("invalid URL %q: must be absolute", arg)
		}
		urls = append(urls, u)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	out, err := sink.Open(ctx, sink.Target{
		Network: cfg.SinkKind,
		Address: cfg.SinkAddr,
		CID:     cfg.VsockCID,
		Port:    cfg.VsockPort,
	}, task.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}, logger.With("component", "sink"))
	cancel()
	if err != nil {
		log.Fatalf("failed to open sink: %v", err)
	}
	defer out.Close()

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
	ep, err := eng.Start()
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	for _, u := range urls {
		logger.Info("loading", "url", u.String(), "kind", engine.Classify(u))
		if ep, err = ep.LoadURL(u); err != nil {
			log.Fatalf("load %s: %v", u, err)
		}
		time.Sleep(*settle)
	}

	x, err := ep.Exit()
	if err != nil {
		log.Fatalf("exit: %v", err)
	}
	ex, err := x.Wait(context.Background())
	if err != nil {
		log.Fatalf("wait for exit: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Loaded    int       `json:"loaded"`
		Abandoned int       `json:"abandoned"`
		ExitedAt  time.Time `json:"exited_at"`
	}{len(urls), ex.Abandoned, ex.At}); err != nil {
		log.Fatalf("encode result: %v", err)
	}
}
