package config

import (
	"fmt"
	"strings"
	"time"
)

// fileConfig is the YAML layout of a configuration file. Zero values leave
// the defaults in place.
type fileConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`

	Viewport struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"viewport"`

	Sink struct {
		Kind    string `yaml:"kind"`
		Address string `yaml:"address"`
		CID     uint32 `yaml:"cid"`
		Port    uint32 `yaml:"port"`
	} `yaml:"sink"`

	Subsystems struct {
		UserAgent           string `yaml:"user_agent"`
		FetchTimeout        string `yaml:"fetch_timeout"`
		MaxBodyBytes        int64  `yaml:"max_body_bytes"`
		ScriptTimeout       string `yaml:"script_timeout"`
		RendererExitTimeout string `yaml:"renderer_exit_timeout"`
	} `yaml:"subsystems"`
}

func (f fileConfig) apply(cfg *Config) error {
	if f.ListenAddr != "" {
		cfg.ListenAddr = f.ListenAddr
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(f.LogLevel)
	}
	if f.Viewport.Width > 0 {
		cfg.ViewportWidth = f.Viewport.Width
	}
	if f.Viewport.Height > 0 {
		cfg.ViewportHeight = f.Viewport.Height
	}
	if f.Sink.Kind != "" {
		cfg.SinkKind = strings.ToLower(f.Sink.Kind)
	}
	if f.Sink.Address != "" {
		cfg.SinkAddr = f.Sink.Address
	}
	if f.Sink.CID != 0 {
		cfg.VsockCID = f.Sink.CID
	}
	if f.Sink.Port != 0 {
		cfg.VsockPort = f.Sink.Port
	}
	if f.Subsystems.UserAgent != "" {
		cfg.UserAgent = f.Subsystems.UserAgent
	}
	if f.Subsystems.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = f.Subsystems.MaxBodyBytes
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"fetch_timeout", f.Subsystems.FetchTimeout, &cfg.FetchTimeout},
		{"script_timeout", f.Subsystems.ScriptTimeout, &cfg.ScriptTimeout},
		{"renderer_exit_timeout", f.Subsystems.RendererExitTimeout, &cfg.RendererExitTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}
