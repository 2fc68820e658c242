package engine

import (
	"log/slog"
	"time"

	"github.com/seantiz/ember/internal/task"
	"github.com/seantiz/ember/internal/task/content"
	"github.com/seantiz/ember/internal/task/imagecache"
	"github.com/seantiz/ember/internal/task/layout"
	"github.com/seantiz/ember/internal/task/renderer"
	"github.com/seantiz/ember/internal/task/resource"
)

// SubsystemConfig tunes the production subsystems.
type SubsystemConfig struct {
	UserAgent     string
	FetchTimeout  time.Duration
	MaxBodyBytes  int64
	ScriptTimeout time.Duration
}

// DefaultSpawner returns a spawner for the production subsystems. Each one
// logs with its own "subsystem" attribute.
func DefaultSpawner(cfg SubsystemConfig, logger *slog.Logger) task.Spawner {
	sub := func(name string) *slog.Logger {
		return logger.With("subsystem", name)
	}

	return task.Spawner{
		Renderer: func(sink task.Sink) task.Renderer {
			return renderer.Start(sink, sub("renderer"))
		},
		ResourceLoader: func() task.ResourceLoader {
			return resource.Start(resource.Options{
				UserAgent:    cfg.UserAgent,
				FetchTimeout: cfg.FetchTimeout,
				MaxBodyBytes: cfg.MaxBodyBytes,
			}, sub("resource"))
		},
		ImageCache: func(resources task.ResourceLoader) task.ImageCache {
			return imagecache.Start(resources, sub("image_cache"))
		},
		Layout: func(r task.Renderer, images task.ImageCache) task.Layout {
			return layout.Start(r, images, sub("layout"))
		},
		Content: func(l task.Layout, sink task.Sink, resources task.ResourceLoader) task.Content {
			return content.Start(content.Options{ScriptTimeout: cfg.ScriptTimeout}, l, sink, resources, sub("content"))
		},
	}
}
