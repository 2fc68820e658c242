package task

import "errors"

// ErrIncompleteSpawner is returned by Validate when a constructor is missing.
var ErrIncompleteSpawner = errors.New("spawner is missing a subsystem constructor")

// Spawner holds one constructor per subsystem. Each constructor receives the
// handles of the subsystems it depends on, which is why they must be invoked
// in the order Renderer, ResourceLoader, ImageCache, Layout, Content.
type Spawner struct {
	Renderer       func(sink Sink) Renderer
	ResourceLoader func() ResourceLoader
	ImageCache     func(resources ResourceLoader) ImageCache
	Layout         func(renderer Renderer, images ImageCache) Layout
	Content        func(layout Layout, sink Sink, resources ResourceLoader) Content
}

// Validate reports whether every constructor is set.
func (s Spawner) Validate() error {
	if s.Renderer == nil || s.ResourceLoader == nil || s.ImageCache == nil ||
		s.Layout == nil || s.Content == nil {
		return ErrIncompleteSpawner
	}
	return nil
}

// Handles is the full set of spawned subsystems.
type Handles struct {
	Renderer       Renderer
	ResourceLoader ResourceLoader
	ImageCache     ImageCache
	Layout         Layout
	Content        Content
}

// Spawn starts every subsystem in dependency order, wiring each later one with
// the handles of the earlier ones.
func (s Spawner) Spawn(sink Sink) (Handles, error) {
	if err := s.Validate(); err != nil {
		return Handles{}, err
	}

	var h Handles
	h.Renderer = s.Renderer(sink)
	h.ResourceLoader = s.ResourceLoader()
	h.ImageCache = s.ImageCache(h.ResourceLoader)
	h.Layout = s.Layout(h.Renderer, h.ImageCache)
	h.Content = s.Content(h.Layout, sink, h.ResourceLoader)
	return h, nil
}
