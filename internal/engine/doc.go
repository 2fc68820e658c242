// Package engine provides the browser engine supervisor. It spawns the
// Renderer, ResourceLoader, ImageCache, Layout and Content subsystems in
// dependency order, serves clients over a one-shot session protocol
// (Running → LoadURL → Running, Running → Exit → Exited), forwards navigation
// to Content, and tears the subsystems down in a fixed order on exit.
package engine
