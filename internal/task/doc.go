// Package task defines the message contracts of the engine's subsystems
// (Renderer, Layout, Content, ResourceLoader, ImageCache), the data they
// exchange, and the mailbox each subsystem actor reads from. The supervisor
// only ever talks to a subsystem by sending one of these messages.
package task
