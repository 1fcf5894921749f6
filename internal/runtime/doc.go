// Package runtime assembles a single-node tasq instance: Pebble storage with
// metrics, the broker facade, and the background lease sweeper. Servers and
// the CLI build on a Runtime rather than wiring stores themselves.
package runtime
