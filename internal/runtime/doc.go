// Package runtime wires storage and configuration for a single-node Faro
// instance: it opens the Pebble database, the TF-log store on top of it, and
// exposes the handles the services and the CLI build on.
package runtime
