// Package config loads Faro's runtime configuration.
//
// Configuration comes from three layers, later layers overriding earlier
// ones: built-in defaults, an optional JSON file, and FARO_* environment
// variables. The package also resolves the default on-disk data directory
// per host OS conventions.
package config
