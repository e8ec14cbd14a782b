package runtime

import (
	"context"
	"errors"

	cfgpkg "github.com/rzbill/faro/internal/config"
	pebblestore "github.com/rzbill/faro/internal/storage/pebble"
	"github.com/rzbill/faro/internal/tflog"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	// Metrics is an optional storage metrics hook.
	Metrics pebblestore.MetricsHook
}

// Runtime wires storage and config for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	store  *tflog.Store
	config cfgpkg.Config
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: opts.DataDir,
		Fsync:   opts.Fsync,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	store, err := tflog.Open(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runtime{db: db, store: store, config: opts.Config}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Store returns the TF-log store.
func (r *Runtime) Store() *tflog.Store { return r.store }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
