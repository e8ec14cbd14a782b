package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rzbill/faro/internal/bus"
	cfgpkg "github.com/rzbill/faro/internal/config"
	"github.com/rzbill/faro/internal/metrics"
	"github.com/rzbill/faro/internal/reader"
	"github.com/rzbill/faro/internal/runtime"
	readsvc "github.com/rzbill/faro/internal/services/reads"
	subsvc "github.com/rzbill/faro/internal/services/subscription"
	pebblestore "github.com/rzbill/faro/internal/storage/pebble"
	"github.com/rzbill/faro/internal/tflog"
	logpkg "github.com/rzbill/faro/pkg/log"
)

func main() {
	cfg := cfgpkg.Default()
	cfgpkg.FromEnv(&cfg)

	level, err := logpkg.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logpkg.InfoLevel
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if cfg.LogFormat == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	rootCmd := &cobra.Command{
		Use:   "faro",
		Short: "Faro typed event reader CLI",
		Long:  "Faro reads events of selected types from a TF log in global position order. This CLI seeds demo data and tails typed events.",
	}
	rootCmd.AddCommand(newSeedCommand(cfg, logger))
	rootCmd.AddCommand(newTailCommand(cfg, logger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newSeedCommand(cfg cfgpkg.Config, logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Append demo events and build the type index",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data")
			typesCSV, _ := cmd.Flags().GetString("types")
			count, _ := cmd.Flags().GetInt("count")
			unindexed, _ := cmd.Flags().GetInt("unindexed")

			types := splitTypes(typesCSV)
			if len(types) == 0 {
				return fmt.Errorf("--types must name at least one event type")
			}
			if unindexed > count {
				unindexed = count
			}

			rt, err := runtime.Open(runtime.Options{
				DataDir: dataDir,
				Fsync:   pebblestore.FsyncModeAlways,
				Config:  cfg,
				Metrics: metrics.StorageHook{},
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			ix, err := tflog.NewIndexer(rt.Store(), types)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var lastIndexed tflog.TfPos
			for i := 0; i < count; i++ {
				typ := types[i%len(types)]
				stream := "demo-" + strings.ToLower(typ)
				payload, _ := json.Marshal(map[string]any{"n": i, "type": typ})
				rec, pos, err := rt.Store().Append(ctx, stream, typ, payload, nil, true)
				if err != nil {
					return err
				}
				if i < count-unindexed {
					if err := ix.IndexEvent(ctx, rec, pos); err != nil {
						return err
					}
					lastIndexed = pos
				}
			}
			if lastIndexed != (tflog.TfPos{}) {
				if err := ix.WriteCheckpoint(ctx, lastIndexed); err != nil {
					return err
				}
			}
			logger.Info("seeded",
				logpkg.Int("count", count),
				logpkg.Int("unindexed", unindexed),
				logpkg.Str("last_indexed", lastIndexed.String()))
			return nil
		},
	}
	cmd.Flags().String("data", cfgpkg.DefaultDataDir(), "Data directory")
	cmd.Flags().String("types", "OrderPlaced,CartOpened", "Comma-separated event types to seed and index")
	cmd.Flags().Int("count", 20, "Number of events to append")
	cmd.Flags().Int("unindexed", 4, "Trailing events to leave out of the type index")
	return cmd
}

func newTailCommand(cfg cfgpkg.Config, logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Read events of the given types in TF order",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data")
			typesCSV, _ := cmd.Flags().GetString("types")
			filter, _ := cmd.Flags().GetString("filter")
			maxDeliveries, _ := cmd.Flags().GetUint64("max")
			stopOnEof, _ := cmd.Flags().GetBool("stop-on-eof")
			metricsAddr, _ := cmd.Flags().GetString("metrics")

			types := splitTypes(typesCSV)
			if len(types) == 0 {
				return fmt.Errorf("--types must name at least one event type")
			}

			rt, err := runtime.Open(runtime.Options{
				DataDir: dataDir,
				Fsync:   pebblestore.FsyncModeAlways,
				Config:  cfg,
				Metrics: metrics.StorageHook{},
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Warn("metrics endpoint failed", logpkg.Err(err))
					}
				}()
			}

			mb := bus.NewMailbox(cfg.MailboxDepth, logger)
			timer := bus.NewTimer(mb)
			defer timer.Stop()

			fromPositions := make(map[string]int32, len(types))
			for _, t := range types {
				fromPositions[tflog.TypeStream(t)] = 0
			}
			rd, err := reader.New(mb, timer, logger, reader.Options{
				EventTypes:          types,
				FromTfPos:           tflog.PosBeforeAll,
				FromPositions:       fromPositions,
				ResolveLinkTos:      true,
				StopOnEof:           stopOnEof,
				MaxDeliveries:       maxDeliveries,
				StreamReadBatch:     cfg.StreamReadBatch,
				CheckpointReadBatch: cfg.CheckpointReadBatch,
				TfReadBatch:         cfg.TfReadBatch,
				RetryDelay:          cfg.RetryDelay(),
			})
			if err != nil {
				return err
			}

			rs := readsvc.New(rt.Store(), mb, logger)
			ss := subsvc.New(logger)

			done := make(chan struct{})
			enc := json.NewEncoder(os.Stdout)
			if _, err := ss.Subscribe(rd.CorrelationID(), subsvc.Options{Filter: filter}, subsvc.SinkFunc(func(n subsvc.Notification) error {
				switch n.Kind {
				case subsvc.KindEvent:
					if n.Event == nil {
						return nil
					}
					rec := n.Event.Event
					if rec == nil {
						rec = n.Event.PositionEvent()
					}
					return enc.Encode(map[string]any{
						"position":     n.Position.String(),
						"stream":       rec.StreamID,
						"event_number": rec.EventNumber,
						"type":         rec.EventType,
						"data":         string(rec.Data),
						"progress":     n.Progress,
					})
				case subsvc.KindIdle:
					logger.Debug("reader idle")
				case subsvc.KindEof:
					logger.Info("reader eof", logpkg.Bool("max_events_reached", n.MaxEventsReached))
					close(done)
				}
				return nil
			})); err != nil {
				return err
			}

			mb.Handle(func(msg bus.Message) error {
				if handled, err := rd.Handle(msg); handled || err != nil {
					return err
				}
				if handled, err := rs.Handle(msg); handled || err != nil {
					return err
				}
				if _, err := ss.Handle(msg); err != nil {
					return err
				}
				return nil
			})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rd.Start()
			mb.Start()
			defer mb.Stop()

			select {
			case <-done:
				return nil
			case <-ctx.Done():
				logger.Info("interrupted, stopping")
				return nil
			}
		},
	}
	cmd.Flags().String("data", cfgpkg.DefaultDataDir(), "Data directory")
	cmd.Flags().String("types", "", "Comma-separated event types to read")
	cmd.Flags().String("filter", "", "Optional CEL filter, e.g. int(json.n) % 2 == 0")
	cmd.Flags().Uint64("max", 0, "Stop after N deliveries (0 = unlimited)")
	cmd.Flags().Bool("stop-on-eof", false, "Stop at the first TF-log EOF instead of tailing")
	cmd.Flags().String("metrics", os.Getenv("FARO_METRICS_ADDR"), "Prometheus /metrics listen address (optional)")
	return cmd
}

func splitTypes(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
