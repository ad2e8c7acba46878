package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/rekindle/rekindle/pkg/config"
	"github.com/rekindle/rekindle/pkg/status"
	"github.com/rekindle/rekindle/pkg/statusapi"
	"github.com/rekindle/rekindle/pkg/stores"
	"github.com/rekindle/rekindle/pkg/supervisor"
	"github.com/rekindle/rekindle/pkg/system"
	"github.com/rekindle/rekindle/pkg/telemetry"
	"github.com/rekindle/rekindle/pkg/watcher"
)

func newRunCommand() *cobra.Command {
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervised system",
		Long: `Run the supervised system described by the configuration file.

The initial reset builds and starts the system; a failed initial reset
is fatal. While running, configuration file changes (when watching is
enabled) trigger further resets, each one reloading the configuration
and atomically replacing the running system.`,
		Example: `  # Run with the default configuration
  rekindle run

  # Run with a configuration file, resetting on change
  rekindle run --config rekindle.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem(cmd.Context(), configPath, stopTimeout)
		},
	}

	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "how long to wait for the final stop")

	return cmd
}

// historyRecorder forwards transition records to whichever history
// store the latest constructed system carries. Resets swap the store;
// a nil store drops records.
type historyRecorder struct {
	mu    sync.Mutex
	store *stores.SQLiteStore
}

func (r *historyRecorder) set(store *stores.SQLiteStore) {
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
}

func (r *historyRecorder) RecordTransition(ctx context.Context, rec supervisor.Record) error {
	r.mu.Lock()
	store := r.store
	r.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.RecordTransition(ctx, rec)
}

func runSystem(ctx context.Context, path string, stopTimeout time.Duration) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	register := status.NewRegister()
	recorder := &historyRecorder{}
	sup := supervisor.New(register, supervisor.Options{
		Logger:   tel.Logger,
		Metrics:  tel.Metrics,
		Tracer:   tel.Tracer,
		Recorder: recorder,
	})

	// The trigger and the constructor reference each other: a watched
	// change resets with the same constructor, which in turn builds the
	// next watcher.
	var build supervisor.Constructor
	trigger := func(ctx context.Context) error {
		tel.Logger.Info("change detected, resetting system")
		_, err := sup.Reset(ctx, build)
		return err
	}
	build = newSystemConstructor(path, register, recorder, tel, trigger)

	if _, err := sup.Reset(ctx, build); err != nil {
		// No auto-recovery at the top: a failed initial reset is fatal.
		return fmt.Errorf("initial reset failed: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := sup.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// newSystemConstructor builds the constructor the supervisor runs on
// every reset. The configuration file is reloaded each time, so a
// reset picks up whatever changed on disk.
func newSystemConstructor(
	path string,
	register *status.Register,
	recorder *historyRecorder,
	tel *telemetry.Telemetry,
	trigger watcher.TriggerFunc,
) supervisor.Constructor {
	return func(prev *system.System) (*system.System, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}

		sys := system.New()

		var store *stores.SQLiteStore
		if cfg.History.Enabled {
			store, err = stores.NewSQLiteStore(stores.Config{
				Path: cfg.History.Path,
				Keep: cfg.History.Keep,
			})
			if err != nil {
				return nil, err
			}
			sys = sys.With("history", store.Component())
		}
		recorder.set(store)

		if cfg.Server.Enabled {
			sys = sys.With("statusapi", statusapi.NewServer(cfg.Server, register, statusapi.Options{
				Logger:  tel.Logger,
				Metrics: tel.Metrics,
				History: store,
			}))
		}

		if cfg.Watcher.Enabled {
			w, err := watcher.New(cfg.Watcher, trigger, tel.Logger)
			if err != nil {
				return nil, err
			}
			sys = sys.With("watcher", w)
		}

		return sys, nil
	}
}
