package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/phasetrack/internal/config"
	"github.com/randalmurphal/phasetrack/internal/events"
	"github.com/randalmurphal/phasetrack/internal/storage"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// runtime is everything a command needs to talk to the engine.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.EntityStore
	engine    *tracker.Engine
	publisher *events.MemoryPublisher
	registry  *prometheus.Registry
}

// loadConfig reads the config file and environment, then applies any flags
// in binds (config key → flag name) that exist on cmd.
func loadConfig(cmd *cobra.Command, binds map[string]string) (*config.Config, error) {
	v := viper.New()
	for key, flag := range binds {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return config.Load(v, cfgFile)
}

// newLogger builds the slog logger for cfg. -v forces debug, -q keeps only
// errors. The auto format writes text to terminals and JSON otherwise.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	format := cfg.Format
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openRuntime loads config and opens the store and engine. Callers must
// Close the runtime.
func openRuntime(cmd *cobra.Command, binds map[string]string) (*runtime, error) {
	cfg, err := loadConfig(cmd, binds)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	store, err := storage.NewStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pub := events.NewMemoryPublisher(events.WithBufferSize(cfg.Events.BufferSize))

	// -v echoes every change the command makes.
	var enginePub events.Publisher = pub
	if verbose {
		enginePub = events.NewEchoPublisher(cmd.ErrOrStderr(), pub)
	}

	engine := tracker.New(store,
		tracker.WithLogger(logger),
		tracker.WithPublisher(enginePub),
		tracker.WithMetrics(tracker.NewMetrics(reg)),
	)

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		engine:    engine,
		publisher: pub,
		registry:  reg,
	}, nil
}

// Close releases the store and publisher.
func (r *runtime) Close() error {
	r.publisher.Close()
	return r.store.Close()
}

// withRuntime opens a runtime, runs fn and closes the runtime.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(cmd, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			rt.logger.Warn("close store", "error", cerr)
		}
	}()
	return fn(cmd.Context(), rt)
}
