package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/adrecon/internal/config"
	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/metrics"
	"github.com/roach88/adrecon/internal/profile"
	"github.com/roach88/adrecon/internal/store"
)

// runtime is the wired process state shared by commands that touch the
// store.
type runtime struct {
	cfg      *config.Config
	profiles *profile.Set
	store    *store.Store
	engine   *engine.Engine
	recorder *metrics.Recorder
	logClose io.Closer
}

// newFormatter builds the formatter for cmd.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads and validates configuration and installs the logger.
// The returned closer releases the log file, if any.
func loadConfig(opts *RootOptions, cmd *cobra.Command, validate bool) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(opts.viper, opts.ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger, closer := config.NewLogger(cfg.Log, cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)
	return cfg, closer, nil
}

// setup loads config, profiles and the store, and builds the engine.
// Failures are reported through f and returned as ExitErrors.
func setup(ctx context.Context, opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*runtime, error) {
	cfg, logClose, err := loadConfig(opts, cmd, true)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	rt := &runtime{cfg: cfg, logClose: logClose, recorder: metrics.New()}

	rt.profiles, err = profile.Load(cfg.ProfilesDir)
	if err != nil {
		rt.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeProfile, "failed to load profiles", err)
	}
	views, err := cfg.EngineViews(rt.profiles)
	if err != nil {
		rt.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to resolve views", err)
	}

	slog.Debug("opening database", "path", cfg.DB)
	rt.store, err = store.Open(cfg.DB, []byte(cfg.Secret),
		store.WithObserver(rt.recorder),
		store.WithMaxMessages(cfg.MaxMessages),
	)
	if err != nil {
		rt.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}

	// Validate already checked both.
	loc, _ := cfg.Location()
	policy, _ := cfg.Policy()

	engOpts := []engine.Option{
		engine.WithMatchPolicy(policy),
		engine.WithLocation(loc),
		engine.WithObserver(rt.recorder),
	}
	rt.engine, err = engine.New(ctx, rt.store, views, append(engOpts, opts.EngineOptions...)...)
	if err != nil {
		rt.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to create engine", err)
	}
	rt.recorder.WatchQueue(rt.engine.QueueLen)
	return rt, nil
}

// Close releases the store and log file.
func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}
	if rt.logClose != nil {
		_ = rt.logClose.Close()
	}
}

// apply runs one event synchronously; the one-shot commands have no Run
// loop.
func (rt *runtime) apply(ctx context.Context, f *OutputFormatter, ev engine.Event) error {
	err := rt.engine.Handle(ctx, ev)
	if err == nil {
		return nil
	}

	var re *engine.RuntimeError
	if errors.As(err, &re) {
		switch re.Code {
		case engine.ErrCodeUnknownView:
			return f.Fail(ExitCommandError, ErrCodeNotFound, "unknown view", err)
		case engine.ErrCodeRowNotFound:
			return f.Fail(ExitFailure, ErrCodeNotFound, "row not found", err)
		default:
			return f.Fail(ExitFailure, ErrCodeRejected, "command rejected", err)
		}
	}
	return f.Fail(ExitFailure, ErrCodeGeneric, "command failed", err)
}

// table resolves a view's table, reporting unknown views.
func (rt *runtime) table(f *OutputFormatter, view string) (*store.Table, error) {
	t, err := rt.engine.Table(view)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeNotFound, "unknown view", err)
	}
	return t, nil
}

// commandContext returns the command's context, or Background outside of
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
