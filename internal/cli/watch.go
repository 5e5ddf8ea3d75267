package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/adrecon/internal/api"
	"github.com/roach88/adrecon/internal/channel"
	"github.com/roach88/adrecon/internal/config"
	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/ir"
)

const shutdownTimeout = 5 * time.Second

// ServiceOptions holds flags for watch and serve.
type ServiceOptions struct {
	*RootOptions
	Addr     string
	NoStream bool

	// Transport overrides the configured channel transport (for testing).
	Transport channel.Transport
	// Ready, when set, receives the listener address once serving.
	Ready func(addr string)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return newWatchCommand(&ServiceOptions{RootOptions: rootOpts})
}

func newWatchCommand(opts *ServiceOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream events into the tables until interrupted",
		Long: `Subscribe every configured view to its topic and reconcile incoming
events into the stored tables until interrupted.

Example:
  adrecon watch --config adrecon.yaml
  ADRECON_SECRET=... adrecon watch --db ./adrecon.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd, false)
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServiceOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServiceOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream events and serve the tables over HTTP",
		Long: `Run watch together with the HTTP API: row and message endpoints,
outbound-response ingestion, /metrics and /healthz.

Example:
  adrecon serve --config adrecon.yaml --addr :8080
  adrecon serve --no-stream`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd, true)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.NoStream, "no-stream", false, "serve the API without subscribing to the channel")
	return cmd
}

func runService(opts *ServiceOptions, cmd *cobra.Command, withHTTP bool) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	rt, err := setup(ctx, opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer rt.Close()

	var adapter *channel.Adapter
	if !opts.NoStream {
		transport := opts.Transport
		if transport == nil {
			if err := rt.cfg.ValidateChannel(); err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "invalid channel config", err)
			}
			var closeTransport func()
			transport, closeTransport, err = newTransport(ctx, rt.cfg)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "failed to connect transport", err)
			}
			defer closeTransport()
		}
		adapter = channel.NewAdapter(transport,
			channel.WithRetry(rt.cfg.Channel.Retry),
			channel.WithMaxReconnects(rt.cfg.Channel.MaxReconnects),
			channel.WithObserver(rt.recorder),
		)
		defer adapter.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rt.engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if adapter != nil {
		for _, view := range rt.engine.Views() {
			sub, err := subscribe(gctx, rt.engine, adapter, view)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "failed to subscribe", err)
			}
			g.Go(func() error {
				<-sub.Done()
				if err := sub.Err(); err != nil && gctx.Err() == nil {
					return fmt.Errorf("view %s: %w", view, err)
				}
				return nil
			})
		}
	}

	if withHTTP {
		addr := opts.Addr
		if addr == "" {
			addr = rt.cfg.HTTP.Addr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.New(rt.engine, api.WithMetrics(rt.recorder)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			return serveHTTP(gctx, srv, opts.Ready)
		})
	}

	slog.Info("adrecon started", "views", rt.engine.Views(), "http", withHTTP, "stream", adapter != nil)
	fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		if errors.Is(err, channel.ErrGaveUp) {
			return f.Fail(ExitFailure, ErrCodeGeneric, "stream gave up", err)
		}
		return f.Fail(ExitFailure, ErrCodeGeneric, "service error", err)
	}

	slog.Info("adrecon stopped gracefully")
	return nil
}

// subscribe binds one view's stream to the engine queue.
func subscribe(ctx context.Context, eng *engine.Engine, adapter *channel.Adapter, view string) (*channel.Subscription, error) {
	topic, err := eng.Topic(view)
	if err != nil {
		return nil, err
	}
	subject, err := eng.Subject(view)
	if err != nil {
		return nil, err
	}
	req := channel.Request{Topic: topic, Subject: subject}
	return adapter.Subscribe(ctx, view, req, func(ev ir.RawEvent) {
		if !eng.Enqueue(engine.Event{Type: engine.EventTypeRaw, View: view, Raw: &ev}) {
			slog.Debug("event dropped after stop", "view", view)
		}
	}), nil
}

// newTransport builds the configured transport. The returned func releases
// its connections.
func newTransport(ctx context.Context, cfg *config.Config) (channel.Transport, func(), error) {
	switch cfg.Channel.Transport {
	case config.TransportRedis:
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("connected to redis", "addr", redisOpts.Addr)
		return channel.NewRedisTransport(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil

	default:
		return channel.NewSSETransport(cfg.Channel.BaseURL, nil, cfg.Channel.Headers), func() {}, nil
	}
}

// serveHTTP runs srv until ctx ends, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server, ready func(string)) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	slog.Info("http listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
