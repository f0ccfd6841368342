package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/background"
	"github.com/crimson-sun/stepwise/internal/bridge"
	"github.com/crimson-sun/stepwise/internal/config"
	"github.com/crimson-sun/stepwise/internal/engine/compactor"
	"github.com/crimson-sun/stepwise/internal/output"
	"github.com/crimson-sun/stepwise/internal/output/async"
	"github.com/crimson-sun/stepwise/internal/output/file"
	"github.com/crimson-sun/stepwise/internal/output/multi"
	"github.com/crimson-sun/stepwise/internal/output/stdout"
	"github.com/crimson-sun/stepwise/internal/output/webhook"
	"github.com/crimson-sun/stepwise/internal/recording"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording daemon",
		Long: `serve accepts capture contexts and UI observers over websocket, records
their events while a session is active and pushes workflow updates to the
configured output (webhook, stdout or file).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
				cfg.Listen = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (overrides STEPWISE_LISTEN)")
	return cmd
}

// buildOutput creates the external notification output, or nil when
// notifications are disabled.
func buildOutput(cfg config.Config) (output.Output, error) {
	verbosity := compactor.ParseVerbosity(cfg.Output.Verbosity)
	switch cfg.Output.Kind {
	case "webhook":
		if cfg.Output.WebhookURL == "" {
			return nil, nil
		}
		return webhook.New(cfg.Output.WebhookURL,
			webhook.WithTimeout(cfg.Output.WebhookTimeout),
			webhook.WithHeaders(cfg.Output.WebhookHeaders),
			webhook.WithVerbosity(verbosity),
		), nil
	case "stdout":
		return stdout.New(verbosity, cfg.Output.Pretty), nil
	case "file":
		return file.New(afero.NewOsFs(), cfg.Output.File, verbosity, file.WithMaxSize(cfg.Output.FileMaxSize))
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown output %q", cfg.Output.Kind)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	external, err := buildOutput(cfg)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}

	reg := bridge.NewRegistry()
	// The aggregator writes while holding its lock; the queue keeps slow
	// consumers off that path.
	out := async.New(multi.New(external, bridge.NewUIOutput(reg)),
		async.WithBufferSize(cfg.Output.AsyncBuffer),
		async.WithDropOnFull(),
		async.WithOnError(func(err error) { slog.Warn("notification delivery failed", "error", err) }),
	)

	agg := aggregator.New(
		aggregator.WithOutput(out),
		aggregator.WithWorkflowName(cfg.Workflow.Name),
		aggregator.WithWorkflowVersion(cfg.Workflow.Version),
	)
	ctl := recording.New(agg,
		recording.WithContexts(reg.Broadcaster(bridge.RoleCapture)),
		recording.WithUI(reg.Broadcaster(bridge.RoleUI)),
		recording.WithOutput(out),
	)
	var bgOpts []background.Option
	if cfg.Capture.Screenshots {
		bgOpts = append(bgOpts, background.WithScreenshotter(reg, cfg.Capture.ScreenshotTimeout))
	}
	svc := background.New(agg, ctl, bgOpts...)
	srv := bridge.NewServer(svc, reg, bridge.WithToken(cfg.Token))

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("stepwise: serving", "addr", cfg.Listen, "output", cfg.Output.Kind, "screenshots", cfg.Capture.Screenshots)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	reg.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	svc.Close()
	if err := out.Close(); err != nil {
		slog.Warn("closing output", "error", err)
	}
	return nil
}
