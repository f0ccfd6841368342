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

	"github.com/spf13/cobra"

	"github.com/crimson-sun/stepwise/internal/export"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/receiver"
)

func newReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Accept workflow notifications and export finished workflows",
		Long: `receive listens for the notifications "stepwise serve" posts to its
webhook and writes each finished workflow to the export directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			listen, _ := cmd.Flags().GetString("listen")
			if listen == "" {
				listen = cfg.Receiver.Listen
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.Receiver.Dir
			}
			formatName, _ := cmd.Flags().GetString("format")
			if formatName == "" {
				formatName = cfg.Receiver.Format
			}
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			once, _ := cmd.Flags().GetBool("once")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			rcv := receiver.New(
				receiver.WithDir(dir),
				receiver.WithFormat(format),
				receiver.WithOnFinal(func(path string, wf model.Workflow) {
					fmt.Fprintf(out, "%s (%d steps)\n", path, len(wf.Steps))
					if once {
						stop()
					}
				}),
			)
			return runHTTP(ctx, listen, rcv.Handler(), cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (overrides STEPWISE_RECEIVER_LISTEN)")
	cmd.Flags().String("dir", "", "Export directory (overrides STEPWISE_RECEIVER_DIR)")
	cmd.Flags().String("format", "", "Export format: json or yaml")
	cmd.Flags().Bool("once", false, "Exit after the first exported workflow")
	return cmd
}

// runHTTP serves h on addr until ctx is done.
func runHTTP(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("stepwise: receiving", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("receive: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
