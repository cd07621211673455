package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shipcal/internal/config"
	"shipcal/internal/ics"
	appLog "shipcal/internal/log"
	"shipcal/internal/refresh"
	"shipcal/internal/store"
	"shipcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

var (
	serveListen    string
	serveNoRefresh bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the calendar API and refresh feeds on schedule",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
	serveCmd.Flags().BoolVar(&serveNoRefresh, "no-refresh", false, "Serve stored events only; do not fetch feeds")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if err := refresh.ValidateSchedule(cfg.RefreshCron); err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"default_view", cfg.DefaultView,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"feed_count", len(cfg.Feeds),
		"no_refresh", serveNoRefresh,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var opts []web.Option
	var runner *refresh.Runner
	if !serveNoRefresh {
		fetcher, err := newFetcher()
		if err != nil {
			return err
		}
		runner = refresh.New(cfg, fetcher, st)
		if err := runner.Start(ctx); err != nil {
			return err
		}
		opts = append(opts, web.WithRefresher(runner))

		// First import without waiting for the schedule.
		runner.Go(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(cfg, st, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	if runner != nil {
		runner.Stop(shutdownCtx)
	}

	appLog.Info("shipcal exiting")
	return nil
}

func openStore() (*store.Store, error) {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return st, nil
}

func newFetcher() (*ics.Fetcher, error) {
	dir, err := config.ExpandPath(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return ics.NewFetcher(dir), nil
}
