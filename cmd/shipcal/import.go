package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shipcal/internal/ics"
	appLog "shipcal/internal/log"
	"shipcal/internal/refresh"
)

var (
	importFeedID  string
	importAccount string
)

var importCmd = &cobra.Command{
	Use:   "import [file.ics ...]",
	Short: "Import shipment events into the store",
	Long: "Without arguments, fetch every configured feed once and store its events. " +
		"With arguments, import the given .ics files instead.",
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFeedID, "feed", "", "Source id stored with file imports (default: file name)")
	importCmd.Flags().StringVar(&importAccount, "account", "", "Account name stored with file imports")
}

func runImport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	if len(args) == 0 {
		fetcher, err := newFetcher()
		if err != nil {
			return err
		}
		sum := refresh.New(cfg, fetcher, st).RunOnce(cmd.Context())
		fmt.Fprintf(out, "feeds: %d (cached: %d), imported: %d, stored: %d, pruned: %d\n",
			sum.Feeds, sum.FromCache, sum.Imported, sum.Persisted, sum.Pruned)
		if sum.Failed() {
			return fmt.Errorf("%d error(s) during import: %w", len(sum.Errors), errors.Join(sum.Errors...))
		}
		return nil
	}

	loc, err := cfg.Location()
	if err != nil {
		appLog.Warn("invalid timezone; using local", "timezone", cfg.Timezone)
	}
	opts := expandOptions(cfg, time.Now().In(loc))

	var errs []error
	for _, path := range args {
		feed := ics.Feed{ID: importFeedID, Account: importAccount}
		if feed.ID == "" {
			feed.ID = fileFeedID(path)
		}

		payload, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		events, err := ics.ImportFeed(feed, payload, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		written, persistErrs := st.PersistAll(cmd.Context(), events)
		errs = append(errs, persistErrs...)

		appLog.Info("file imported", "path", path, "feed", feed.ID, "events", len(events), "stored", written)
		fmt.Fprintf(out, "%s: imported %d, stored %d\n", path, len(events), written)
	}
	return errors.Join(errs...)
}

// fileFeedID names a file import after the file, without extension.
func fileFeedID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
