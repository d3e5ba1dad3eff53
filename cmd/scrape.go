package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Builds robots.txt history for a list of domains",
		Long: `Queries the Wayback Machine index for archived robots.txt captures of
every domain inside the month window, fetches each capture and writes one row
per (domain, capture, user agent) to the output. An output ending in .db,
.sqlite or .sqlite3 is written as SQLite; anything else is CSV, locally or on
gs://.`,
		Example: `  robots-history scrape --domains nytimes.com,spiegel.de --start-year 2023 --end-year 2025
  robots-history scrape --domains-file gs://bucket/domains.csv --output gs://bucket/history.csv`,
		RunE: runScrapeCommand,
	}

	f := cmd.Flags()
	f.StringSlice("domains", nil, "comma-separated domains to scrape")
	f.String("domains-file", "", "CSV or text file listing one domain per row")
	f.Int("start-month", 3, "first month of the window (1-12)")
	f.Int("start-year", 2025, "year of the first month")
	f.Int("end-month", 4, "last month of the window (1-12); captures after its first day are excluded")
	f.Int("end-year", 2025, "year of the last month")
	f.String("output", "robots_history.csv", "output CSV path, gs:// URL or SQLite file")
	f.Duration("pace-interval", 50*time.Millisecond, "pause after each capture fetch within a domain")
	f.Int("max-concurrency", 0, "domains processed at once (0 = all)")

	for name, key := range map[string]string{
		"domains":         "scrape.domains",
		"domains-file":    "scrape.domains_file",
		"start-month":     "scrape.start_month",
		"start-year":      "scrape.start_year",
		"end-month":       "scrape.end_month",
		"end-year":        "scrape.end_year",
		"output":          "scrape.output",
		"pace-interval":   "scrape.pace_interval",
		"max-concurrency": "scrape.max_concurrency",
	} {
		bindFlag(cmd, name, key)
	}
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(appInstance App) error {
		summary, err := appInstance.Scrape(cmd.Context())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				appInstance.Logger().Warn("scrape interrupted")
			}
			return fmt.Errorf("run scrape: %w", err)
		}

		appInstance.Logger().Info("scrape command finished",
			zap.String("run_id", summary.RunID),
			zap.Int("domains", summary.Domains),
			zap.Int("records", summary.Records),
			zap.Strings("outputs", summary.Outputs),
		)
		return nil
	})
}
