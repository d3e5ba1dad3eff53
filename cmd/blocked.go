package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBlockedCmd() *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "Adds a Blocked_Crawlers column to a CSV of robots.txt documents",
		Long: `Reads a CSV with a RobotsTxt column and writes it back with an extra
Blocked_Crawlers column listing, comma-separated, every user agent the
document disallows from at least one path.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(appInstance App) error {
				rows, err := appInstance.Blocked(cmd.Context(), input, output)
				if err != nil {
					return fmt.Errorf("run blocked: %w", err)
				}
				appInstance.Logger().Info("blocked command finished", zap.Int("rows", rows), zap.String("output", output))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&input, "input", "Group2.csv", "input CSV path or gs:// URL")
	cmd.Flags().StringVar(&output, "output", "Blocked_Crawlers.csv", "output CSV path or gs:// URL")
	return cmd
}
