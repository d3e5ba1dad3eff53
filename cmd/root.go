// Package cmd defines the robots-history command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/robots-history/internal/config"
	"github.com/JakeFAU/robots-history/internal/pipeline"
	"github.com/JakeFAU/robots-history/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the subcommands use. Tests swap in a fake
// through newApp.
type App interface {
	Scrape(ctx context.Context) (pipeline.Summary, error)
	Blocked(ctx context.Context, input, output string) (int, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// configKeyAnnotation marks a flag as an override for a config key.
const configKeyAnnotation = "config_key"

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "robots-history",
		Short: "Reconstructs robots.txt history from the Wayback Machine.",
		Long: `robots-history lists archived robots.txt captures for each domain in a
month window, fetches every capture and records which user agents each one
names, so crawler blocking can be tracked over time.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, bindings(cmd)...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newScrapeCmd(), newBlockedCmd())
	return cmd
}

// bindFlag records that flag name overrides key when set on the command line.
func bindFlag(cmd *cobra.Command, name, key string) {
	if err := cmd.Flags().SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func bindings(cmd *cobra.Command) []config.Binding {
	var out []config.Binding
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[configKeyAnnotation]; len(keys) == 1 {
			out = append(out, config.Binding{Key: keys[0], Flag: f})
		}
	})
	return out
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn against the application stored in the command context and
// shuts the application down afterwards, whether or not fn failed.
func withApp(cmd *cobra.Command, fn func(App) error) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			appInstance.Logger().Warn("shutdown failed", zap.Error(cerr))
		}
	}()
	return fn(appInstance)
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}
