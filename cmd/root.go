// Package cmd defines and implements the CLI commands for the campus-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/config"
	"github.com/JakeFAU/campus-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App holds what every subcommand needs: the validated configuration and the logger built from it.
type App struct {
	Config config.Config
	Logger *zap.Logger
}

// Close flushes the logger.
func (a *App) Close() {
	if a == nil || a.Logger == nil {
		return
	}
	// Sync on stderr/stdout fails with EINVAL on some platforms; nothing useful to do about it.
	_ = a.Logger.Sync()
}

// newApp is the application factory. It is a variable so tests can swap it.
var newApp = func(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &App{Config: cfg, Logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "campus-crawler",
		Short: "A resumable text crawler for a single university domain.",
		Long: `campus-crawler walks every reachable page of one university domain,
extracts the visible text and saves it once. Progress is checkpointed so an
interrupted crawl resumes where it stopped, and URLs from a prior corpus are
never fetched again.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*App); ok {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); CAMPUS_* env vars override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*App, error) {
	appInstance, ok := ctx.Value(appKey).(*App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
