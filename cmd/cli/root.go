// Package cli implements the secstate command-line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/secstate/internal/application/bootstrap"
	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/infrastructure/monitoring"
	"github.com/turtacn/secstate/pkg/logger"
	"github.com/turtacn/secstate/pkg/utils"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the secstate command tree.
// NewRootCommand 构建 secstate 命令树。
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "secstate",
		Short: "Inspect and manage the persisted client security state.",
		Long: `secstate reads the same store as the embedding application and exposes the
token vault, rate limiter, abuse guard, CSP policy, device fingerprint and
security event log for inspection and maintenance.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ./config.yaml or /etc/secstate/config.yaml)")

	rootCmd.AddCommand(
		newEventsCmd(opts),
		newTokenCmd(opts),
		newCSPCmd(opts),
		newFingerprintCmd(opts),
		newHeadersCmd(opts),
		newPasswordCmd(),
		newURLCmd(opts),
		newRateLimitCmd(opts),
		newUnblockCmd(opts),
		newClearCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger it selects.
func loadConfig(opts *rootOptions) (*config.Config, *config.Loader, logger.Logger, error) {
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return nil, nil, nil, err
	}
	loader := config.NewLoader(opts.configPath, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, loader, log, nil
}

// withApp assembles the manager for one command and releases it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, _, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer app.Close(ctx)
	return fn(ctx, app)
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := utils.ToJSONPretty(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
