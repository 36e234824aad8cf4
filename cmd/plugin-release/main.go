package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spinplugins/plugin-release/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type app struct {
	log *logrus.Logger
	cfg *config.ReleaseConfig
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// action adapts a command implementation to cobra, logging errors the same
// way for every command.
func (a *app) action(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := fn(ctx, cmd, args); err != nil {
			a.log.Errorf("ERROR: %v", err)
			os.Exit(1)
		}
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewReleaseConfigFromEnv()
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := must(cmd.Flags().GetString("log-level"))
	if level == "" {
		level = cfg.LogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a.log.SetLevel(lvl)
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "plugin-release",
		Short:             "Build, package and publish CLI plugin releases",
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().StringP("config", "c", config.DefaultProjectFilename, "the project release file")
	cmd.PersistentFlags().StringP("dist", "d", "dist", "the output directory for release artifacts")
	cmd.PersistentFlags().String("log-level", "", "log level (defaults to LOG_LEVEL or info)")
	cmd.PersistentFlags().SortFlags = false

	cmd.AddCommand(
		newBuildCmd(a),
		newPackageCmd(a),
		newChecksumCmd(a),
		newManifestCmd(a),
		newPublishCmd(a),
		newReleaseCmd(a),
		newChannelCmd(a),
		newInstallCmd(a),
		newVerifyCmd(a),
		newReleasesCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plugin-release %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if err := newRootCmd(&app{log: log}).Execute(); err != nil {
		os.Exit(1)
	}
}
