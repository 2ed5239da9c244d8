// Package cmd holds the ohbridge command line.
package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

const defaultConfigPath = "~/.ohbridge/config.json5"

var (
	cfgFile string
	verbose bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ohbridge",
		Short:         "HTTP/WebSocket and terminal front-ends over an agent engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(os.Stderr)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $OHBRIDGE_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(tuiCmd())
	root.AddCommand(modelsCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(onboardCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks --config, then $OHBRIDGE_CONFIG, then the default.
func resolveConfigPath() string {
	if cfgFile != "" {
		return config.ExpandHome(cfgFile)
	}
	if v := os.Getenv("OHBRIDGE_CONFIG"); v != "" {
		return config.ExpandHome(v)
	}
	return config.ExpandHome(defaultConfigPath)
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
