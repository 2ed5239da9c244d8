package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/tui"
)

func tuiCmd() *cobra.Command {
	var (
		session string
		logFile string
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), session, logFile)
		},
	}
	cmd.Flags().StringVar(&session, "session", config.DefaultSessionID, "session id (shared with the server's transcript storage)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file (default: discarded unless --verbose)")
	return cmd
}

func runTUI(ctx context.Context, session, logFile string) error {
	// the alternate screen owns the terminal; logs go elsewhere
	var logOut io.Writer = io.Discard
	if logFile == "" && verbose {
		logFile = config.ExpandHome("~/.ohbridge/tui.log")
	}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	setupLogging(logOut)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	rt, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return tui.Run(ctx, rt.manager.GetOrCreate(session))
}
