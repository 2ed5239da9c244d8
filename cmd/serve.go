package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/gateway"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	rt, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	// the watcher is set up before any goroutine starts so a failure
	// returns with nothing left running
	w, err := rt.configWatcher(cfgPath)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	srv := gateway.NewServer(cfg.Server, rt.manager)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(gctx, cfg.Addr()); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}

	slog.Info("ohbridge serving", "addr", cfg.Addr(), "models", cfg.Catalog().Len(), "auth", cfg.Server.Token != "")
	return g.Wait()
}
