// File path: internal/cli/serve.go
package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/excavator-project/excavator/internal/api"
	"github.com/excavator-project/excavator/internal/config"
	"github.com/excavator-project/excavator/internal/daemon"
	"github.com/excavator-project/excavator/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// runServe is the full daemon lifecycle: construct, start, serve HTTP,
// shut down on SIGINT/SIGTERM or POST /shutdown.
func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The rolling log file lives alongside the databases in the data dir;
	// this must happen before the first Logger() call pins the handler.
	if strings.TrimSpace(os.Getenv("LOG_FILE")) == "" {
		_ = os.MkdirAll(cfg.DataDir, 0o755)
		_ = os.Setenv("LOG_FILE", filepath.Join(cfg.DataDir, "excavator.log"))
	}
	log := logging.With("serve")

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		_ = d.Close()
		return err
	}

	server := api.NewServer(d)
	serveCtx, cancelServe := context.WithCancel(ctx)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- api.Serve(serveCtx, fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port), server)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		log.Info("signal received", "signal", sig.String())
	case <-server.ShutdownRequested():
		log.Info("shutdown requested over control plane")
	case err := <-serveErr:
		cancelServe()
		_ = d.Shutdown(ctx)
		return fmt.Errorf("control plane: %w", err)
	}

	shutdownErr := d.Shutdown(ctx)
	cancelServe()
	<-serveErr
	return shutdownErr
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func urlQueryEscape(s string) string {
	return url.QueryEscape(s)
}
