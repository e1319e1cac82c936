// Command faultproxy runs the fault-injection proxy: it loads the static
// listen/target configuration, brings up the control API, and tears down
// every live simulation cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ably/ably-asset-tracking-test-proxy/internal/api"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/config"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/faults"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/logging"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/metrics"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/registry"
	"github.com/ably/ably-asset-tracking-test-proxy/internal/security"
)

// version is set at build time via -ldflags.
var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "faultproxy",
		Short: "Fault-injection proxy for realtime protocol SDK testing",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (optional)")
	root.AddCommand(newStartCmd(), newVersionCmd(), newValidateCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the proxy's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file without starting the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(cfgFile); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the proxy's control API and serve fault simulations",
		RunE:  runStart,
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lj := logging.Setup(cfg.Logging)
	if lj != nil {
		defer lj.Close()
	}
	logger := slog.Default()

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
	}

	deps := faults.Dependencies{
		ListenHost:  cfg.Proxy.ListenHost,
		ListenPort:  cfg.Proxy.ListenPort,
		TargetHost:  cfg.Proxy.TargetHost,
		TargetPort:  cfg.Proxy.TargetPort,
		DialTimeout: cfg.Proxy.DialTimeout,
		Logger:      logger,
		Metrics:     m,
	}
	reg := registry.New(faults.ByName(deps))

	limiter := security.NewRateLimiter(rate.Limit(10), 20)
	defer limiter.Stop()

	srv := api.NewServer(reg, logger, m, cfg.Monitoring.MetricsEndpoint, limiter, cfg.Security.TailscaleOnly)
	httpServer := &http.Server{Addr: cfg.Control.ListenAddress, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", "addr", cfg.Control.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	notifySystemdReady(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("control api failed", "error", err)
		return err
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Debug("sd_notify stopping failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	reg.Shutdown()
	logger.Info("clean shutdown complete")
	return nil
}

func notifySystemdReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Debug("sd_notify ready failed", "error", err)
		return
	}
	if sent {
		logger.Debug("sd_notify ready sent")
	}
}
