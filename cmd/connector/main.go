// The connector daemon: a loopback HTTP bridge that performs authenticated
// camera I/O (discovery probes, ACAP and license deployment) on behalf of
// the browser. Runs in the foreground under the platform service manager;
// configuration is environment-driven with an optional YAML file.
//
// Exit codes: 0 clean shutdown, 1 fatal startup error, 2 configuration
// error.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anava-ai/anava-connector/internal/bridge"
	"github.com/anava-ai/anava-connector/internal/certstore"
	"github.com/anava-ai/anava-connector/internal/config"
	"github.com/anava-ai/anava-connector/internal/connector"
	"github.com/anava-ai/anava-connector/internal/license"
	"github.com/anava-ai/anava-connector/internal/logging"
	"github.com/anava-ai/anava-connector/internal/metrics"
	"github.com/anava-ai/anava-connector/internal/platform/paths"
	"github.com/anava-ai/anava-connector/internal/scan"
	"github.com/anava-ai/anava-connector/internal/tokens"
	"github.com/anava-ai/anava-connector/internal/vapix"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("connector: configuration error: %v", err)
		return 2
	}

	if err := paths.EnsureDirs(); err != nil {
		log.Printf("connector: %v", err)
		return 1
	}
	logger, logFile, err := logging.Multi(filepath.Join(cfg.LogDir, paths.LogFileName))
	if err != nil {
		log.Printf("connector: %v", err)
		return 1
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logStartup(logger, cfg)

	store := certstore.New(cfg.CertStore, logger)
	store.StartWatcher(ctx)
	cameras := vapix.NewClient(store, logger)

	tokenMgr, err := tokens.NewManager()
	if err != nil {
		logger.Printf("connector: %v", err)
		return 1
	}

	var signer *license.Signer
	if cfg.LicenseKeyFile != "" {
		signer, err = license.NewSigner(cfg.LicenseKeyFile)
		if err != nil {
			logger.Printf("connector: configuration error: %v", err)
			return 2
		}
	}

	// Scan workers drive the connector's own /proxy over loopback, so the
	// proxy path is identical whether a probe comes from a scan or a page.
	loopback := bridge.NewClient(cfg.Listen)
	prober := bridge.NewProber(loopback, cfg.MinFirmware, logger)
	scans := scan.NewManager(prober, logger)

	collector := metrics.NewCollector(metrics.Config{Pins: store, Sessions: scans})
	scans.SetObserver(collector)
	go collector.Start(ctx)

	monitor := bridge.NewMonitor(loopback, cfg.WebappOrigin, logger)
	go monitor.Run(ctx)

	server := connector.New(cfg, logger, cameras, scans, tokenMgr, signer, collector)
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("connector: listening on %s", cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("connector: fatal: %v", err)
			return 1
		}
	case <-ctx.Done():
		logger.Printf("connector: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("connector: shutdown error: %v", err)
	}
	logger.Printf("connector: stopped")
	return 0
}

// logStartup writes the one-time diagnostic record: effective settings and
// the machine's non-loopback IPv4 addresses, which is usually the first
// thing support asks for when a scan finds nothing.
func logStartup(logger *log.Logger, cfg config.Config) {
	logger.Printf("connector: starting; listen=%s origins=%d min_firmware=%s cert_store=%s",
		cfg.Listen, len(cfg.AllowedOrigins), cfg.MinFirmware, cfg.CertStore)

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.Printf("connector: could not enumerate interfaces: %v", err)
		return
	}
	var local []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		local = append(local, ipNet.IP.String())
	}
	logger.Printf("connector: local IPv4 addresses: %s", strings.Join(local, ", "))
}
