package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2p-filedir/internal/config"
	"p2p-filedir/internal/dirserver"
	"p2p-filedir/internal/events"
	"p2p-filedir/internal/metrics"
	"p2p-filedir/internal/rdt"
	"p2p-filedir/pkg/logger"
)

const version = "1.0.0"

func main() {
	logger.Banner("Directory Server", version)

	configPath := flag.String("config", "", "path to a server config YAML file")
	listenPort := flag.Int("port", 0, "override the configured UDP listen port")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		logger.Fatal("loading config: %v", err)
	}
	if *listenPort != 0 {
		cfg.ListenPort = *listenPort
	}
	if cfg.Verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	rec := metrics.NewPrometheus("dirserver")
	go serveMetrics(cfg.MetricsAddr, rec)

	bus := events.NewBus(func(t events.Type, r any) {
		logger.Warn("dirserver: event handler panicked for type %d: %v", t, r)
	})
	bus.Subscribe(events.ClientEvicted, func(e events.Event) {
		logger.Info("dirserver: evicted %s (%d stale entries)", e.HostID, e.Count)
	})

	transport, err := rdt.New(hostname(), rdt.WithMTU(cfg.MTU), rdt.WithMetrics(rec))
	if err != nil {
		logger.Fatal("creating transport: %v", err)
	}
	if err := transport.StartListener(cfg.ListenPort); err != nil {
		logger.Fatal("binding UDP listen port %d: %v", cfg.ListenPort, err)
	}
	defer transport.Close()

	srv := dirserver.New(transport, dirserver.WithEventBus(bus), dirserver.WithMetrics(rec),
		dirserver.WithIdleTimeout(time.Duration(cfg.ActivityTimeout)*time.Second))

	logger.Info("Server Version: %s", version)
	logger.Info("Listening on UDP port %d", cfg.ListenPort)
	logger.Info("Metrics on %s", cfg.MetricsAddr)
	logger.Success("Directory server ready")

	go srv.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Warn("received signal: %v", sig)
	logger.Info("shutting down gracefully...")
	srv.Stop()
	logger.Success("directory server stopped")
}

func serveMetrics(addr string, rec *metrics.Prometheus) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped: %v", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "server0001"
	}
	return h
}
