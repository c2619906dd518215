package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"p2p-filedir/internal/config"
	"p2p-filedir/internal/dirclient"
	"p2p-filedir/internal/events"
	"p2p-filedir/internal/metrics"
	"p2p-filedir/internal/peerfile"
	"p2p-filedir/internal/rdt"
	"p2p-filedir/pkg/logger"
)

const version = "1.0.0"

func main() {
	logger.Banner("Directory Client", version)

	configPath := flag.String("config", "", "path to a client config YAML file")
	serverHost := flag.String("server", "localhost", "directory server host")
	get := flag.String("get", "", "query for this filename, download the first match, then exit")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		logger.Fatal("loading config: %v", err)
	}
	if cfg.Verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	rec := metrics.NewPrometheus("dirclient")
	go serveMetrics(cfg.MetricsAddr, rec)

	bus := events.NewBus(func(t events.Type, r any) {
		logger.Warn("dirclient: event handler panicked for type %d: %v", t, r)
	})
	bus.Subscribe(events.FileTransferCompleted, func(e events.Event) {
		if e.Err != nil {
			logger.Warn("dirclient: transfer %s of %q failed after %d bytes: %v", e.ID, e.Detail, e.Count, e.Err)
			return
		}
		logger.Success("dirclient: transfer %s of %q complete (%d bytes)", e.ID, e.Detail, e.Count)
	})

	hostID := fmt.Sprintf("%s%04x", hostname(), uuid.New().ID()&0xffff)
	transport, err := rdt.New(hostID, rdt.WithMetrics(rec))
	if err != nil {
		logger.Fatal("creating transport: %v", err)
	}
	if err := transport.StartListener(cfg.ListenPort); err != nil {
		logger.Fatal("binding UDP listen port %d: %v", cfg.ListenPort, err)
	}
	defer transport.Close()

	localIP := localAddr()
	session := dirclient.NewSession(transport, hostID, localIP)

	fileServer := peerfile.NewServer(cfg.ShareDir, peerfile.WithEventBus(bus), peerfile.WithMetrics(rec))
	go func() {
		if err := fileServer.ListenAndServe(cfg.PeerFilePort); err != nil {
			logger.Warn("dirclient: peer file server stopped: %v", err)
		}
	}()
	defer fileServer.Close()

	logger.Info("Client Version: %s", version)
	logger.Info("Host ID: %s", hostID)
	logger.Info("Sharing directory: %s", cfg.ShareDir)
	logger.Info("Peer file port: %d", cfg.PeerFilePort)

	if err := session.Ident(*serverHost, cfg.ServerPort); err != nil {
		logger.Error("%v", err)
	} else {
		logger.Success("connected to directory server at %s:%d", *serverHost, cfg.ServerPort)
	}

	if *get != "" {
		if err := fetchOne(session, cfg, bus, *get); err != nil {
			logger.Error("get %q: %v", *get, err)
		}
		if session.Connected() {
			_ = session.Exit()
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Warn("received signal: %v", sig)
	logger.Info("shutting down gracefully...")
	if session.Connected() {
		if err := session.Exit(); err != nil {
			logger.Warn("sending EXIT: %v", err)
		}
	}
	logger.Success("directory client stopped")
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
		return "client"
	}
	return filepath.Base(h)
}

// fetchOne queries the directory for name, downloads the first match from
// its owning peer into cfg.DownloadDir, and renders progress on a CLI bar.
func fetchOne(session *dirclient.Session, cfg config.ClientConfig, bus *events.Bus, name string) error {
	results, err := session.Query(name, "")
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("no peer shares a file matching %q", name)
	}
	match := results[0]
	logger.Info("downloading %q (%d bytes) from %s", match.Filename, match.Filesize, match.HostIP)

	dst, err := os.Create(filepath.Join(cfg.DownloadDir, filepath.Base(match.Filename)))
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer dst.Close()

	peerAddr := fmt.Sprintf("%s:%d", match.HostIP, cfg.PeerFilePort)
	bar := peerfile.NewCLIProgress(match.Filename, match.Filesize)
	defer bar.Close()

	err = peerfile.Download(peerAddr, match.Filename, match.Filesize, dst, bar)
	bus.Publish(events.Event{
		Type:   events.FileTransferCompleted,
		HostID: match.HostID,
		HostIP: match.HostIP,
		Detail: match.Filename,
		Count:  int(match.Filesize),
		Err:    err,
	})
	return err
}

// localAddr best-efforts this host's outbound IPv4 address by dialing a
// UDP "connection" (no packets are actually sent) and reading the local
// endpoint it would use.
func localAddr() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
