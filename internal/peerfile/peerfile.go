// Package peerfile implements the peer-to-peer file exchange: each
// client accepts inbound TCP connections carrying a small HTTP-like
// GET request and streams the requested file back as raw bytes, and
// can itself dial another peer to download one.
package peerfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"p2p-filedir/internal/events"
	"p2p-filedir/internal/metrics"
	"p2p-filedir/pkg/logger"
)

// readChunkSize bounds a single downloader read to 1024 bytes at a time.
const readChunkSize = 1024

// ErrShortTransfer indicates the connection closed before filesize
// bytes were received.
var ErrShortTransfer = errors.New("peerfile: connection closed before the expected byte count was received")

// Server accepts inbound GET requests and streams files out of a
// single shared root directory. One file-sender goroutine is spawned
// per accepted connection.
type Server struct {
	root     string
	listener net.Listener
	events   *events.Bus
	metrics  metrics.Recorder
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithEventBus attaches an event bus; without it, Server runs with no
// event publication.
func WithEventBus(b *events.Bus) Option {
	return func(s *Server) { s.events = b }
}

// WithMetrics attaches a Recorder; without it, Server uses metrics.Noop.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds a Server that serves files out of root.
func NewServer(root string, opts ...Option) *Server {
	s := &Server{root: root, metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds port and accepts connections until the listener
// is closed.
func (s *Server) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("peerfile: listen: %w", err)
	}
	s.listener = ln
	logger.Info("peerfile: serving %s on TCP port %d", s.root, port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed: graceful shutdown
		}
		go s.handleConnection(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConnection is the file-sender goroutine for one accepted
// connection: parse the GET line, stream the file, close.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	transferID := xid.New().String()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		logger.Debug("peerfile[%s]: failed to read request line: %v", transferID, err)
		return
	}

	filename, err := parseGetLine(line)
	if err != nil {
		logger.Debug("peerfile[%s]: malformed request: %v", transferID, err)
		return
	}

	path := filepath.Join(s.root, filename)
	f, err := os.Open(path)
	if err != nil {
		logger.Debug("peerfile[%s]: cannot open %q: %v", transferID, filename, err)
		s.publish(transferID, filename, 0, err)
		return
	}
	defer f.Close()

	n, err := io.Copy(conn, f)
	if err != nil {
		logger.Debug("peerfile[%s]: transfer of %q aborted after %d bytes: %v", transferID, filename, n, err)
		s.publish(transferID, filename, n, err)
		return
	}

	s.metrics.IncBytesTransferred(n)
	logger.Info("peerfile[%s]: sent %q (%d bytes)", transferID, filename, n)
	s.publish(transferID, filename, n, nil)
}

func (s *Server) publish(transferID, filename string, bytes int64, err error) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Type:   events.FileTransferCompleted,
		ID:     transferID,
		Detail: filename,
		Count:  int(bytes),
		Err:    err,
	})
}

// parseGetLine extracts the filename from a "GET <filename>
// HTTP/1.1\r\n" request line. Filenames may contain spaces; the
// filename is everything between the first and last space on the line.
func parseGetLine(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	first := strings.Index(line, " ")
	last := strings.LastIndex(line, " ")
	if first < 0 || last <= first {
		return "", fmt.Errorf("malformed GET line %q", line)
	}
	if !strings.HasPrefix(line, "GET ") {
		return "", fmt.Errorf("unsupported method in line %q", line)
	}
	return line[first+1 : last], nil
}

// ProgressReporter receives byte-count updates as a download proceeds.
// Implementations must return quickly; Download calls it synchronously
// on the downloading goroutine.
type ProgressReporter interface {
	Add(n int64)
	Close()
}

// noopReporter discards progress updates.
type noopReporter struct{}

func (noopReporter) Add(int64) {}
func (noopReporter) Close()    {}

// NoopProgress is a ProgressReporter that does nothing, for callers
// that don't need progress feedback.
var NoopProgress ProgressReporter = noopReporter{}

// Download dials hostAddr, issues a GET for filename, and writes
// exactly filesize bytes to dst, reporting progress through reporter.
// It returns ErrShortTransfer if the connection closes early.
func Download(hostAddr string, filename string, filesize int64, dst io.Writer, reporter ProgressReporter) error {
	if reporter == nil {
		reporter = NoopProgress
	}
	conn, err := net.Dial("tcp", hostAddr)
	if err != nil {
		return fmt.Errorf("peerfile: dial %s: %w", hostAddr, err)
	}
	defer conn.Close()

	request := fmt.Sprintf("GET %s HTTP/1.1\r\n\r\n", filename)
	if _, err := conn.Write([]byte(request)); err != nil {
		return fmt.Errorf("peerfile: sending GET: %w", err)
	}

	buf := make([]byte, readChunkSize)
	var received int64
	for received < filesize {
		toRead := int64(readChunkSize)
		if remaining := filesize - received; remaining < toRead {
			toRead = remaining
		}
		n, err := conn.Read(buf[:toRead])
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("peerfile: writing downloaded bytes: %w", werr)
			}
			received += int64(n)
			reporter.Add(int64(n))
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("peerfile: reading from peer: %w", err)
		}
	}
	reporter.Close()

	if received != filesize {
		return ErrShortTransfer
	}
	return nil
}
