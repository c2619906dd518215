// Package dirserver implements the directory server: it dispatches
// incoming IDENT/INFORM/QUERY/REMOVE/EXIT requests against the shared
// file index and evicts hosts that go quiet for too long.
package dirserver

import (
	"net"
	"sync"
	"time"

	"p2p-filedir/internal/directory"
	"p2p-filedir/internal/events"
	"p2p-filedir/internal/message"
	"p2p-filedir/internal/metrics"
	"p2p-filedir/internal/rdt"
	"p2p-filedir/pkg/logger"
)

// ackPort is the fixed port directory clients listen on for server
// replies.
const ackPort = 60001

// activityEntry tracks when a (host_id, host_ip) pair was last heard
// from, for the idle-eviction sweep.
type activityEntry struct {
	hostID   string
	hostIP   string
	lastSeen time.Time
}

// Server is a directory server: a request dispatch loop over the
// reliable datagram transport, an in-memory file index, and a periodic
// idle-client sweep.
type Server struct {
	transport *rdt.Transport
	index     *directory.Index
	events    *events.Bus
	metrics   metrics.Recorder

	idleTimeout time.Duration

	mu       sync.Mutex
	activity map[string]*activityEntry // keyed by host_id

	running bool
	stop    chan struct{}
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

// WithIdleTimeout overrides the default one-hour eviction window.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// New builds a Server bound to an already-constructed Transport. The
// caller owns starting and stopping the transport's listener.
func New(transport *rdt.Transport, opts ...Option) *Server {
	s := &Server{
		transport:   transport,
		index:       directory.New(),
		metrics:     metrics.Noop{},
		idleTimeout: time.Hour,
		activity:    make(map[string]*activityEntry),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the dispatch loop and the idle-eviction sweep until Stop
// is called. It blocks the calling goroutine.
func (s *Server) Run() {
	s.running = true
	go s.evictionLoop()

	logger.Info("dirserver: accepting requests")
	for s.running {
		raw, err := s.transport.Receive()
		if err != nil {
			if err == rdt.ErrQueueEmpty {
				continue
			}
			logger.Debug("dirserver: receive error: %v", err)
			continue
		}
		go s.dispatch(string(raw))
	}
}

// Stop halts the dispatch and eviction loops.
func (s *Server) Stop() {
	s.running = false
	close(s.stop)
}

// dispatch parses one reassembled request and routes it to the matching
// handler, replying over the transport when the method expects a reply.
func (s *Server) dispatch(raw string) {
	req, err := message.DecodeClientMessage(raw)
	if err != nil {
		logger.Debug("dirserver: dropping malformed request: %v", err)
		return
	}
	s.touch(req.HostID, req.HostIP)

	addr := &net.UDPAddr{IP: net.ParseIP(req.HostIP), Port: ackPort}

	switch req.Method {
	case message.MethodIdent:
		s.handleIdent(req, addr)
	case message.MethodInform:
		s.handleInform(req, addr)
	case message.MethodQuery:
		s.handleQuery(req, addr)
	case message.MethodRemove:
		s.handleRemove(req, addr)
	case message.MethodExit:
		s.handleExit(req)
	default:
		logger.Debug("dirserver: unknown method %q from %s", req.Method, req.HostID)
	}
}

func (s *Server) handleIdent(req message.ClientMessage, addr *net.UDPAddr) {
	logger.Info("dirserver: IDENT from %s @ %s", req.HostID, req.HostIP)
	s.publish(events.ClientRegistered, req.HostID, req.HostIP, 0)
	s.reply(req.HostID, addr, message.IdentOK(req.HostID))
}

func (s *Server) handleInform(req message.ClientMessage, addr *net.UDPAddr) {
	n := s.index.Add(req.HostID, req.HostIP, toDirectoryEntries(req.Entries))
	s.metrics.SetDirectoryEntries(len(s.index.Query("", "", "")))
	logger.Info("dirserver: INFORM from %s added %d entries", req.HostID, n)
	s.publish(events.ClientInformed, req.HostID, req.HostIP, n)
	s.reply(req.HostID, addr, message.OK(message.MethodInform, n))
}

func (s *Server) handleQuery(req message.ClientMessage, addr *net.UDPAddr) {
	start := time.Now()
	matches := s.index.Query(req.HostID, req.Query, req.QueryHost)
	s.metrics.ObserveQueryLatency(time.Since(start))

	logger.Info("dirserver: QUERY from %s matched %d files", req.HostID, len(matches))
	s.publish(events.ClientQueried, req.HostID, req.HostIP, len(matches))
	s.reply(req.HostID, addr, message.QueryResponse(toQueryResults(matches)))
}

func (s *Server) handleRemove(req message.ClientMessage, addr *net.UDPAddr) {
	names := make([]string, len(req.Entries))
	for i, e := range req.Entries {
		names[i] = e.Name
	}
	n := s.index.RemoveFiles(req.HostID, names)
	s.metrics.SetDirectoryEntries(len(s.index.Query("", "", "")))
	logger.Info("dirserver: REMOVE from %s dropped %d entries", req.HostID, n)
	s.publish(events.ClientRemovedFiles, req.HostID, req.HostIP, n)
	s.reply(req.HostID, addr, message.OK(message.MethodRemove, n))
}

func (s *Server) handleExit(req message.ClientMessage) {
	n := s.index.RemoveHost(req.HostID)
	s.metrics.SetDirectoryEntries(len(s.index.Query("", "", "")))
	s.mu.Lock()
	delete(s.activity, req.HostID)
	s.mu.Unlock()
	logger.Info("dirserver: EXIT from %s removed %d entries", req.HostID, n)
	s.publish(events.ClientExited, req.HostID, req.HostIP, n)
}

// reply sends a ServerMessage back to the requesting host under a fresh
// comm_id, so the client's closed set never discards a later reply as a
// replay of an earlier one.
func (s *Server) reply(hostID string, addr *net.UDPAddr, resp message.ServerMessage) {
	commID := commIDFromHostID(hostID)
	if ok := s.transport.Send(commID, []byte(resp.Encode()), addr); !ok {
		logger.Debug("dirserver: failed to deliver reply to %s at %s", hostID, addr)
	}
}

func (s *Server) publish(t events.Type, hostID, hostIP string, count int) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{Type: t, HostID: hostID, HostIP: hostIP, Count: count})
}

func (s *Server) touch(hostID, hostIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[hostID] = &activityEntry{hostID: hostID, hostIP: hostIP, lastSeen: time.Now()}
}

// evictionLoop periodically removes hosts that have been idle longer
// than idleTimeout.
func (s *Server) evictionLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Server) evictIdle() {
	now := time.Now()
	var stale []string

	s.mu.Lock()
	for hostID, entry := range s.activity {
		if now.Sub(entry.lastSeen) > s.idleTimeout {
			stale = append(stale, hostID)
			delete(s.activity, hostID)
		}
	}
	s.mu.Unlock()

	for _, hostID := range stale {
		n := s.index.RemoveHost(hostID)
		s.metrics.SetDirectoryEntries(len(s.index.Query("", "", "")))
		logger.Info("dirserver: evicted idle host %s (%d entries)", hostID, n)
		s.publish(events.ClientEvicted, hostID, "", n)
	}
}

// Index exposes the underlying directory index for diagnostics (e.g. a
// "status" console command reporting distinct client count).
func (s *Server) Index() *directory.Index { return s.index }

func toDirectoryEntries(entries []message.FileEntry) []directory.Entry {
	out := make([]directory.Entry, len(entries))
	for i, e := range entries {
		out[i] = directory.Entry{Filename: e.Name, Filesize: e.Size}
	}
	return out
}

func toQueryResults(entries []directory.Entry) []message.QueryResult {
	out := make([]message.QueryResult, len(entries))
	for i, e := range entries {
		out[i] = message.QueryResult{HostID: e.HostID, HostIP: e.HostIP, Filename: e.Filename, Filesize: e.Filesize}
	}
	return out
}

// commIDFromHostID derives a comm_id for one reply from the current clock
// and the host_id, so successive replies to the same host get distinct
// comm_ids within the int32 comm_id space without a shared counter
// guarded across goroutines.
func commIDFromHostID(hostID string) int64 {
	h := time.Now().UnixNano() % rdt.MaxSeqNum
	for _, c := range hostID {
		h = (h*31 + int64(c)) % rdt.MaxSeqNum
	}
	if h == 0 {
		h = 1
	}
	return h
}
