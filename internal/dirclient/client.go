// Package dirclient implements a directory client session: IDENT,
// INFORM, QUERY, REMOVE, and EXIT against a directory server, tracking
// connection state and the most recent query result set.
package dirclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"p2p-filedir/internal/message"
	"p2p-filedir/internal/rdt"
	"p2p-filedir/pkg/logger"
)

// ErrNotConnected is returned by operations that require a prior
// successful Ident call.
var ErrNotConnected = errors.New("dirclient: not connected to a directory server")

// SharedFile describes one file this client has told the server it is
// sharing.
type SharedFile struct {
	Name string
	Size int64
}

// Session is a single client's connection to one directory server at a
// time. Connected state and last-activity bookkeeping live on the
// session itself rather than in a package global, so one process can
// run more than one.
type Session struct {
	hostID string
	hostIP string

	transport *rdt.Transport

	mu           sync.RWMutex
	connected    bool
	connAddr     *net.UDPAddr
	sharedFiles  []SharedFile
	lastQuery    []message.QueryResult
	lastActivity time.Time
}

// NewSession builds a Session that sends and receives over transport,
// identifying itself as hostID/hostIP on the wire.
func NewSession(transport *rdt.Transport, hostID, hostIP string) *Session {
	return &Session{
		hostID:    hostID,
		hostIP:    hostIP,
		transport: transport,
	}
}

// Connected reports whether the last Ident succeeded.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SharedFiles returns a copy of the files this session believes it has
// shared with the server.
func (s *Session) SharedFiles() []SharedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SharedFile, len(s.sharedFiles))
	copy(out, s.sharedFiles)
	return out
}

// LastQuery returns the result set from the most recent successful
// Query call.
func (s *Session) LastQuery() []message.QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.QueryResult, len(s.lastQuery))
	copy(out, s.lastQuery)
	return out
}

// Ident connects to the directory server at serverHost:serverPort,
// setting Connected true only on a matching IDENTOK reply.
func (s *Session) Ident(serverHost string, serverPort int) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	addr := &net.UDPAddr{IP: net.ParseIP(serverHost), Port: serverPort}
	req := message.Ident(s.hostID, s.hostIP)
	logger.Info("dirclient: sending IDENT to %s", addr)

	resp, err := s.roundTrip(req, addr)
	if err != nil {
		return fmt.Errorf("dirclient: IDENT failed: %w", err)
	}
	if resp.StatusCode != message.StatusIdentOK {
		return fmt.Errorf("dirclient: server rejected IDENT: %s %s", resp.StatusCode, resp.StatusPhrase)
	}
	if resp.Body != message.IdentOK(s.hostID).Body {
		return fmt.Errorf("dirclient: IDENTOK reply does not echo host_id %s: %q", s.hostID, resp.Body)
	}

	s.mu.Lock()
	s.connected = true
	s.connAddr = addr
	s.lastActivity = time.Now()
	s.mu.Unlock()
	logger.Success("dirclient: connected to directory server at %s", addr)
	return nil
}

// Share sends an INFORM listing files, recording them as shared on
// success.
func (s *Session) Share(files []SharedFile) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	entries := make([]message.FileEntry, len(files))
	for i, f := range files {
		entries[i] = message.FileEntry{Name: f.Name, Size: f.Size}
	}
	req := message.Inform(s.hostID, s.hostIP, entries)

	resp, err := s.roundTrip(req, s.addr())
	if err != nil {
		return fmt.Errorf("dirclient: INFORM failed: %w", err)
	}
	if resp.StatusCode != message.StatusOK {
		return fmt.Errorf("dirclient: server rejected INFORM: %s %s", resp.StatusCode, resp.StatusPhrase)
	}

	s.mu.Lock()
	s.sharedFiles = append(s.sharedFiles, files...)
	s.lastActivity = time.Now()
	s.mu.Unlock()
	logger.Info("dirclient: shared %d files", len(files))
	return nil
}

// Query asks the server for files whose name contains substring,
// optionally restricted to hostFilter, storing the result set.
func (s *Session) Query(substring, hostFilter string) ([]message.QueryResult, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}
	req := message.Query(s.hostID, s.hostIP, substring, hostFilter)

	resp, err := s.roundTrip(req, s.addr())
	if err != nil {
		return nil, fmt.Errorf("dirclient: QUERY failed: %w", err)
	}
	if resp.StatusCode != message.StatusQueryResponse {
		return nil, fmt.Errorf("dirclient: server rejected QUERY: %s %s", resp.StatusCode, resp.StatusPhrase)
	}
	results, err := message.DecodeQueryResults(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dirclient: malformed QUERY response: %w", err)
	}

	s.mu.Lock()
	s.lastQuery = results
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return results, nil
}

// Remove sends a REMOVE for the named files, dropping them from the
// local shared-files record on success.
func (s *Session) Remove(names []string) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	s.mu.RLock()
	entries := make([]message.FileEntry, 0, len(names))
	for _, name := range names {
		for _, f := range s.sharedFiles {
			if f.Name == name {
				entries = append(entries, message.FileEntry{Name: f.Name, Size: f.Size})
				break
			}
		}
	}
	s.mu.RUnlock()

	req := message.Remove(s.hostID, s.hostIP, entries)
	resp, err := s.roundTrip(req, s.addr())
	if err != nil {
		return fmt.Errorf("dirclient: REMOVE failed: %w", err)
	}
	if resp.StatusCode != message.StatusOK {
		return fmt.Errorf("dirclient: server rejected REMOVE: %s %s", resp.StatusCode, resp.StatusPhrase)
	}

	s.mu.Lock()
	s.sharedFiles = removeByName(s.sharedFiles, names)
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

// Exit sends an EXIT notification and marks the session disconnected.
// EXIT carries no reply, so Exit does not wait for one; it returns as
// soon as the transport reports every fragment acknowledged.
func (s *Session) Exit() error {
	if !s.Connected() {
		return ErrNotConnected
	}
	req := message.Exit(s.hostID, s.hostIP)
	commID := time.Now().UnixNano() % rdt.MaxSeqNum
	if ok := s.transport.Send(commID, []byte(req.Encode()), s.addr()); !ok {
		return fmt.Errorf("dirclient: EXIT failed to deliver")
	}
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	logger.Info("dirclient: sent EXIT, disconnected")
	return nil
}

// roundTrip sends req and waits for the next reassembled reply on the
// transport. The protocol is strictly half-duplex per session (one
// outstanding request at a time), so the next message the transport
// reassembles is always this request's reply.
func (s *Session) roundTrip(req message.ClientMessage, addr *net.UDPAddr) (message.ServerMessage, error) {
	commID := time.Now().UnixNano() % rdt.MaxSeqNum
	if commID == 0 {
		commID = 1
	}
	if ok := s.transport.Send(commID, []byte(req.Encode()), addr); !ok {
		return message.ServerMessage{}, errors.New("failed to deliver request")
	}
	raw, err := s.transport.Receive()
	if err != nil {
		return message.ServerMessage{}, err
	}
	return message.DecodeServerMessage(string(raw))
}

func (s *Session) addr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connAddr
}

func removeByName(files []SharedFile, names []string) []SharedFile {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := files[:0]
	for _, f := range files {
		if _, gone := drop[f.Name]; !gone {
			out = append(out, f)
		}
	}
	return out
}
