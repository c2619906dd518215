// Package message implements the text-framed application protocol that
// rides on top of the reliable datagram transport: client-to-server
// requests (IDENT, INFORM, QUERY, REMOVE, EXIT) and server-to-client
// responses (IDENTOK, OK, ERROR, QUERYRESPONSE).
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Method names recognized in a client message's first line.
const (
	MethodIdent  = "IDENT"
	MethodInform = "INFORM"
	MethodQuery  = "QUERY"
	MethodRemove = "REMOVE"
	MethodExit   = "EXIT"
)

// Server response status codes and phrases.
const (
	StatusIdentOK       = "202"
	PhraseIdentOK       = "IDENTOK"
	StatusOK            = "200"
	PhraseOK            = "OK"
	StatusError         = "400"
	PhraseError         = "ERROR"
	StatusQueryResponse = "800"
	PhraseQueryResponse = "QUERYRESPONSE"
)

// FileEntry is a single "<filename> <filesize>" line used by INFORM and
// REMOVE. Filename may contain spaces; filesize is the last
// whitespace-separated token.
type FileEntry struct {
	Name string
	Size int64
}

// QueryResult is one match returned in a QUERYRESPONSE body.
type QueryResult struct {
	HostID   string
	HostIP   string
	Filename string
	Filesize int64
}

// ClientMessage is a client-to-server request: "METHOD host_id
// host_ip"CRLF followed by a method-specific body.
type ClientMessage struct {
	Method    string
	HostID    string
	HostIP    string
	Entries   []FileEntry // INFORM, REMOVE
	Query     string      // QUERY
	QueryHost string      // QUERY (optional host restriction)
}

// Ident builds an IDENT message, which carries an empty body.
func Ident(hostID, hostIP string) ClientMessage {
	return ClientMessage{Method: MethodIdent, HostID: hostID, HostIP: hostIP}
}

// Inform builds an INFORM message listing the files being shared.
func Inform(hostID, hostIP string, entries []FileEntry) ClientMessage {
	return ClientMessage{Method: MethodInform, HostID: hostID, HostIP: hostIP, Entries: entries}
}

// Query builds a QUERY message. hostFilter may be empty to search every
// host.
func Query(hostID, hostIP, substring, hostFilter string) ClientMessage {
	return ClientMessage{Method: MethodQuery, HostID: hostID, HostIP: hostIP, Query: substring, QueryHost: hostFilter}
}

// Remove builds a REMOVE message listing the files to drop.
func Remove(hostID, hostIP string, entries []FileEntry) ClientMessage {
	return ClientMessage{Method: MethodRemove, HostID: hostID, HostIP: hostIP, Entries: entries}
}

// Exit builds an EXIT message, which carries an empty body.
func Exit(hostID, hostIP string) ClientMessage {
	return ClientMessage{Method: MethodExit, HostID: hostID, HostIP: hostIP}
}

// Encode renders the message to its CRLF-framed wire form.
func (m ClientMessage) Encode() string {
	var body strings.Builder
	switch m.Method {
	case MethodInform, MethodRemove:
		for _, e := range m.Entries {
			fmt.Fprintf(&body, "%s %d\r\n", e.Name, e.Size)
		}
	case MethodQuery:
		fmt.Fprintf(&body, "%s %s\r\n", m.Query, m.QueryHost)
	}
	return fmt.Sprintf("%s %s %s\r\n%s", m.Method, m.HostID, m.HostIP, body.String())
}

// ServerMessage is a server-to-client response: "status_code
// status_phrase"CRLF followed by a status-specific body.
type ServerMessage struct {
	StatusCode   string
	StatusPhrase string
	Body         string
}

// IdentOK builds the response to a successful IDENT, echoing host_id.
func IdentOK(hostID string) ServerMessage {
	return ServerMessage{
		StatusCode:   StatusIdentOK,
		StatusPhrase: PhraseIdentOK,
		Body:         fmt.Sprintf("%s %s\r\n", MethodIdent, hostID),
	}
}

// OK builds the response to a successful INFORM or REMOVE.
func OK(method string, count int) ServerMessage {
	return ServerMessage{
		StatusCode:   StatusOK,
		StatusPhrase: PhraseOK,
		Body:         fmt.Sprintf("%s %d\r\n", method, count),
	}
}

// Error builds a 400 ERROR response for a malformed or failed request.
func Error(method, reason string) ServerMessage {
	return ServerMessage{
		StatusCode:   StatusError,
		StatusPhrase: PhraseError,
		Body:         fmt.Sprintf("%s %s\r\n", method, reason),
	}
}

// QueryResponse builds the response to QUERY: two lines per match
// ("host_id host_ip"CRLF"filename filesize"CRLF), empty body if none.
func QueryResponse(results []QueryResult) ServerMessage {
	var body strings.Builder
	for _, r := range results {
		fmt.Fprintf(&body, "%s %s\r\n%s %d\r\n", r.HostID, r.HostIP, r.Filename, r.Filesize)
	}
	return ServerMessage{
		StatusCode:   StatusQueryResponse,
		StatusPhrase: PhraseQueryResponse,
		Body:         body.String(),
	}
}

// Encode renders the response to its CRLF-framed wire form.
func (m ServerMessage) Encode() string {
	return fmt.Sprintf("%s %s\r\n%s", m.StatusCode, m.StatusPhrase, m.Body)
}

// splitLines splits a CRLF-framed message body into non-empty lines.
func splitLines(raw string) []string {
	parts := strings.Split(raw, "\r\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

// parseFileEntryLine parses "<filename> <filesize>" where filename may
// contain spaces; filesize is the last whitespace-separated token.
func parseFileEntryLine(line string) (FileEntry, error) {
	idx := strings.LastIndex(line, " ")
	if idx < 0 {
		return FileEntry{}, fmt.Errorf("message: malformed file entry %q", line)
	}
	name := line[:idx]
	size, err := strconv.ParseInt(line[idx+1:], 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("message: malformed filesize in %q: %w", line, err)
	}
	return FileEntry{Name: name, Size: size}, nil
}
