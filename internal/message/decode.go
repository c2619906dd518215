package message

import (
	"fmt"
	"strings"
)

// DecodeClientMessage parses a raw CRLF-framed request produced by Encode.
func DecodeClientMessage(raw string) (ClientMessage, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return ClientMessage{}, fmt.Errorf("message: empty client message")
	}
	header := strings.SplitN(lines[0], " ", 3)
	if len(header) != 3 {
		return ClientMessage{}, fmt.Errorf("message: malformed request line %q", lines[0])
	}
	m := ClientMessage{Method: header[0], HostID: header[1], HostIP: header[2]}

	switch m.Method {
	case MethodInform, MethodRemove:
		for _, line := range lines[1:] {
			entry, err := parseFileEntryLine(line)
			if err != nil {
				return ClientMessage{}, err
			}
			m.Entries = append(m.Entries, entry)
		}
	case MethodQuery:
		if len(lines) < 2 {
			return ClientMessage{}, fmt.Errorf("message: QUERY missing body")
		}
		parts := strings.SplitN(lines[1], " ", 2)
		m.Query = parts[0]
		if len(parts) == 2 {
			m.QueryHost = parts[1]
		}
	case MethodIdent, MethodExit:
		// no body
	default:
		return ClientMessage{}, fmt.Errorf("message: unknown method %q", m.Method)
	}
	return m, nil
}

// DecodeServerMessage parses a raw CRLF-framed response produced by Encode.
func DecodeServerMessage(raw string) (ServerMessage, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return ServerMessage{}, fmt.Errorf("message: empty server message")
	}
	status := strings.SplitN(lines[0], " ", 2)
	if len(status) != 2 {
		return ServerMessage{}, fmt.Errorf("message: malformed status line %q", lines[0])
	}
	m := ServerMessage{StatusCode: status[0], StatusPhrase: status[1]}
	if len(lines) > 1 {
		var body strings.Builder
		for _, l := range lines[1:] {
			body.WriteString(l)
			body.WriteString("\r\n")
		}
		m.Body = body.String()
	}
	return m, nil
}

// DecodeQueryResults parses the body of a QUERYRESPONSE message into its
// constituent matches: "host_id host_ip"CRLF"filename filesize"CRLF pairs.
func DecodeQueryResults(body string) ([]QueryResult, error) {
	lines := splitLines(body)
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("message: odd number of lines in query response body")
	}
	results := make([]QueryResult, 0, len(lines)/2)
	for i := 0; i < len(lines); i += 2 {
		host := strings.SplitN(lines[i], " ", 2)
		if len(host) != 2 {
			return nil, fmt.Errorf("message: malformed host line %q", lines[i])
		}
		entry, err := parseFileEntryLine(lines[i+1])
		if err != nil {
			return nil, err
		}
		results = append(results, QueryResult{
			HostID:   host[0],
			HostIP:   host[1],
			Filename: entry.Name,
			Filesize: entry.Size,
		})
	}
	return results, nil
}
