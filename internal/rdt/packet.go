// Package rdt implements the reliable datagram transport: fragmentation,
// per-packet acknowledgement, timeout-driven retransmission, adaptive RTT
// estimation, and reassembly of UDP datagrams into ordered application
// messages keyed by sender identity.
package rdt

import (
	"fmt"
	"strings"
)

// DefaultMTU is the maximum payload size of a single fragment, in bytes.
// Chosen for demonstration, not performance; callers may override it via
// WithMTU.
const DefaultMTU = 128

// MaxSeqNum is the largest value seq and comm_id may hold before wrapping
// back to 1.
const MaxSeqNum = 2147483647

// Flag strings recognized in the flags field. They are concatenated with
// no delimiter, e.g. "SYNFIN" or "ACK" or "SYNFINACK".
const (
	FlagSYN = "SYN"
	FlagFIN = "FIN"
	FlagACK = "ACK"
)

// header is the parsed form of "<host_id> <comm_id> <seq> <flags>".
type header struct {
	hostID string
	commID string
	seq    string
	flags  string
}

// packet is a single on-wire RDT datagram: a header plus an opaque payload.
type packet struct {
	header
	payload string
}

// hasFlag reports whether the flags field contains the given flag token.
func hasFlag(flags, flag string) bool {
	return strings.Contains(flags, flag)
}

// encode renders a packet to its wire form:
// "<host_id> <comm_id> <seq> <flags> <payload>".
func (p packet) encode() string {
	return fmt.Sprintf("%s %s %s %s %s", p.hostID, p.commID, p.seq, p.flags, p.payload)
}

// decode parses a raw datagram into a packet. The first four
// whitespace-separated tokens are the header; everything after the fourth
// single space is the payload, spaces and all. A datagram with fewer than
// four header tokens is malformed and returns an error.
func decode(data string) (packet, error) {
	parts := strings.SplitN(data, " ", 5)
	if len(parts) < 4 {
		return packet{}, fmt.Errorf("rdt: malformed packet: %d header tokens, want 4", len(parts))
	}
	p := packet{header: header{
		hostID: parts[0],
		commID: parts[1],
		seq:    parts[2],
		flags:  parts[3],
	}}
	if len(parts) == 5 {
		p.payload = parts[4]
	}
	return p, nil
}

// ackHeader builds the wire form of an ACK reply for an inbound packet: the
// header carries localHostID (not the inbound packet's host_id), echoes
// comm_id/seq, and flags is the original flags with ACK appended.
func ackHeader(localHostID string, in header) string {
	return fmt.Sprintf("%s %s %s %sACK", localHostID, in.commID, in.seq, in.flags)
}

// fragmentBounds splits a payload of dataLen bytes into mtu-sized chunks
// (DefaultMTU when mtu <= 0) and returns each chunk's [start, end) range;
// an empty payload yields one empty chunk.
func fragmentBounds(dataLen, mtu int) []struct{ start, end int } {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if dataLen == 0 {
		return []struct{ start, end int }{{0, 0}}
	}
	var bounds []struct{ start, end int }
	for i := 0; i < dataLen; i += mtu {
		end := i + mtu
		if end > dataLen {
			end = dataLen
		}
		bounds = append(bounds, struct{ start, end int }{i, end})
	}
	return bounds
}
