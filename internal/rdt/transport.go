package rdt

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"p2p-filedir/internal/metrics"
	"p2p-filedir/pkg/logger"
)

// ErrQueueEmpty is returned by Receive when no reassembled message arrives
// within the receive timeout.
var ErrQueueEmpty = errors.New("rdt: receive queue empty")

// maxRetries is the number of transmission attempts (the first send
// included) for a single fragment before Send gives up and reports
// failure.
const maxRetries = 3

// messageQueueCapacity bounds the internal queue of reassembled messages
// awaiting Receive. The queue is a finite resource, not an unbounded one,
// but enqueueing onto a full queue blocks rather than silently dropping a
// reassembled message (dropping would violate the delivery invariant).
const messageQueueCapacity = 256

// msgKey identifies one message's fragment bucket: the sender's host
// identity plus its comm_id.
type msgKey struct {
	hostID string
	commID string
}

// Transport implements reliable messaging over UDP: a send socket used
// for outbound data and ACKs, a listen socket bound to the well-known
// port, and the bookkeeping needed to turn lossy UDP into ordered,
// reliable, multi-fragment message delivery.
type Transport struct {
	hostID string
	mtu    int

	sendConn   *net.UDPConn
	listenConn *net.UDPConn
	sendMu     sync.Mutex // covers "set deadline -> send -> recv -> clear deadline"

	seq *wrappingCounter

	rttMu           sync.Mutex
	estimatedRTT    float64 // seconds
	devRTT          float64
	timeoutInterval float64

	fragMu    sync.Mutex
	fragments map[msgKey]map[int64]string
	closedSet map[msgKey]struct{}

	messages chan []byte

	metrics   metrics.Recorder
	closeOnce sync.Once
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithMTU overrides the default fragment payload size.
func WithMTU(mtu int) Option {
	return func(t *Transport) { t.mtu = mtu }
}

// WithMetrics attaches a Recorder. Without this option, Transport uses
// metrics.Noop and runs with no instrumentation overhead.
func WithMetrics(m metrics.Recorder) Option {
	return func(t *Transport) { t.metrics = m }
}

// New creates a Transport for the given host identity. It binds an
// ephemeral outbound/ACK socket immediately; StartListener binds the
// well-known listen port separately.
func New(hostID string, opts ...Option) (*Transport, error) {
	sendConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	t := &Transport{
		hostID:          hostID,
		mtu:             DefaultMTU,
		sendConn:        sendConn,
		seq:             newWrappingCounter(),
		estimatedRTT:    0.1,
		devRTT:          0.0,
		timeoutInterval: 1.0,
		fragments:       make(map[msgKey]map[int64]string),
		closedSet:       make(map[msgKey]struct{}),
		messages:        make(chan []byte, messageQueueCapacity),
		metrics:         metrics.Noop{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// StartListener binds the well-known port and begins delivering fully
// reassembled messages into the internal queue. It is distinct from the
// send socket: ACKs for inbound packets are emitted from the send socket,
// so their source port differs from the listen port.
func (t *Transport) StartListener(port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return err
	}
	t.listenConn = conn
	go t.listenLoop()
	logger.Info("rdt: listening on port %d for %s", port, t.hostID)
	return nil
}

func (t *Transport) listenLoop() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := t.listenConn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed: listener shuts down
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go t.handleInbound(string(data), addr)
	}
}

// handleInbound is the packet worker spawned per inbound datagram: parse,
// ACK, bucket, and (on FIN) reassemble.
func (t *Transport) handleInbound(data string, addr *net.UDPAddr) {
	pkt, err := decode(data)
	if err != nil {
		logger.Debug("rdt: dropping malformed datagram from %s: %v", addr, err)
		return
	}

	t.sendAck(pkt.header, addr)

	key := msgKey{hostID: pkt.hostID, commID: pkt.commID}
	seqNum, err := strconv.ParseInt(pkt.seq, 10, 64)
	if err != nil {
		logger.Debug("rdt: dropping datagram with non-numeric seq from %s", addr)
		return
	}

	t.fragMu.Lock()
	if hasFlag(pkt.flags, FlagSYN) {
		t.fragments[key] = make(map[int64]string)
	}
	bucket, haveBucket := t.fragments[key]
	if haveBucket {
		bucket[seqNum] = pkt.payload
	}
	fin := hasFlag(pkt.flags, FlagFIN)
	t.fragMu.Unlock()

	if !haveBucket {
		// FIN before SYN, or after close: silently dropped.
		t.metrics.IncFragmentsDropped()
		return
	}
	if fin {
		t.reassemble(key)
	}
}

// sendAck emits an ACK for an inbound packet from the send socket. This
// is a plain concurrency-safe sendto; it never sets a read deadline, so it
// never needs sendMu.
func (t *Transport) sendAck(in header, addr *net.UDPAddr) {
	ack := ackHeader(t.hostID, in)
	if _, err := t.sendConn.WriteToUDP([]byte(ack), addr); err != nil {
		logger.Debug("rdt: failed to send ACK to %s: %v", addr, err)
	}
}

// reassemble concatenates a message's fragment payloads in ascending seq
// order and enqueues the result, unless this (host_id, comm_id) has
// already been delivered. The closed-set defends against a duplicate
// FIN when the final ACK was lost and the peer retransmits it.
func (t *Transport) reassemble(key msgKey) {
	t.fragMu.Lock()
	if _, done := t.closedSet[key]; done {
		delete(t.fragments, key)
		t.fragMu.Unlock()
		t.metrics.IncFragmentsDropped()
		return
	}
	bucket := t.fragments[key]
	seqs := make([]int64, 0, len(bucket))
	for s := range bucket {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var sb strings.Builder
	for _, s := range seqs {
		sb.WriteString(bucket[s])
	}
	delete(t.fragments, key)
	t.closedSet[key] = struct{}{}
	t.fragMu.Unlock()

	t.metrics.IncMessagesReassembled()
	t.messages <- []byte(sb.String())
}

// Receive blocks up to 5 seconds for the next reassembled message. It
// returns ErrQueueEmpty if none arrives in time.
func (t *Transport) Receive() ([]byte, error) {
	select {
	case msg := <-t.messages:
		return msg, nil
	case <-time.After(5 * time.Second):
		return nil, ErrQueueEmpty
	}
}

// Close releases both sockets. In-flight Send calls observe the closed
// send socket as a failure and return false.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.sendConn.Close()
		if t.listenConn != nil {
			t.listenConn.Close()
		}
	})
}

// Send synchronously delivers data to addr as one logical message
// identified by commID, fragmenting as needed. It blocks until every
// fragment has been acknowledged (true) or any single fragment exhausts
// its retries (false).
func (t *Transport) Send(commID int64, data []byte, addr *net.UDPAddr) bool {
	bounds := fragmentBounds(len(data), t.mtu)
	commIDStr := strconv.FormatInt(commID, 10)

	for i, b := range bounds {
		flags := ""
		if i == 0 {
			flags += FlagSYN
		}
		if i == len(bounds)-1 {
			flags += FlagFIN
		}
		payload := string(data[b.start:b.end])
		if !t.sendFragment(commIDStr, flags, payload, addr) {
			return false
		}
	}
	return true
}

// sendFragment reliably transmits one fragment: repeated send-and-wait
// attempts on a single seq value allocated atomically up front, doubling
// the shared timeout on each failure, until an ACK matches or retries are
// exhausted. Allocating seq via next() rather than peek()-then-next()
// means two fragments sent concurrently on the same Transport can never
// be assigned the same seq, closing the ACK-aliasing window that a
// separate peek and advance would leave open.
func (t *Transport) sendFragment(commID, flags, payload string, addr *net.UDPAddr) bool {
	seq := t.seq.next()
	pkt := packet{
		header:  header{hostID: t.hostID, commID: commID, seq: strconv.FormatInt(seq, 10), flags: flags},
		payload: payload,
	}
	wire := []byte(pkt.encode())

	for retries := 0; ; retries++ {
		if retries == maxRetries {
			return false
		}

		acked, sample, ok := t.attempt(wire, addr, seq)
		if !ok {
			// socket closed: cancellation observed as failure.
			return false
		}
		t.metrics.IncPacketsSent()
		if acked {
			if retries == 0 {
				t.recordSample(sample)
			}
			return true
		}
		t.metrics.IncPacketsRetransmitted()
		t.doubleTimeout()
	}
}

// attempt performs one send-and-wait-for-ACK cycle under sendMu, which
// covers the whole "set deadline -> send -> recv -> clear deadline"
// window per fragment attempt. It returns whether an ACK matched (or a
// stale-ACK seq of 0, accepted per the legacy-tolerance rule), the sample
// RTT if so, and whether the socket is still usable.
func (t *Transport) attempt(wire []byte, addr *net.UDPAddr, seq int64) (acked bool, sample time.Duration, usable bool) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if _, err := t.sendConn.WriteToUDP(wire, addr); err != nil {
		return false, 0, false
	}

	timeout := t.currentTimeout()
	deadline := time.Now().Add(timeout)
	t.sendConn.SetReadDeadline(deadline)
	defer t.sendConn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1024)
	start := time.Now()
	for {
		n, _, err := t.sendConn.ReadFromUDP(buf)
		if err != nil {
			return false, 0, true // timeout: fragment not yet acked
		}
		elapsed := time.Since(start)
		resp, perr := decode(string(buf[:n]))
		if perr != nil || !hasFlag(resp.flags, FlagACK) {
			continue // discard non-ACK or malformed traffic
		}
		respSeq, perr := strconv.ParseInt(resp.seq, 10, 64)
		if perr != nil {
			continue
		}
		if respSeq == seq || respSeq == 0 {
			return true, elapsed, true
		}
		// Non-matching ACK: discard and keep waiting within the deadline.
	}
}

// currentTimeout returns the shared timeout_interval.
func (t *Transport) currentTimeout() time.Duration {
	t.rttMu.Lock()
	defer t.rttMu.Unlock()
	return time.Duration(t.timeoutInterval * float64(time.Second))
}

// doubleTimeout doubles timeout_interval after a failed attempt. The
// doubling persists until the next first-try success resets it via the
// RTT estimator.
func (t *Transport) doubleTimeout() {
	t.rttMu.Lock()
	defer t.rttMu.Unlock()
	t.timeoutInterval *= 2
}

// recordSample applies the Jacobson-style RTT update after a fragment
// succeeds on its first attempt.
func (t *Transport) recordSample(sample time.Duration) {
	t.rttMu.Lock()
	defer t.rttMu.Unlock()
	sampleRTT := sample.Seconds()
	t.estimatedRTT = 0.875*t.estimatedRTT + 0.125*sampleRTT
	diff := sampleRTT - t.estimatedRTT
	if diff < 0 {
		diff = -diff
	}
	t.devRTT = 0.75*t.devRTT + 0.25*diff
	t.timeoutInterval = t.estimatedRTT + 4*t.devRTT
}

// Stats returns the current RTT estimator state, primarily for tests and
// diagnostics.
func (t *Transport) Stats() (estimatedRTT, devRTT, timeoutInterval float64) {
	t.rttMu.Lock()
	defer t.rttMu.Unlock()
	return t.estimatedRTT, t.devRTT, t.timeoutInterval
}

// HostID returns the identity this transport sends packets as.
func (t *Transport) HostID() string { return t.hostID }
