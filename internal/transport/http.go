package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/clock"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
	"github.com/sirupsen/logrus"
)

// envelope is the JSON wire format POSTed between peers. Payload carries
// the message body with the sender's logical timestamp appended as its
// last element, rendered here as JSON numbers rather than raw 16-bit
// integers on the wire.
type envelope struct {
	Source  int      `json:"source"`
	Tag     uint16   `json:"tag"`
	Payload []uint16 `json:"payload"`
}

// inboundMessage carries one decoded POST body as a single unit: source,
// tag, timestamp, and payload travel together so a received message can
// never be torn apart by a concurrent inbound request.
type inboundMessage struct {
	payload protocol.Payload
	status  protocol.Status
}

// HTTP is a protocol.Transport backed by point-to-point HTTP POSTs: one
// goroutine-fired POST per destination, a mux-routed inbound endpoint,
// and a retry-with-backoff outbound path.
type HTTP struct {
	rank  int
	addrs []string // addrs[i] is peer i's base URL, e.g. "http://peer-1:9001"
	path  string

	clock  *clock.Lamport
	client *http.Client
	log    *logrus.Entry

	inbox     chan inboundMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTP builds the facade for rank among addrs (addrs[rank] is this
// peer's own listen address, used only to know which index to skip on
// broadcast). Call Router to mount the inbound endpoint before serving.
func NewHTTP(rank int, addrs []string, clk *clock.Lamport, log *logrus.Entry) *HTTP {
	h := &HTTP{
		rank:   rank,
		addrs:  addrs,
		path:   "/internal/message",
		clock:  clk,
		client: &http.Client{Timeout: 2 * time.Second},
		log:    log,
		inbox:  make(chan inboundMessage, 256),
		done:   make(chan struct{}),
	}
	return h
}

// Router mounts the inbound message endpoint on r.
func (h *HTTP) Router(r *mux.Router) {
	r.HandleFunc(h.path, h.handleInbound).Methods(http.MethodPost)
}

func (h *HTTP) handleInbound(w http.ResponseWriter, req *http.Request) {
	var env envelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		http.Error(w, "invalid envelope", http.StatusBadRequest)
		return
	}
	if len(env.Payload) == 0 {
		http.Error(w, "missing timestamp", http.StatusBadRequest)
		return
	}
	ts := uint64(env.Payload[len(env.Payload)-1])
	body := env.Payload[:len(env.Payload)-1]

	h.clock.Observe(ts)
	msg := inboundMessage{
		payload: body,
		status:  protocol.Status{Source: env.Source, Tag: protocol.Tag(env.Tag), Timestamp: ts},
	}
	select {
	case h.inbox <- msg:
	case <-h.done:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Send implements protocol.Transport.
func (h *HTTP) Send(payload protocol.Payload, dest int, tag protocol.Tag) (uint64, error) {
	ts := h.clock.Tick()
	if err := h.post(dest, envelope{Source: h.rank, Tag: uint16(tag), Payload: appendTS(payload, ts)}); err != nil {
		return ts, err
	}
	return ts, nil
}

// Broadcast implements protocol.Transport. Every peer but self is sent
// to concurrently; failures are collected rather than silently logged,
// since transport failure is fatal to the protocol.
func (h *HTTP) Broadcast(payload protocol.Payload, tag protocol.Tag) (uint64, error) {
	ts := h.clock.Tick()
	env := envelope{Source: h.rank, Tag: uint16(tag), Payload: appendTS(payload, ts)}

	errCh := make(chan error, len(h.addrs))
	n := 0
	for i := range h.addrs {
		if i == h.rank {
			continue
		}
		n++
		go func(dest int) { errCh <- h.post(dest, env) }(i)
	}
	var firstErr error
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return ts, firstErr
}

// post delivers env to addrs[dest] with exponential-backoff retries.
func (h *HTTP) post(dest int, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	const maxRetries = 3
	delay := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := h.client.Post(h.addrs[dest]+h.path, "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("peer %d replied %d", dest, resp.StatusCode)
		}
		lastErr = err
		h.log.WithError(err).WithField("dest", dest).WithField("attempt", attempt+1).
			Debug("retrying outbound send")
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("send to peer %d: %w", dest, lastErr)
}

// Receive implements protocol.Transport.
func (h *HTTP) Receive() (protocol.Payload, protocol.Status, error) {
	select {
	case msg := <-h.inbox:
		return msg.payload, msg.status, nil
	case <-h.done:
		return nil, protocol.Status{}, fmt.Errorf("transport closed")
	}
}

// Close implements protocol.Transport: unblocks any pending Receive.
func (h *HTTP) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

func appendTS(payload protocol.Payload, ts uint64) []uint16 {
	out := make([]uint16, len(payload)+1)
	for i, v := range payload {
		out[i] = v
	}
	out[len(payload)] = uint16(ts)
	return out
}
