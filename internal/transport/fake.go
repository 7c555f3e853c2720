// Package transport implements the timestamped transport facade over
// two substrates: an HTTP group-communication layer for real processes,
// and an in-memory fake for deterministic scenario tests.
package transport

import (
	"fmt"
	"sync"

	"github.com/sincronizacion-distribuida/rooms-lifts/internal/clock"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
)

// wireMessage is what crosses a Fake channel: the payload plus the
// envelope the real transport would otherwise carry on the wire.
type wireMessage struct {
	payload protocol.Payload
	source  int
	tag     protocol.Tag
	ts      uint64
}

// Network wires a fixed group of Fake transports together with
// reliable, FIFO-per-pair, buffered channels — satisfying the delivery
// contract a real group-communication substrate must provide, without
// any real sockets.
type Network struct {
	peers []*Fake
}

// NewNetwork builds a fully-connected group of n Fake transports, one per
// rank, each driven by its own Lamport clock.
func NewNetwork(clocks []*clock.Lamport) *Network {
	net := &Network{peers: make([]*Fake, len(clocks))}
	for i, c := range clocks {
		net.peers[i] = &Fake{
			rank:  i,
			clock: c,
			net:   net,
			inbox: make(chan wireMessage, 256),
			done:  make(chan struct{}),
		}
	}
	return net
}

// Transport returns the facade for rank. Peer construction takes this
// directly as its protocol.Transport.
func (n *Network) Transport(rank int) *Fake { return n.peers[rank] }

// Fake is an in-process protocol.Transport backed by Go channels. It
// never drops or reorders a pair's messages.
type Fake struct {
	rank  int
	clock *clock.Lamport
	net   *Network
	inbox chan wireMessage

	closeOnce sync.Once
	done      chan struct{}
}

func (f *Fake) deliver(dest int, msg wireMessage) error {
	dst := f.net.peers[dest]
	select {
	case dst.inbox <- msg:
		return nil
	case <-dst.done:
		return fmt.Errorf("peer %d is closed", dest)
	}
}

// Send implements protocol.Transport.
func (f *Fake) Send(payload protocol.Payload, dest int, tag protocol.Tag) (uint64, error) {
	ts := f.clock.Tick()
	msg := wireMessage{payload: cloneWith(payload, ts), source: f.rank, tag: tag, ts: ts}
	if err := f.deliver(dest, msg); err != nil {
		return ts, err
	}
	return ts, nil
}

// Broadcast implements protocol.Transport.
func (f *Fake) Broadcast(payload protocol.Payload, tag protocol.Tag) (uint64, error) {
	ts := f.clock.Tick()
	for i := range f.net.peers {
		if i == f.rank {
			continue
		}
		msg := wireMessage{payload: cloneWith(payload, ts), source: f.rank, tag: tag, ts: ts}
		if err := f.deliver(i, msg); err != nil {
			return ts, err
		}
	}
	return ts, nil
}

// Receive implements protocol.Transport. Status.Timestamp is the raw
// timestamp the sender attached at send-time — the local clock is
// advanced as a side effect via Observe but the send-time value itself
// is what the priority rule compares against.
func (f *Fake) Receive() (protocol.Payload, protocol.Status, error) {
	select {
	case msg := <-f.inbox:
		f.clock.Observe(msg.ts)
		status := protocol.Status{Source: msg.source, Tag: msg.tag, Timestamp: msg.ts}
		return stripTrailing(msg.payload), status, nil
	case <-f.done:
		return nil, protocol.Status{}, fmt.Errorf("transport closed")
	}
}

// Close implements protocol.Transport. Idempotent; unblocks any Receive
// or in-flight deliver call targeting this peer.
func (f *Fake) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func cloneWith(payload protocol.Payload, ts uint64) protocol.Payload {
	out := make(protocol.Payload, len(payload)+1)
	copy(out, payload)
	out[len(payload)] = uint16(ts)
	return out
}

func stripTrailing(payload protocol.Payload) protocol.Payload {
	if len(payload) == 0 {
		return payload
	}
	return payload[:len(payload)-1]
}
