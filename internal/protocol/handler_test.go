package protocol

import (
	"testing"
	"time"

	"github.com/sincronizacion-distribuida/rooms-lifts/internal/clock"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/rng"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport is a minimal Transport stub that records every Send
// call instead of delivering it anywhere, for handler-level unit tests
// that don't need a full Network.
type recordingTransport struct {
	sent []sentMessage
}

type sentMessage struct {
	dest  int
	tag   Tag
	rooms uint16
	lifts uint16
}

func (r *recordingTransport) Send(payload Payload, dest int, tag Tag) (uint64, error) {
	rooms, lifts := ParseResources(payload)
	r.sent = append(r.sent, sentMessage{dest: dest, tag: tag, rooms: rooms, lifts: lifts})
	return 0, nil
}
func (r *recordingTransport) Broadcast(Payload, Tag) (uint64, error) { return 0, nil }
func (r *recordingTransport) Receive() (Payload, Status, error)      { return nil, Status{}, nil }
func (r *recordingTransport) Close() error                           { return nil }

func newTestPeer(rank, need int, cfg Config, tr Transport) *Peer {
	log := logrus.New()
	log.SetOutput(logTestWriter{})
	return NewPeer(rank, need, cfg, clock.New(), tr, rng.Fixed{NeedValue: need, SleepValue: time.Millisecond}, logrus.NewEntry(log), nil, nil)
}

type logTestWriter struct{}

func (logTestWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleEnterRequest_RestAlwaysGrantsFull(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(1, 2, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.phase = PhaseRest

	p.handleEnterRequestAt(0, 10)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMessage{dest: 0, tag: TagResources, rooms: 5, lifts: 1}, tr.sent[0])
	assert.Empty(t, p.deferRooms)
	assert.Empty(t, p.deferLifts)
}

func TestHandleEnterRequest_CritYieldsButKeepsOwnRooms(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(1, 2, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.phase = PhaseCrit
	p.enterTime = 1 // my own request predates the sender's, so it does not have priority

	p.handleEnterRequestAt(0, 3)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMessage{dest: 0, tag: TagResources, rooms: 3, lifts: 1}, tr.sent[0])
	assert.Equal(t, []int{0}, p.deferRooms)
	assert.Empty(t, p.deferLifts)
}

func TestHandleEnterRequest_TryLosingPriorityDefersBoth(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(1, 2, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.phase = PhaseTry
	p.enterTime = 5 // my request is earlier -> sender with later ts and higher rank loses

	p.handleEnterRequestAt(2, 9)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMessage{dest: 2, tag: TagResources, rooms: 3, lifts: 0}, tr.sent[0])
	assert.Equal(t, []int{2}, p.deferRooms)
	assert.Equal(t, []int{2}, p.deferLifts)
}

func TestHandleEnterRequest_TryLowerRankSenderWins(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(2, 2, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.phase = PhaseTry
	p.enterTime = 7

	p.handleEnterRequestAt(0, 7) // tie on timestamp, sender rank 0 < my rank 2 -> sender wins

	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMessage{dest: 0, tag: TagResources, rooms: 5, lifts: 1}, tr.sent[0])
	assert.Empty(t, p.deferRooms)
}

func TestHandleLeaveRequest_SelfOutranksDefers(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(0, 1, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.phase = PhaseLeaving
	p.leaveTime = 4

	p.handleLeaveRequestAt(1, 6) // sender's ts is later -> self outranks, defer

	assert.Empty(t, tr.sent)
	assert.Equal(t, []int{1}, p.deferLifts)
}

func TestHandleLeaveRequest_GrantsAndCreditsLiftDebt(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(0, 1, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.phase = PhaseRest

	p.handleLeaveRequestAt(1, 6)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMessage{dest: 1, tag: TagLeaveResources, rooms: 0, lifts: 1}, tr.sent[0])
	assert.Equal(t, 1, p.vectors.Lifts[1])
}

func TestHandleResources_SubtractsGrant(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(0, 1, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.vectors.ResetForEnter(0, 1, 5)

	p.handleResources(ResourcesPayload(5, 1), 1)

	assert.Equal(t, 0, p.vectors.Rooms[1])
	assert.Equal(t, 0, p.vectors.Lifts[1])
}

func TestHandleLeaveResources_CreditsAndQueuesGrantBack(t *testing.T) {
	tr := &recordingTransport{}
	p := newTestPeer(0, 1, Config{Rooms: 5, Lifts: 1, Peers: 3}, tr)
	p.vectors.ResetLiftsForRequest()

	p.handleLeaveResources(1)

	assert.Equal(t, 0, p.vectors.Lifts[1])
	assert.Equal(t, []int{1}, p.deferLifts)
}
