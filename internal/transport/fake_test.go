package transport_test

import (
	"testing"

	"github.com/sincronizacion-distribuida/rooms-lifts/internal/clock"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/protocol"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSendAndReceiveCarriesTimestamp(t *testing.T) {
	clocks := []*clock.Lamport{clock.New(), clock.New()}
	net := transport.NewNetwork(clocks)
	a, b := net.Transport(0), net.Transport(1)

	ts, err := a.Send(protocol.Payload{42}, 1, protocol.TagResources)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ts)

	payload, status, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.Payload{42}, payload)
	assert.Equal(t, 0, status.Source)
	assert.Equal(t, protocol.TagResources, status.Tag)
	assert.Equal(t, ts, status.Timestamp)
	assert.Equal(t, uint64(2), clocks[1].Now(), "receiver observes sender's timestamp and advances past it")
}

func TestFakeBroadcastReachesEveryOtherPeer(t *testing.T) {
	clocks := []*clock.Lamport{clock.New(), clock.New(), clock.New()}
	net := transport.NewNetwork(clocks)

	_, err := net.Transport(0).Broadcast(protocol.Payload{}, protocol.TagEnterRequest)
	require.NoError(t, err)

	_, status1, err := net.Transport(1).Receive()
	require.NoError(t, err)
	assert.Equal(t, 0, status1.Source)

	_, status2, err := net.Transport(2).Receive()
	require.NoError(t, err)
	assert.Equal(t, 0, status2.Source)
}

func TestFakeCloseUnblocksReceive(t *testing.T) {
	clocks := []*clock.Lamport{clock.New(), clock.New()}
	net := transport.NewNetwork(clocks)
	a := net.Transport(0)

	require.NoError(t, a.Close())
	_, _, err := a.Receive()
	assert.Error(t, err)
}
