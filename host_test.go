package padsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockingWindowLongestWins(t *testing.T) {
	host := createMachineHost(Client, nil, 1, 0)
	require.False(t, host.isBlocking(0.0))

	moved := host.beginBlocking(10e-9, 3)
	require.True(t, moved)
	require.True(t, host.isBlocking(5e-9))
	require.Equal(t, 3, host.blockingBy)

	// a shorter overlapping window changes nothing
	moved = host.beginBlocking(8e-9, 4)
	require.False(t, moved)
	require.Equal(t, 3, host.blockingBy)

	// a longer one moves the expiry and takes over attribution
	moved = host.beginBlocking(20e-9, 4)
	require.True(t, moved)
	require.True(t, host.isBlocking(15e-9))
	require.Equal(t, 4, host.blockingBy)

	// the expiry instant itself is not covered
	require.False(t, host.isBlocking(20e-9))
}

func TestParkAndReleaseKeepOrder(t *testing.T) {
	host := createMachineHost(Server, nil, 1, 0)

	for idx := 1; idx <= 3; idx++ {
		host.park(ScheduledEvent{Time: float64(idx) * 1e-9, Endpoint: Server,
			Event:  TriggerEvent{Code: NonPaddingSent, Bytes: idx * 100},
			Origin: BaseTraceOrigin, PairID: idx})
	}

	released := host.releaseBlocked(9e-9)
	require.Len(t, released, 3)
	for idx, evt := range released {
		// restamped to the unblock instant, original order intact
		require.Equal(t, 9e-9, evt.Time)
		require.Equal(t, (idx+1)*100, evt.Event.Bytes)
		require.Equal(t, idx+1, evt.PairID)
	}

	// the queue drained; a second release has nothing to hand back
	require.Nil(t, host.releaseBlocked(9e-9))
}

func TestHostInstanceIDs(t *testing.T) {
	m1, err := CompileMachine(validTwoState("hostA"))
	require.NoError(t, err)
	m2, err := CompileMachine(validTwoState("hostB"))
	require.NoError(t, err)

	host := createMachineHost(Server, []*Machine{m1, m2}, 1, 5)
	require.Len(t, host.machines, 2)
	require.Equal(t, 5, host.machines[0].ID)
	require.Equal(t, 6, host.machines[1].ID)
	require.Equal(t, Server, host.machines[0].Endpoint)
}
