package padsim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRawTrace(t *testing.T) {
	records, err := ParseRawTrace("0,s 100,r,300 250,sn,500 300,rn")
	require.NoError(t, err)
	require.Equal(t, []TraceRecord{
		{TimeNS: 0, Sent: true, PcktLen: defaultPcktLen},
		{TimeNS: 100, Sent: false, PcktLen: 300},
		{TimeNS: 250, Sent: true, PcktLen: 500},
		{TimeNS: 300, Sent: false, PcktLen: defaultPcktLen},
	}, records)

	// padding rows from a previously simulated trace are dropped
	records, err = ParseRawTrace("0,s 5,sp,1420 10,rp,1420 20,r")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// newline separation works the same as spaces
	records, err = ParseRawTrace("0,s\n10,r\n")
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, bad := range []string{"0", "x,s", "0,up", "0,s,many"} {
		_, err = ParseRawTrace(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestIngestTrace(t *testing.T) {
	records := []TraceRecord{
		{TimeNS: 0, Sent: true, PcktLen: 100},
		{TimeNS: 50, Sent: false, PcktLen: 200},
	}

	events, err := IngestTrace(records, 10e-9)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// the sent record: client send at 0, server receive a delay later
	require.Equal(t, Client, events[0].Endpoint)
	require.Equal(t, NonPaddingSent, events[0].Event.Code)
	require.Equal(t, 0.0, events[0].Time)
	require.Equal(t, Server, events[1].Endpoint)
	require.Equal(t, NonPaddingRecv, events[1].Event.Code)
	require.InDelta(t, 10e-9, events[1].Time, 1e-15)
	require.Equal(t, events[0].PairID, events[1].PairID)

	// the received record: the server sent it a delay before the client
	// saw it
	require.Equal(t, Server, events[2].Endpoint)
	require.Equal(t, NonPaddingSent, events[2].Event.Code)
	require.InDelta(t, 40e-9, events[2].Time, 1e-15)
	require.Equal(t, Client, events[3].Endpoint)
	require.Equal(t, NonPaddingRecv, events[3].Event.Code)
	require.InDelta(t, 50e-9, events[3].Time, 1e-15)
	require.NotEqual(t, events[0].PairID, events[2].PairID)

	for _, evt := range events {
		require.Equal(t, BaseTraceOrigin, evt.Origin)
	}
}

func TestIngestTraceErrors(t *testing.T) {
	_, err := IngestTrace(nil, 1e-9)
	require.Error(t, err)

	_, err = IngestTrace([]TraceRecord{
		{TimeNS: 100, Sent: true, PcktLen: 10},
		{TimeNS: 50, Sent: true, PcktLen: 10},
	}, 1e-9)
	require.Error(t, err)

	_, err = IngestTrace([]TraceRecord{{TimeNS: 0, Sent: true, PcktLen: -5}}, 1e-9)
	require.Error(t, err)
}
