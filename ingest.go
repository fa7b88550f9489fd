package padsim

// ingest.go converts a raw packet trace --- timestamps, directions, and
// sizes recorded from the client's point of view --- into the two
// endpoint-local event sequences that seed a simulation run, with the
// cross-endpoint propagation offsets baked in

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// A TraceRecord is one row of a raw packet trace: a timestamp in
// nanoseconds relative to the first row, a direction from the client's
// point of view, and a packet length in bytes
type TraceRecord struct {
	TimeNS  int64
	Sent    bool
	PcktLen int
}

// defaultPcktLen stands in for the packet length when a raw trace
// carries only time and direction
const defaultPcktLen int = 1420

// ParseRawTrace parses the textual form of a raw trace: whitespace
// separated records of the form "time,dir[,length]", time in integer
// nanoseconds, dir one of s/sn (client sent) or r/rn (client received).
// Padding rows (sp/rp) from a previously simulated trace are dropped
func ParseRawTrace(raw string) ([]TraceRecord, error) {
	rtn := make([]TraceRecord, 0)

	for recNum, rec := range strings.Fields(raw) {
		parts := strings.Split(rec, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("raw trace record %d (%q) is not time,dir[,length]", recNum, rec)
		}

		ts, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("raw trace record %d has unreadable timestamp %q", recNum, parts[0])
		}

		var sent bool
		switch strings.TrimSpace(parts[1]) {
		case "s", "sn":
			sent = true
		case "r", "rn":
			sent = false
		case "sp", "rp":
			continue
		default:
			return nil, fmt.Errorf("raw trace record %d has unrecognized direction %q", recNum, parts[1])
		}

		pcktLen := defaultPcktLen
		if len(parts) > 2 {
			pcktLen, err = strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil {
				return nil, fmt.Errorf("raw trace record %d has unreadable length %q", recNum, parts[2])
			}
		}

		rtn = append(rtn, TraceRecord{TimeNS: ts, Sent: sent, PcktLen: pcktLen})
	}
	return rtn, nil
}

// IngestTrace turns raw records into the base-trace scheduled events
// for both endpoints.  A sent record at client time t yields the send
// at the client at t and its receive at the server at t+delay; a
// received record at client time t yields the receive at the client at
// t and the send that caused it at the server at t-delay.  Each
// send/receive pair shares a pair id so the driver can tell when a
// delayed send invalidated its pre-computed receive.
//
// The records must be non-decreasing in time and non-negative in size,
// and there must be at least one; violations are malformed-input errors
// and the simulation never starts
func IngestTrace(records []TraceRecord, delay float64) ([]ScheduledEvent, error) {
	if len(records) == 0 {
		return nil, errors.New("raw trace is empty")
	}

	rtn := make([]ScheduledEvent, 0, 2*len(records))
	prev := records[0].TimeNS

	for idx, rec := range records {
		if rec.TimeNS < prev {
			return nil, fmt.Errorf("raw trace timestamps decrease at record %d", idx)
		}
		prev = rec.TimeNS

		if rec.PcktLen < 0 {
			return nil, fmt.Errorf("raw trace record %d has negative length %d", idx, rec.PcktLen)
		}

		t := float64(rec.TimeNS) * 1e-9
		pairID := idx + 1
		pckt := TriggerEvent{Bytes: rec.PcktLen}

		var send, recv ScheduledEvent
		if rec.Sent {
			pckt.Code = NonPaddingSent
			send = ScheduledEvent{Time: t, Endpoint: Client, Event: pckt,
				Origin: BaseTraceOrigin, PairID: pairID}
			pckt.Code = NonPaddingRecv
			recv = ScheduledEvent{Time: t + delay, Endpoint: Server, Event: pckt,
				Origin: BaseTraceOrigin, PairID: pairID}
		} else {
			// the client saw the packet at t, so the server sent it a
			// propagation delay earlier
			pckt.Code = NonPaddingSent
			send = ScheduledEvent{Time: t - delay, Endpoint: Server, Event: pckt,
				Origin: BaseTraceOrigin, PairID: pairID}
			pckt.Code = NonPaddingRecv
			recv = ScheduledEvent{Time: t, Endpoint: Client, Event: pckt,
				Origin: BaseTraceOrigin, PairID: pairID}
		}
		rtn = append(rtn, send, recv)
	}
	return rtn, nil
}
