package padsim

// prop_test.go checks run-level invariants over randomly generated
// traces using pgregory.net/rapid

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// genTraceRecords generates a non-empty raw trace with non-decreasing
// nanosecond timestamps
func genTraceRecords(t *rapid.T) []TraceRecord {
	n := rapid.IntRange(1, 40).Draw(t, "records")
	records := make([]TraceRecord, n)
	ts := int64(0)
	for idx := range records {
		ts += rapid.Int64Range(0, 500).Draw(t, "gap")
		records[idx] = TraceRecord{
			TimeNS:  ts,
			Sent:    rapid.Bool().Draw(t, "sent"),
			PcktLen: rapid.IntRange(1, 1500).Draw(t, "len"),
		}
	}
	return records
}

func runFor(t *rapid.T, records []TraceRecord, cfg SimConfig) []RecordedPacket {
	sim, err := CreateSimulation(cfg)
	if err != nil {
		t.Fatalf("building simulation: %v", err)
	}
	trace, err := sim.Run(records)
	if err != nil {
		t.Fatalf("running simulation: %v", err)
	}
	return trace
}

// With no machines the output is exactly the ingested base events:
// two per record, nothing added, nothing delayed
func TestPassthroughProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := genTraceRecords(t)
		trace := runFor(t, records, SimConfig{Delay: 50e-9, Seed: 1})

		if len(trace) != 2*len(records) {
			t.Fatalf("trace has %d events, want %d", len(trace), 2*len(records))
		}
		for _, rp := range trace {
			if !rp.Event.isPacket() || rp.Event.Code == PaddingSent || rp.Event.Code == PaddingRecv {
				t.Fatalf("passthrough run produced event %s", rp.Event.Code)
			}
		}

		// the client side reproduces the input records in order
		idx := 0
		for _, rp := range trace {
			if !rp.Client {
				continue
			}
			rec := records[idx]
			wantCode := NonPaddingRecv
			if rec.Sent {
				wantCode = NonPaddingSent
			}
			if rp.Event.Code != wantCode || rp.Event.Bytes != rec.PcktLen {
				t.Fatalf("client event %d is %s/%d, want %s/%d",
					idx, rp.Event.Code, rp.Event.Bytes, wantCode, rec.PcktLen)
			}
			if rp.Time != float64(rec.TimeNS)*1e-9 {
				t.Fatalf("client event %d at %g, want %g", idx, rp.Time, float64(rec.TimeNS)*1e-9)
			}
			idx++
		}
		if idx != len(records) {
			t.Fatalf("client saw %d events, want %d", idx, len(records))
		}
	})
}

// Every unblocked client send is received at the server exactly one
// propagation delay later, exactly once
func TestDelayCorrectnessProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := genTraceRecords(t)
		delay := 25e-9
		trace := runFor(t, records, SimConfig{Delay: delay, Seed: 1})

		sends := make([]float64, 0)
		recvs := make([]float64, 0)
		for _, rp := range trace {
			if rp.Client && rp.Event.Code == NonPaddingSent {
				sends = append(sends, rp.Time)
			}
			if !rp.Client && rp.Event.Code == NonPaddingRecv {
				recvs = append(recvs, rp.Time)
			}
		}
		if len(sends) != len(recvs) {
			t.Fatalf("%d client sends but %d server receives", len(sends), len(recvs))
		}
		for idx := range sends {
			if math.Abs(recvs[idx]-(sends[idx]+delay)) > timeEps {
				t.Fatalf("send at %g received at %g, want %g", sends[idx], recvs[idx], sends[idx]+delay)
			}
		}
	})
}

// Blocking may delay client sends but never reorders them, never drops
// one, and never moves one earlier
func TestBlockingKeepsSendOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := genTraceRecords(t)
		// draw the hold from a continuous range so blocking windows
		// almost never end on an exact event-list tick
		hold := rapid.Float64Range(5e-9, 80e-9).Draw(t, "hold")
		blocker := blockEveryMachine("prop-block", 20e-9, hold)
		blocker.BlockingBudget = 500e-9
		trace := runFor(t, records, SimConfig{Delay: 50e-9, Seed: 1,
			ClientMachines: []*MachineDesc{blocker}})

		for idx := 1; idx < len(trace); idx++ {
			if trace[idx].Time < trace[idx-1].Time {
				t.Fatalf("trace time goes backward at event %d", idx)
			}
		}

		inputSends := make([]TraceRecord, 0)
		for _, rec := range records {
			if rec.Sent {
				inputSends = append(inputSends, rec)
			}
		}

		idx := 0
		for _, rp := range trace {
			if !rp.Client || rp.Event.Code != NonPaddingSent {
				continue
			}
			if idx >= len(inputSends) {
				t.Fatalf("more output sends than input sends")
			}
			rec := inputSends[idx]
			if rp.Event.Bytes != rec.PcktLen {
				t.Fatalf("send %d carries %d bytes, want %d", idx, rp.Event.Bytes, rec.PcktLen)
			}
			if rp.Time < float64(rec.TimeNS)*1e-9-timeEps {
				t.Fatalf("send %d at %g before its input time %g", idx, rp.Time, float64(rec.TimeNS)*1e-9)
			}
			idx++
		}
		if idx != len(inputSends) {
			t.Fatalf("output has %d sends, input had %d", idx, len(inputSends))
		}
	})
}

// The same seed gives byte-identical runs
func TestDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := genTraceRecords(t)
		seed := rapid.Uint64().Draw(t, "seed")

		jitter := &MachineDesc{
			Name:          "prop-jitter",
			PaddingBudget: 50000,
			States: []StateDesc{
				{Name: "idle",
					Transitions: []TransitionDesc{
						{When: "sn", To: "pad", Prob: 0.5},
						{When: "rn", To: "pad", Prob: 0.5}}},
				{Name: "pad",
					Action:      ActionDesc{Type: "pad", PcktLen: 900},
					Timeout:     DistDesc{Dist: "uniform", Param1: 1e-9, Param2: 40e-9},
					Transitions: []TransitionDesc{{When: "sp", To: "idle", Prob: 1.0}}},
			},
		}

		cfg := SimConfig{Delay: 50e-9, Seed: seed, Limit: 200,
			ClientMachines: []*MachineDesc{jitter}}
		first := runFor(t, records, cfg)
		second := runFor(t, records, cfg)

		if len(first) != len(second) {
			t.Fatalf("runs differ in length: %d vs %d", len(first), len(second))
		}
		for idx := range first {
			if first[idx] != second[idx] {
				t.Fatalf("runs differ at event %d: %+v vs %+v", idx, first[idx], second[idx])
			}
		}
	})
}
