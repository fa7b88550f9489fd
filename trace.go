package padsim

// trace.go holds the trace recorder: the structure that accumulates
// dispatched events into the simulation's output trace, enforces the
// recorded-event limit, and serializes results for post-run analysis

import (
	"encoding/json"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

// A RecordedPacket is one entry in the output trace: the absolute
// simulated time of the event, which side observed it, and the event
// itself.  Entries are immutable once appended
type RecordedPacket struct {
	Time   float64      `json:"time" yaml:"time"`
	Client bool         `json:"client" yaml:"client"`
	Event  TriggerEvent `json:"event" yaml:"event"`
}

// TraceRecorder accumulates dispatched events.  A Limit of zero is
// unbounded; PcktsOnly drops control signals from the record (they
// still drive machines); ClientOnly keeps one side's view
type TraceRecorder struct {
	ExpName    string           `json:"expname" yaml:"expname"`
	Limit      int              `json:"limit" yaml:"limit"`
	PcktsOnly  bool             `json:"pcktsonly" yaml:"pcktsonly"`
	ClientOnly bool             `json:"clientonly" yaml:"clientonly"`
	Packets    []RecordedPacket `json:"packets" yaml:"packets"`
}

// CreateTraceRecorder is a constructor
func CreateTraceRecorder(expName string, limit int, pcktsOnly, clientOnly bool) *TraceRecorder {
	tr := new(TraceRecorder)
	tr.ExpName = expName
	tr.Limit = limit
	tr.PcktsOnly = pcktsOnly
	tr.ClientOnly = clientOnly
	tr.Packets = make([]RecordedPacket, 0)
	return tr
}

// full reports whether the recorded-event limit has been reached
func (tr *TraceRecorder) full() bool {
	return tr.Limit > 0 && len(tr.Packets) >= tr.Limit
}

// record appends one dispatched event, subject to the configured
// filters and the limit
func (tr *TraceRecorder) record(now float64, ep Endpoint, evt TriggerEvent) {
	if tr.full() {
		return
	}
	if tr.PcktsOnly && !evt.isPacket() {
		return
	}
	if tr.ClientOnly && ep != Client {
		return
	}
	tr.Packets = append(tr.Packets, RecordedPacket{Time: now, Client: ep == Client, Event: evt})
}

// Trace returns the accumulated output ordered by time.  The sort is
// stable, so events sharing an instant keep their dispatch order
func (tr *TraceRecorder) Trace() []RecordedPacket {
	sort.SliceStable(tr.Packets, func(i, j int) bool { return tr.Packets[i].Time < tr.Packets[j].Time })
	return tr.Packets
}

// WriteToFile stores the recorded trace to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tr *TraceRecorder) WriteToFile(filename string) bool {
	tr.Trace()

	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tr)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tr, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	err := f.Close()
	if err != nil {
		panic(err)
	}
	return true
}
