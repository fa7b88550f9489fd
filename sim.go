package padsim

// sim.go holds the simulation driver: the code that seeds the event
// list with base-trace events, hosts the machine instances for the two
// endpoints, and moves the run through virtual time until the recorded
// trace reaches its limit or no work remains.  The run is strictly
// single-threaded; client and server are logically concurrent actors
// whose apparent simultaneity is resolved entirely by the time-ordered
// event list

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// timeEps absorbs tick quantization when comparing event instants.  The
// event list rounds an instant to the nearest tick, so two computations
// of the same instant can disagree by up to half a tick either way
var timeEps float64 = vrtime.TickValue

// SimConfig gathers everything that parameterizes one run
type SimConfig struct {
	// one-way propagation delay, in seconds
	Delay float64

	// maximum number of recorded events, 0 means unbounded
	Limit int

	// master seed for all random draws
	Seed uint64

	// let in-flight scheduled actions and deliveries play out after the
	// limit is reached, instead of halting outright.  Machines are not
	// fed new triggers either way, and nothing past the limit is recorded
	Settle bool

	// record only packet events; control signals still drive machines
	PcktsOnly bool

	// record only the client's side of the trace
	ClientOnly bool

	// machine definitions to run at each endpoint; either list may be
	// empty, and a side with no machines behaves as pure passthrough
	ClientMachines []*MachineDesc
	ServerMachines []*MachineDesc
}

// A Simulation owns all per-run state.  Nothing here is shared between
// runs: concurrent simulations must each build their own Simulation
type Simulation struct {
	cfg      SimConfig
	netModel NetModel
	evtMgr   *evtm.EventManager
	hosts    [2]*MachineHost
	recorder *TraceRecorder

	// pair ids of base-trace sends that blocking pushed off schedule,
	// whose pre-baked receives are therefore void
	delayedPairs map[int]bool

	// event-list clock zero in absolute simulated time
	startTime float64

	seq  int64
	done bool
}

// machineTimer carries a pending machine timer through the event list
type machineTimer struct {
	inst *MachineInstance
	seq  int
}

// CreateSimulation compiles the machine definitions, instantiates the
// machine hosts, and readies a run.  All configuration errors surface
// here, before any event is scheduled
func CreateSimulation(cfg SimConfig) (*Simulation, error) {
	if cfg.Delay < 0.0 {
		return nil, fmt.Errorf("propagation delay %g is negative", cfg.Delay)
	}
	if cfg.Limit < 0 {
		return nil, fmt.Errorf("recorded-event limit %d is negative", cfg.Limit)
	}

	sim := new(Simulation)
	sim.cfg = cfg
	sim.netModel = NetModel{Delay: cfg.Delay}
	sim.evtMgr = evtm.New()
	sim.recorder = CreateTraceRecorder("padsim", cfg.Limit, cfg.PcktsOnly, cfg.ClientOnly)
	sim.delayedPairs = make(map[int]bool)

	clientDefs, err1 := compileMachineList(cfg.ClientMachines)
	serverDefs, err2 := compileMachineList(cfg.ServerMachines)
	err := ReportErrs([]error{err1, err2})
	if err != nil {
		return nil, err
	}

	// the rngstream package hands streams out of a master seed in
	// creation order, so resetting the seed here and creating instances
	// in a fixed order (client machines in definition order, then
	// server machines) makes every run with the same seed identical
	rngstream.SetRngStreamMasterSeed(cfg.Seed)
	sim.hosts[Client] = createMachineHost(Client, clientDefs, cfg.Seed, 0)
	sim.hosts[Server] = createMachineHost(Server, serverDefs, cfg.Seed, len(clientDefs))

	return sim, nil
}

// compileMachineList compiles a definition list, gathering up the
// per-machine configuration errors
func compileMachineList(descList []*MachineDesc) ([]*Machine, error) {
	defs := make([]*Machine, 0, len(descList))
	errs := make([]error, 0)
	for _, md := range descList {
		def, err := CompileMachine(md)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, ReportErrs(errs)
}

// now gives the current absolute simulated time
func (sim *Simulation) now() float64 {
	return sim.startTime + sim.evtMgr.CurrentSeconds()
}

// scheduleAt puts an event handler on the event list at an absolute
// simulated time.  The priority field of the virtual time fixes the
// order of same-instant events: base trace before network deliveries
// before machine actions, and within a class, scheduling order
func (sim *Simulation) scheduleAt(evtMgr *evtm.EventManager, t float64, origin EventOrigin,
	data any, handler evtm.EventHandlerFunction) {

	sim.seq += 1
	pri := (int64(origin)+1)<<40 | sim.seq

	offset := t - sim.now()
	if offset < 0.0 {
		offset = 0.0
	}
	evtMgr.Schedule(sim, data, handler, vrtime.SecondsToTimePri(offset, pri))
}

// Run seeds the event list from the raw trace records and drives the
// run to completion, returning the recorded trace in time order.  A
// Simulation runs once; build a fresh one for every trace
func (sim *Simulation) Run(records []TraceRecord) ([]RecordedPacket, error) {
	base, err := IngestTrace(records, sim.cfg.Delay)
	if err != nil {
		return nil, err
	}

	// the event-list clock starts at the earliest base event, which
	// sits before the raw trace's zero when the first record is a
	// receive (the server sent it a delay earlier)
	sim.startTime = slices.MinFunc(base, func(a, b ScheduledEvent) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	}).Time

	for _, evt := range base {
		sim.scheduleAt(sim.evtMgr, evt.Time, evt.Origin, evt, arriveBaseEvent)
	}

	// machine start signals share the run's first instant; the standing
	// tie-break places them after any base traffic at that instant
	for _, host := range sim.hosts {
		for _, mi := range host.machines {
			evt := ScheduledEvent{Time: sim.startTime, Endpoint: host.endpoint, Origin: MachineOrigin,
				Event: TriggerEvent{Code: MachineStart, MachineID: mi.ID}}
			sim.scheduleAt(sim.evtMgr, evt.Time, MachineOrigin, evt, arriveMachineEvent)
		}
	}

	// the run bound passes through a float64 tick conversion inside the
	// event manager; a bound past the int64 tick range overflows to the
	// minimum and the dispatch loop never starts.  Half the range leaves
	// headroom for the rounding
	sim.evtMgr.Run(float64(math.MaxInt64) / vrtime.FloatTicksPerSecond / 2.0)
	return sim.recorder.Trace(), nil
}

// dispatch records an event, generates the follow-on events it implies,
// and hands it to the endpoint's machines.  The event that fills the
// recording limit still completes all of its effects; machine state is
// never left half-updated
func (sim *Simulation) dispatch(evtMgr *evtm.EventManager, evt ScheduledEvent) {
	wasFull := sim.recorder.full()
	sim.recorder.record(evt.Time, evt.Endpoint, evt.Event)

	// a send crossing the link materializes its receive on the other
	// side: padding always, base sends only when blocking pushed them
	// off schedule and their pre-baked receive is void
	if evt.Event.Code == PaddingSent ||
		(evt.Event.Code == NonPaddingSent && evt.Origin == BaseTraceOrigin && sim.delayedPairs[evt.PairID]) {
		recv := sim.netModel.deliver(evt)
		sim.scheduleAt(evtMgr, recv.Time, NetworkOrigin, recv, arriveNetworkEvent)
	}

	// machines hosted at the endpoint see everything that happens
	// there; once the run is past its limit no new reactions begin
	if !wasFull {
		sim.hosts[evt.Endpoint].notify(sim, evtMgr, evt.Event, evt.Time)
	}

	if sim.recorder.full() && !sim.cfg.Settle {
		sim.done = true
	}
}

// arriveBaseEvent handles a base-trace event reaching its scheduled
// instant.  Sends at a blocked endpoint are parked rather than
// dispatched; receives whose matching send was delayed are dropped,
// their replacement being generated when the send finally goes out
func arriveBaseEvent(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulation)
	if sim.done {
		return nil
	}
	evt := data.(ScheduledEvent)
	host := sim.hosts[evt.Endpoint]

	switch evt.Event.Code {
	case NonPaddingSent:
		// a nonempty parked queue means a window's release has not run
		// yet, so the send joins the queue to keep the original order
		// even when it lands inside the expiry's quantization slack
		if host.isBlocking(evt.Time) || len(host.blockedQ) > 0 {
			sim.delayedPairs[evt.PairID] = true
			host.park(evt)
			return nil
		}
	case NonPaddingRecv:
		if sim.delayedPairs[evt.PairID] {
			return nil
		}
	}

	sim.dispatch(evtMgr, evt)
	return nil
}

// arriveNetworkEvent handles a receive generated through the network
// model reaching the far endpoint.  Receives are never blocked;
// blocking holds outgoing base-trace sends only
func arriveNetworkEvent(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulation)
	if sim.done {
		return nil
	}
	sim.dispatch(evtMgr, data.(ScheduledEvent))
	return nil
}

// arriveMachineEvent handles a machine-origin control event
func arriveMachineEvent(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulation)
	if sim.done {
		return nil
	}
	sim.dispatch(evtMgr, data.(ScheduledEvent))
	return nil
}

// fireMachineTimer handles a machine's pending timer reaching its
// instant.  The timer is discarded when the instance moved on since
// arming it
func fireMachineTimer(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulation)
	if sim.done {
		return nil
	}
	mt := data.(machineTimer)

	action, taken := mt.inst.fire(mt.seq)
	if !taken {
		return nil
	}

	now := sim.now()
	host := sim.hosts[mt.inst.Endpoint]

	switch action.Act {
	case padAction:
		evt := ScheduledEvent{Time: now, Endpoint: mt.inst.Endpoint, Origin: MachineOrigin,
			Event: TriggerEvent{Code: PaddingSent, Bytes: action.PcktLen, MachineID: mt.inst.ID}}
		sim.dispatch(evtMgr, evt)
	case blockAction:
		until := now + action.BlockFor
		if host.beginBlocking(until, mt.inst.ID) {
			sim.scheduleAt(evtMgr, until, MachineOrigin, mt.inst.Endpoint, endBlocking)
		}
		evt := ScheduledEvent{Time: now, Endpoint: mt.inst.Endpoint, Origin: MachineOrigin,
			Event: TriggerEvent{Code: BlockingBegin, MachineID: mt.inst.ID, Duration: action.BlockFor}}
		sim.dispatch(evtMgr, evt)
	case stopAction:
		evt := ScheduledEvent{Time: now, Endpoint: mt.inst.Endpoint, Origin: MachineOrigin,
			Event: TriggerEvent{Code: MachineStop, MachineID: mt.inst.ID}}
		sim.dispatch(evtMgr, evt)
	}
	return nil
}

// endBlocking handles expiry of an endpoint's blocking window.  An
// expiry overtaken by a longer window is stale and ignored.  Otherwise
// the parked sends go out first, in their original order, then the
// end-of-blocking signal
func endBlocking(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulation)
	if sim.done {
		return nil
	}
	ep := data.(Endpoint)
	host := sim.hosts[ep]
	now := sim.now()

	if host.blockingUntil > now+timeEps {
		return nil
	}

	for _, evt := range host.releaseBlocked(now) {
		sim.dispatch(evtMgr, evt)
	}

	evt := ScheduledEvent{Time: now, Endpoint: ep, Origin: MachineOrigin,
		Event: TriggerEvent{Code: BlockingEnd, MachineID: host.blockingBy}}
	sim.dispatch(evtMgr, evt)
	return nil
}

// SimulateTrace parses a textual raw trace and runs it in one call
func SimulateTrace(raw string, cfg SimConfig) ([]RecordedPacket, error) {
	records, err := ParseRawTrace(raw)
	if err != nil {
		return nil, err
	}
	sim, err := CreateSimulation(cfg)
	if err != nil {
		return nil, err
	}
	return sim.Run(records)
}
