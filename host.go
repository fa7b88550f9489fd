package padsim

// host.go holds the machine host: the structure owning all machine
// instances at one endpoint together with that endpoint's blocking
// state and the FIFO queue of base-trace sends held back by an active
// blocking window.  No shared mutable state exists between the two
// hosts; they interact only through events crossing the network model

import (
	"github.com/iti/evt/evtm"
)

// A MachineHost owns one endpoint's machine instances and blocking
// state.  Blocking is pure data: parked events in a queue, not a
// suspended execution context
type MachineHost struct {
	endpoint Endpoint
	machines []*MachineInstance

	// blocking is active while blockingUntil exceeds the current time
	blockingUntil float64
	blockingBy    int

	blockedQ []ScheduledEvent
}

// createMachineHost instantiates the compiled machines for one
// endpoint.  Instance ids continue from firstID so that ids are unique
// and deterministic across the run's two hosts
func createMachineHost(ep Endpoint, defs []*Machine, seed uint64, firstID int) *MachineHost {
	host := new(MachineHost)
	host.endpoint = ep
	host.blockingUntil = -1.0
	host.blockingBy = -1
	host.machines = make([]*MachineInstance, 0, len(defs))
	host.blockedQ = make([]ScheduledEvent, 0)

	for idx, def := range defs {
		host.machines = append(host.machines, createMachineInstance(def, firstID+idx, ep, seed))
	}
	return host
}

// notify delivers a trigger to every instance at this endpoint, in
// definition order, and schedules whatever timers the evaluations arm.
// Instances never observe each other directly, so evaluation order
// cannot change the outcome, but keeping it fixed keeps runs identical
func (host *MachineHost) notify(sim *Simulation, evtMgr *evtm.EventManager, trigger TriggerEvent, now float64) {
	for _, mi := range host.machines {
		fireAt, seq, armed := mi.evaluate(trigger, now)
		if armed {
			sim.scheduleAt(evtMgr, fireAt, MachineOrigin, machineTimer{inst: mi, seq: seq}, fireMachineTimer)
		}
	}
}

// isBlocking reports whether an active blocking window covers now.
// The epsilon is a tick: the expiry event lands on the nearest tick,
// so a send within that slack of the window's end is past it
func (host *MachineHost) isBlocking(now float64) bool {
	return host.blockingUntil > now+timeEps
}

// beginBlocking widens the endpoint's blocking window; the longest
// window wins.  The return reports whether the expiry moved, in which
// case the caller owes a new expiry event
func (host *MachineHost) beginBlocking(until float64, machineID int) bool {
	if until <= host.blockingUntil {
		return false
	}
	host.blockingUntil = until
	host.blockingBy = machineID
	return true
}

// park holds a base-trace send during a blocking window.  FIFO order in
// the queue is the original relative order of the sends
func (host *MachineHost) park(evt ScheduledEvent) {
	host.blockedQ = append(host.blockedQ, evt)
}

// releaseBlocked empties the blocked queue, restamping the held sends
// to the unblock instant while preserving their original order
func (host *MachineHost) releaseBlocked(now float64) []ScheduledEvent {
	if len(host.blockedQ) == 0 {
		return nil
	}
	released := host.blockedQ
	host.blockedQ = make([]ScheduledEvent, 0)
	for idx := range released {
		released[idx].Time = now
	}
	return released
}
