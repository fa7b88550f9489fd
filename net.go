package padsim

// net.go holds the event vocabulary of the simulator --- the trigger
// events machine instances react to, the scheduled events the simulator
// moves through virtual time, and the network model that carries packet
// events from one endpoint to the other

import (
	"fmt"
)

// Endpoint identifies one of the two simulated parties
type Endpoint int

const (
	Client Endpoint = iota
	Server
)

// epToStr is a translation table for creating strings from endpoints
var epToStr map[Endpoint]string = map[Endpoint]string{Client: "client", Server: "server"}

func (ep Endpoint) String() string {
	return epToStr[ep]
}

// Peer returns the endpoint on the other side of the simulated connection
func (ep Endpoint) Peer() Endpoint {
	if ep == Client {
		return Server
	}
	return Client
}

// TriggerCode gives an enumeration for the kinds of events a machine
// instance can observe: the four packet events, and the internal
// control signals surrounding blocking and the machine lifecycle
type TriggerCode int

const (
	NonPaddingSent TriggerCode = iota
	NonPaddingRecv
	PaddingSent
	PaddingRecv
	BlockingBegin
	BlockingEnd
	MachineStart
	MachineStop
)

// tcToStr is a translation table for creating strings from trigger codes.
// The packet codes use the same compact form as raw trace files
var tcToStr map[TriggerCode]string = map[TriggerCode]string{
	NonPaddingSent: "sn", NonPaddingRecv: "rn",
	PaddingSent: "sp", PaddingRecv: "rp",
	BlockingBegin: "bb", BlockingEnd: "be",
	MachineStart: "ms", MachineStop: "mx"}

// tcByName recovers a trigger code from the name used in machine
// definition files
var tcByName map[string]TriggerCode = map[string]TriggerCode{
	"sn": NonPaddingSent, "rn": NonPaddingRecv,
	"sp": PaddingSent, "rp": PaddingRecv,
	"bb": BlockingBegin, "be": BlockingEnd,
	"ms": MachineStart, "mx": MachineStop}

func (tc TriggerCode) String() string {
	return tcToStr[tc]
}

// A TriggerEvent describes an observable traffic event or internal
// machine signal.  Bytes is meaningful for the packet codes, MachineID
// for events issued by (or about) a machine instance, and Duration for
// BlockingBegin.  No payload content is carried; the simulator never
// models content
type TriggerEvent struct {
	Code      TriggerCode `json:"code" yaml:"code"`
	Bytes     int         `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	MachineID int         `json:"machineid,omitempty" yaml:"machineid,omitempty"`
	Duration  float64     `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// isPacket tells whether the event marks the passage of a packet
// rather than a control signal
func (te TriggerEvent) isPacket() bool {
	return te.Code <= PaddingRecv
}

// isSend tells whether the event puts a packet onto the link
func (te TriggerEvent) isSend() bool {
	return te.Code == NonPaddingSent || te.Code == PaddingSent
}

// EventOrigin tags a scheduled event with where it came from.  The
// origin drives the tie-break among events sharing an instant: base
// trace before network deliveries before machine actions
type EventOrigin int

const (
	BaseTraceOrigin EventOrigin = iota
	NetworkOrigin
	MachineOrigin
)

// ScheduledEvent is the unit the simulator moves through virtual time.
// Time is absolute simulated time in seconds.  PairID links a base-trace
// send to the receive pre-computed for it by the ingestor, so that the
// driver can regenerate receives for sends delayed by blocking
type ScheduledEvent struct {
	Time     float64
	Endpoint Endpoint
	Event    TriggerEvent
	Origin   EventOrigin
	PairID   int
}

// NetModel applies a fixed one-way propagation delay to any packet
// crossing between the endpoints.  That is the entire network model:
// no jitter, loss, or reordering.  This is intentionally crude, a
// known fidelity limitation rather than a bug
type NetModel struct {
	Delay float64
}

// deliver redirects a send event to the opposite endpoint as the
// matching receive, one propagation delay later
func (nm NetModel) deliver(evt ScheduledEvent) ScheduledEvent {
	rtn := evt
	rtn.Endpoint = evt.Endpoint.Peer()
	rtn.Time = evt.Time + nm.Delay
	rtn.Origin = NetworkOrigin
	rtn.PairID = 0

	switch evt.Event.Code {
	case NonPaddingSent:
		rtn.Event.Code = NonPaddingRecv
	case PaddingSent:
		rtn.Event.Code = PaddingRecv
	default:
		// only sends cross the link; anything else here is a broken invariant
		panic(fmt.Errorf("event %s offered to the network model", evt.Event.Code))
	}
	return rtn
}
