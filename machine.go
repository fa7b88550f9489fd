package padsim

// machine.go holds the compiled, immutable form of a machine
// definition, the per-endpoint mutable instance state bound to it, and
// the evaluation logic that reacts to trigger events.  A machine
// definition is compiled once and may be shared read-only by any number
// of simulation runs; all mutable state lives in the instance, which is
// owned exclusively by its endpoint's machine host

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/iti/rngstream"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// actionType enumerates what a state's timer does when it fires
type actionType int

const (
	noAction actionType = iota
	padAction
	blockAction
	stopAction
)

// actionByName maps the action names used in definition files
var actionByName map[string]actionType = map[string]actionType{
	"": noAction, "none": noAction, "pad": padAction, "block": blockAction, "stop": stopAction}

// branch is one probabilistic outcome of a transition
type branch struct {
	to   int
	prob float64
}

// machineState is the compiled form of a StateDesc.  State references
// are indices into the owning machine's state list
type machineState struct {
	name     string
	action   actionType
	pcktLen  int
	duration Dist
	timeout  Dist
	trans    map[TriggerCode][]branch
}

// Machine is the compiled, immutable form of a MachineDesc.  The start
// state has index 0
type Machine struct {
	Name           string
	states         []machineState
	paddingBudget  int
	blockingBudget float64
}

// CompileMachine validates a machine description and produces its
// immutable compiled form.  Structural errors --- undefined or
// unreachable target states, unknown actions or triggers, bad
// distribution parameters, probability mass above one --- are all
// caught here, before any simulation event is scheduled
func CompileMachine(md *MachineDesc) (*Machine, error) {
	if len(md.Name) == 0 {
		return nil, errors.New("machine description carries no name")
	}
	if len(md.States) == 0 {
		return nil, fmt.Errorf("machine %s has no states", md.Name)
	}
	if md.PaddingBudget < 0 || md.BlockingBudget < 0.0 {
		return nil, fmt.Errorf("machine %s has a negative budget", md.Name)
	}

	// index the state names, rejecting duplicates
	stateIdx := make(map[string]int)
	for idx, sd := range md.States {
		if len(sd.Name) == 0 {
			return nil, fmt.Errorf("machine %s has an unnamed state", md.Name)
		}
		_, present := stateIdx[sd.Name]
		if present {
			return nil, fmt.Errorf("machine %s repeats state name %s", md.Name, sd.Name)
		}
		stateIdx[sd.Name] = idx
	}

	m := new(Machine)
	m.Name = md.Name
	m.paddingBudget = md.PaddingBudget
	m.blockingBudget = md.BlockingBudget
	m.states = make([]machineState, len(md.States))

	for idx, sd := range md.States {
		act, present := actionByName[sd.Action.Type]
		if !present {
			return nil, fmt.Errorf("machine %s state %s has unrecognized action %q",
				md.Name, sd.Name, sd.Action.Type)
		}
		if act == padAction && sd.Action.PcktLen <= 0 {
			return nil, fmt.Errorf("machine %s state %s pads with nonpositive packet length %d",
				md.Name, sd.Name, sd.Action.PcktLen)
		}

		duration, err := compileDist(sd.Action.Duration)
		if err != nil {
			return nil, fmt.Errorf("machine %s state %s action duration: %w", md.Name, sd.Name, err)
		}
		if act == blockAction && !duration.defined() {
			return nil, fmt.Errorf("machine %s state %s blocks without a duration distribution",
				md.Name, sd.Name)
		}

		timeout, err := compileDist(sd.Timeout)
		if err != nil {
			return nil, fmt.Errorf("machine %s state %s timeout: %w", md.Name, sd.Name, err)
		}

		trans := make(map[TriggerCode][]branch)
		probSum := make(map[TriggerCode]float64)
		for _, td := range sd.Transitions {
			tc, present := tcByName[td.When]
			if !present {
				return nil, fmt.Errorf("machine %s state %s transitions on unrecognized trigger %q",
					md.Name, sd.Name, td.When)
			}
			to, present := stateIdx[td.To]
			if !present {
				return nil, fmt.Errorf("machine %s state %s transitions to undefined state %s",
					md.Name, sd.Name, td.To)
			}
			if !(td.Prob > 0.0) || td.Prob > 1.0 {
				return nil, fmt.Errorf("machine %s state %s has transition probability %g outside (0,1]",
					md.Name, sd.Name, td.Prob)
			}
			probSum[tc] += td.Prob
			if probSum[tc] > 1.0+1e-9 {
				return nil, fmt.Errorf("machine %s state %s trigger %s carries probability mass %g above 1",
					md.Name, sd.Name, tc, probSum[tc])
			}
			trans[tc] = append(trans[tc], branch{to: to, prob: td.Prob})
		}

		m.states[idx] = machineState{name: sd.Name, action: act, pcktLen: sd.Action.PcktLen,
			duration: duration, timeout: timeout, trans: trans}
	}

	err := checkReachable(m)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// checkReachable verifies that every state can be reached from the
// start state.  The state graph is handed to the gonum graph module and
// probed with the shortest-path tree rooted in the start state; a state
// at infinite distance is unreachable
func checkReachable(m *Machine) error {
	stateGraph := simple.NewDirectedGraph()
	for idx := range m.states {
		stateGraph.AddNode(simple.Node(idx))
	}
	for idx, ms := range m.states {
		for _, branches := range ms.trans {
			for _, br := range branches {
				// self loops carry no reachability information, and the
				// graph module rejects them
				if br.to == idx {
					continue
				}
				stateGraph.SetEdge(simple.Edge{F: simple.Node(idx), T: simple.Node(br.to)})
			}
		}
	}

	spTree := path.DijkstraFrom(simple.Node(0), stateGraph)
	for idx := 1; idx < len(m.states); idx++ {
		if math.IsInf(spTree.WeightTo(int64(idx)), 1) {
			return fmt.Errorf("machine %s state %s is unreachable from the start state",
				m.Name, m.states[idx].name)
		}
	}
	return nil
}

// A MachineAction is what an instance hands back when its timer fires
type MachineAction struct {
	Act      actionType
	PcktLen  int
	BlockFor float64
}

// A MachineInstance binds mutable runtime state to one compiled
// Machine.  The pending timer is represented by an arming sequence
// number: a fired timer whose sequence no longer matches was overtaken
// by a later transition and is discarded
type MachineInstance struct {
	Def      *Machine
	ID       int
	Endpoint Endpoint

	state    int
	active   bool
	armed    bool
	timerSeq int
	timerAt  float64

	paddingSpent  int
	blockingSpent float64

	branchRng *rngstream.RngStream
	durSrc    rand.Source
}

// createMachineInstance builds the runtime state for one machine at one
// endpoint.  The branch stream comes from the rngstream package, whose
// master seed the simulation reset, so creation order fixes the draws;
// the duration source is seeded from the run seed and the instance id
func createMachineInstance(def *Machine, id int, ep Endpoint, seed uint64) *MachineInstance {
	mi := new(MachineInstance)
	mi.Def = def
	mi.ID = id
	mi.Endpoint = ep
	mi.state = 0
	mi.active = true
	mi.branchRng = rngstream.New(def.Name + "@" + ep.String())
	mi.durSrc = rand.NewPCG(seed, uint64(id)+1)
	return mi
}

// evaluate feeds one trigger to the instance.  If the trigger moves the
// machine to a state (possibly the one it is in) any pending timer is
// replaced by the new state's timer.  The return reports the fire time
// and arming sequence of a newly armed timer, and whether one was
// armed.  Evaluation is total: a trigger the state does not react to
// returns no action rather than failing
func (mi *MachineInstance) evaluate(trigger TriggerEvent, now float64) (float64, int, bool) {
	if !mi.active {
		return 0.0, 0, false
	}
	branches, present := mi.Def.states[mi.state].trans[trigger.Code]
	if !present {
		return 0.0, 0, false
	}

	u01 := mi.branchRng.RandU01()
	total := 0.0
	to := -1
	for _, br := range branches {
		total += br.prob
		if u01 < total {
			to = br.to
			break
		}
	}
	if to < 0 {
		// residual probability mass: stay put, keep any pending timer
		return 0.0, 0, false
	}

	mi.state = to
	mi.timerSeq += 1
	mi.armed = false

	st := &mi.Def.states[to]
	if st.action == noAction {
		return 0.0, 0, false
	}

	mi.armed = true
	mi.timerAt = now + st.timeout.Sample(mi.durSrc)
	return mi.timerAt, mi.timerSeq, true
}

// fire pops the instance's pending timer.  Stale timers (the instance
// transitioned since arming) and budget-exhausted actions report no
// action; a zero-length blocking draw is a no-op as well
func (mi *MachineInstance) fire(seq int) (MachineAction, bool) {
	if !mi.active || !mi.armed || seq != mi.timerSeq {
		return MachineAction{}, false
	}
	mi.armed = false

	st := &mi.Def.states[mi.state]
	switch st.action {
	case padAction:
		if mi.Def.paddingBudget > 0 && mi.paddingSpent+st.pcktLen > mi.Def.paddingBudget {
			return MachineAction{}, false
		}
		mi.paddingSpent += st.pcktLen
		return MachineAction{Act: padAction, PcktLen: st.pcktLen}, true
	case blockAction:
		d := st.duration.Sample(mi.durSrc)
		if mi.Def.blockingBudget > 0.0 {
			remaining := mi.Def.blockingBudget - mi.blockingSpent
			if !(remaining > 0.0) {
				return MachineAction{}, false
			}
			if d > remaining {
				d = remaining
			}
		}
		if !(d > 0.0) {
			return MachineAction{}, false
		}
		mi.blockingSpent += d
		return MachineAction{Act: blockAction, BlockFor: d}, true
	case stopAction:
		mi.active = false
		return MachineAction{Act: stopAction}, true
	}
	return MachineAction{}, false
}
