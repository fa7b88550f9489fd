package padsim

// file desc-mach.go holds structs, methods, and data structures
// supporting the construction of and access to machine definitions ---
// the finite-state traffic-shaping policies run at the simulated
// endpoints --- and the run parameters of a simulation experiment.
// Serialization to json or to yaml is selected by file name extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// An ActionDesc describes what a machine state does when its timer
// fires: inject a padding packet ("pad"), hold outgoing traffic for a
// drawn duration ("block"), freeze the machine ("stop"), or nothing at
// all ("none" or empty)
type ActionDesc struct {
	Type     string   `json:"type" yaml:"type"`
	PcktLen  int      `json:"pcktlen,omitempty" yaml:"pcktlen,omitempty"`
	Duration DistDesc `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// A TransitionDesc names a trigger that can move the machine out of a
// state, the state it moves to, and the probability of taking the move.
// The probabilities of all transitions leaving one state on the same
// trigger sum to at most 1; residual mass means the machine stays put
type TransitionDesc struct {
	When string  `json:"when" yaml:"when"`
	To   string  `json:"to" yaml:"to"`
	Prob float64 `json:"prob" yaml:"prob"`
}

// A StateDesc describes one state of a machine definition.  Timeout is
// the delay between entering the state and its action firing
type StateDesc struct {
	Name        string           `json:"name" yaml:"name"`
	Action      ActionDesc       `json:"action,omitempty" yaml:"action,omitempty"`
	Timeout     DistDesc         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Transitions []TransitionDesc `json:"transitions" yaml:"transitions"`
}

// A MachineDesc describes a complete machine.  The first state listed
// is the start state.  PaddingBudget bounds the bytes of padding the
// machine may inject and BlockingBudget the seconds of blocking it may
// impose; zero means unbounded
type MachineDesc struct {
	Name           string      `json:"name" yaml:"name"`
	PaddingBudget  int         `json:"paddingbudget,omitempty" yaml:"paddingbudget,omitempty"`
	BlockingBudget float64     `json:"blockingbudget,omitempty" yaml:"blockingbudget,omitempty"`
	States         []StateDesc `json:"states" yaml:"states"`
}

// A MachineCfg holds a list of machine definitions read in together
type MachineCfg struct {
	CfgName  string        `json:"cfgname" yaml:"cfgname"`
	Machines []MachineDesc `json:"machines" yaml:"machines"`
}

// CreateMachineCfg is an initialization constructor.
// Its output struct has methods for integrating data.
func CreateMachineCfg(cfgname string) *MachineCfg {
	mc := new(MachineCfg)
	mc.CfgName = cfgname
	mc.Machines = make([]MachineDesc, 0)
	return mc
}

// AddMachine includes a machine description in the configuration
func (mc *MachineCfg) AddMachine(md *MachineDesc) {
	mc.Machines = append(mc.Machines, *md)
}

// WriteToFile stores the MachineCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (mc *MachineCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*mc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*mc, "", "\t")
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
	return nil
}

// ReadMachineCfg deserializes a byte slice holding a representation of
// a MachineCfg struct.  If the input argument of dict (those bytes) is
// empty, the file whose name is given is read to acquire them
func ReadMachineCfg(filename string, useYAML bool, dict []byte) (*MachineCfg, error) {
	var err error

	// read from the file only if the byte slice is empty
	// validate input file name
	if len(dict) == 0 {
		fileInfo, err := os.Stat(filename)
		if os.IsNotExist(err) || fileInfo.IsDir() {
			msg := fmt.Sprintf("machine configuration %s does not exist or cannot be read", filename)
			return nil, errors.New(msg)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}
	example := MachineCfg{}

	// extension of input file name indicates whether we are deserializing json or yaml
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}

	return &example, nil
}

// A SimCfg gathers the run parameters of an experiment: the one-way
// propagation delay (in seconds), the recorded-event limit, the master
// seed, the output filters, and the names of the machines run at each
// endpoint (resolved against the loaded machine configuration)
type SimCfg struct {
	ExpName        string   `json:"expname" yaml:"expname"`
	Delay          float64  `json:"delay" yaml:"delay"`
	Limit          int      `json:"limit" yaml:"limit"`
	Seed           uint64   `json:"seed" yaml:"seed"`
	Settle         bool     `json:"settle,omitempty" yaml:"settle,omitempty"`
	PcktsOnly      bool     `json:"pcktsonly,omitempty" yaml:"pcktsonly,omitempty"`
	ClientOnly     bool     `json:"clientonly,omitempty" yaml:"clientonly,omitempty"`
	ClientMachines []string `json:"clientmachines" yaml:"clientmachines"`
	ServerMachines []string `json:"servermachines" yaml:"servermachines"`
}

// WriteToFile stores the SimCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sc *SimCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*sc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*sc, "", "\t")
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
	return nil
}

// ReadSimCfg deserializes a byte slice holding a representation of a
// SimCfg struct, reading the named file for the bytes when the slice
// offered is empty
func ReadSimCfg(filename string, useYAML bool, dict []byte) (*SimCfg, error) {
	var err error

	if len(dict) == 0 {
		fileInfo, err := os.Stat(filename)
		if os.IsNotExist(err) || fileInfo.IsDir() {
			msg := fmt.Sprintf("simulation configuration %s does not exist or cannot be read", filename)
			return nil, errors.New(msg)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}
	example := SimCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}

	return &example, nil
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated descriptions
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}
