// Package padsim simulates the effect of traffic-shaping machines on
// recorded packet traces.  A machine is a probabilistic finite-state
// policy that reacts to the packet events it observes at one endpoint
// of a connection by injecting padding packets, blocking outgoing
// traffic for a stretch of time, or shutting itself down.  The
// simulator replays a recorded base trace between a client and a
// server joined by a fixed-delay link, runs machine instances at
// either endpoint, and reports the trace an observer of the shaped
// connection would capture
package padsim

// padsim.go has code that assembles a simulation from its input files

import (
	"fmt"
	"path"
)

// MachineDescByName maps a machine name to its description, for lookup
// when a simulation configuration names the machines it runs
var MachineDescByName map[string]*MachineDesc = make(map[string]*MachineDesc)

// LoadMachines reads in a machine configuration file and indexes the
// machine descriptions it holds by name in MachineDescByName
func LoadMachines(machineFile string) error {
	empty := make([]byte, 0)
	ext := path.Ext(machineFile)
	useYAML := (ext == ".yaml") || (ext == ".yml")

	mc, err := ReadMachineCfg(machineFile, useYAML, empty)
	if err != nil {
		return err
	}

	for idx := range mc.Machines {
		md := &mc.Machines[idx]
		_, present := MachineDescByName[md.Name]
		if present {
			return fmt.Errorf("machine name %s defined more than once", md.Name)
		}
		MachineDescByName[md.Name] = md
	}
	return nil
}

// LoadSim reads in a simulation configuration file and expresses it as
// a SimConfig, resolving the machine names it carries against
// MachineDescByName
func LoadSim(simFile string) (SimConfig, error) {
	empty := make([]byte, 0)
	ext := path.Ext(simFile)
	useYAML := (ext == ".yaml") || (ext == ".yml")

	sc, err := ReadSimCfg(simFile, useYAML, empty)
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{Delay: sc.Delay, Limit: sc.Limit, Seed: sc.Seed,
		Settle: sc.Settle, PcktsOnly: sc.PcktsOnly, ClientOnly: sc.ClientOnly}

	errs := []error{}
	cfg.ClientMachines, err = resolveMachines(sc.ClientMachines)
	errs = append(errs, err)
	cfg.ServerMachines, err = resolveMachines(sc.ServerMachines)
	errs = append(errs, err)

	return cfg, ReportErrs(errs)
}

// resolveMachines turns a list of machine names into the descriptions
// they name
func resolveMachines(names []string) ([]*MachineDesc, error) {
	descList := make([]*MachineDesc, 0, len(names))
	for _, name := range names {
		md, present := MachineDescByName[name]
		if !present {
			return nil, fmt.Errorf("machine %s is not defined", name)
		}
		descList = append(descList, md)
	}
	return descList, nil
}

// BuildExperiment bundles the functions of LoadMachines and LoadSim.
// dictFiles maps the file type key ("machines", "sim") to the name of
// the file holding that input
func BuildExperiment(dictFiles map[string]string) (*Simulation, error) {
	machineFile := dictFiles["machines"]
	simFile := dictFiles["sim"]

	err1 := LoadMachines(machineFile)
	cfg, err2 := LoadSim(simFile)

	err := ReportErrs([]error{err1, err2})
	if err != nil {
		return nil, err
	}
	return CreateSimulation(cfg)
}
