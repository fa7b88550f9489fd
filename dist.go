package padsim

// dist.go holds the representation of the bounded probability
// distributions that machine definitions draw timeouts and blocking
// durations from.  Sampling rides on the gonum distuv distributions;
// every draw takes an explicit random source so that a run is fully
// determined by its seed

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// A DistDesc describes a distribution in a machine definition file.
// The meaning of Param1 and Param2 depends on Dist: (min,max) for
// uniform, (mu,sigma) for normal and lognormal, (rate,-) for exp,
// (k,lambda) for weibull, (alpha,beta) for gamma, (xm,alpha) for
// pareto, (lambda,-) for poisson.  Start shifts every draw, Max (when
// positive) caps it
type DistDesc struct {
	Dist   string  `json:"dist" yaml:"dist"`
	Param1 float64 `json:"param1" yaml:"param1"`
	Param2 float64 `json:"param2" yaml:"param2"`
	Start  float64 `json:"start,omitempty" yaml:"start,omitempty"`
	Max    float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

type distType int

const (
	noDist distType = iota
	uniformDist
	normalDist
	logNormalDist
	expDist
	weibullDist
	gammaDist
	paretoDist
	poissonDist
)

// distByName maps the name used in definition files to the enumeration.
// An empty name means no distribution at all, which is legal wherever a
// distribution is optional
var distByName map[string]distType = map[string]distType{
	"": noDist, "none": noDist,
	"uniform": uniformDist, "normal": normalDist, "lognormal": logNormalDist,
	"exp": expDist, "weibull": weibullDist, "gamma": gammaDist,
	"pareto": paretoDist, "poisson": poissonDist}

// Dist is the compiled, validated form of a DistDesc
type Dist struct {
	kind           distType
	param1, param2 float64
	start, max     float64
}

// compileDist validates a distribution description and returns its
// compiled form.  Parameter problems are configuration errors caught
// here, before any simulation event is scheduled
func compileDist(dd DistDesc) (Dist, error) {
	kind, present := distByName[dd.Dist]
	if !present {
		return Dist{}, fmt.Errorf("unrecognized distribution %q", dd.Dist)
	}

	switch kind {
	case uniformDist:
		if dd.Param2 < dd.Param1 {
			return Dist{}, fmt.Errorf("uniform distribution has max %g below min %g", dd.Param2, dd.Param1)
		}
	case normalDist, logNormalDist:
		if dd.Param2 < 0.0 {
			return Dist{}, fmt.Errorf("distribution %s has negative sigma %g", dd.Dist, dd.Param2)
		}
	case expDist:
		if !(dd.Param1 > 0.0) {
			return Dist{}, fmt.Errorf("exp distribution needs a positive rate, has %g", dd.Param1)
		}
	case weibullDist, gammaDist, paretoDist:
		if !(dd.Param1 > 0.0) || !(dd.Param2 > 0.0) {
			return Dist{}, fmt.Errorf("distribution %s needs positive parameters, has (%g,%g)",
				dd.Dist, dd.Param1, dd.Param2)
		}
	case poissonDist:
		if !(dd.Param1 > 0.0) {
			return Dist{}, fmt.Errorf("poisson distribution needs a positive lambda, has %g", dd.Param1)
		}
	}

	if dd.Max < 0.0 || dd.Start < 0.0 {
		return Dist{}, fmt.Errorf("distribution %s has negative start or max", dd.Dist)
	}

	return Dist{kind: kind, param1: dd.Param1, param2: dd.Param2, start: dd.Start, max: dd.Max}, nil
}

// defined tells whether the description actually named a distribution
func (d Dist) defined() bool {
	return d.kind != noDist
}

// Sample draws one value from the distribution using the given source.
// Draws are shifted by start, capped at max when max is positive, and
// never negative
func (d Dist) Sample(src rand.Source) float64 {
	var value float64

	switch d.kind {
	case noDist:
		value = 0.0
	case uniformDist:
		value = distuv.Uniform{Min: d.param1, Max: d.param2, Src: src}.Rand()
	case normalDist:
		value = distuv.Normal{Mu: d.param1, Sigma: d.param2, Src: src}.Rand()
	case logNormalDist:
		value = distuv.LogNormal{Mu: d.param1, Sigma: d.param2, Src: src}.Rand()
	case expDist:
		value = distuv.Exponential{Rate: d.param1, Src: src}.Rand()
	case weibullDist:
		value = distuv.Weibull{K: d.param1, Lambda: d.param2, Src: src}.Rand()
	case gammaDist:
		value = distuv.Gamma{Alpha: d.param1, Beta: d.param2, Src: src}.Rand()
	case paretoDist:
		value = distuv.Pareto{Xm: d.param1, Alpha: d.param2, Src: src}.Rand()
	case poissonDist:
		value = distuv.Poisson{Lambda: d.param1, Src: src}.Rand()
	}

	value += d.start
	if d.max > 0.0 && value > d.max {
		value = d.max
	}
	if value < 0.0 {
		value = 0.0
	}
	return value
}
