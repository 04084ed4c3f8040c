// Package sampler draws biophysical and geometric parameter vectors from
// per-parameter distribution specs. The resulting sample sets feed the LUT
// builder, which pairs each row with a simulated reflectance spectrum.
package sampler

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution selects how values for one parameter are drawn.
type Distribution int

const (
	// Uniform draws independently and uniformly in [Min, Max].
	Uniform Distribution = iota
	// Gaussian draws from Normal(Mean, Std). Draws are not clipped to
	// [Min, Max]; the bounds are kept as descriptive metadata only.
	Gaussian
)

func (d Distribution) String() string {
	switch d {
	case Uniform:
		return "uniform"
	case Gaussian:
		return "gaussian"
	default:
		return fmt.Sprintf("Distribution(%d)", int(d))
	}
}

// MarshalJSON encodes the distribution as its lowercase name.
func (d Distribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "uniform" or "gaussian" (case-insensitive).
func (d *Distribution) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uniform":
		*d = Uniform
	case "gaussian", "normal":
		*d = Gaussian
	default:
		return fmt.Errorf("unknown distribution %q", s)
	}
	return nil
}

// Spec describes how a single parameter is sampled. A non-nil Fixed value
// overrides the distribution entirely: every row receives that value.
type Spec struct {
	Dist  Distribution `json:"dist"`
	Min   float64      `json:"min"`
	Max   float64      `json:"max"`
	Mean  *float64     `json:"mean,omitempty"`
	Std   *float64     `json:"std,omitempty"`
	Fixed *float64     `json:"fixed,omitempty"`
}

// ConfigError reports an invalid parameter spec. It is always fatal and is
// returned before any sampling work begins.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sampler: parameter %q: %s", e.Param, e.Reason)
}

// Config collects everything Sample needs. Zero values are filled with
// defaults by Sample where sensible (column order defaults to sorted names).
type Config struct {
	// Specs maps parameter name to its sampling spec. Every parameter the
	// forward simulator consumes must appear exactly once.
	Specs map[string]Spec

	// Names fixes the column order of the produced sample set. If empty,
	// the spec keys are used in sorted order.
	Names []string

	// N is the number of parameter vectors to draw.
	N int

	// Seed makes sampling reproducible. Zero means seed 1.
	Seed uint64

	// SecondLayer enables the secondary canopy-layer mode: a derived
	// coverage-fraction column is appended and LAI is rescaled by it.
	SecondLayer bool
}

// SampleSet is an ordered sequence of parameter vectors, one column per
// parameter name. It is produced once per LUT build and never mutated after.
type SampleSet struct {
	Names  []string
	Values [][]float64 // N rows, len(Names) columns
}

// Len returns the number of parameter vectors in the set.
func (s *SampleSet) Len() int { return len(s.Values) }

// Column returns a copy of the named column, or false if absent.
func (s *SampleSet) Column(name string) ([]float64, bool) {
	for j, n := range s.Names {
		if n == name {
			col := make([]float64, len(s.Values))
			for i, row := range s.Values {
				col[i] = row[j]
			}
			return col, true
		}
	}
	return nil, false
}

// CoverName is the column appended in second-layer mode.
const CoverName = "cover"

// fval returns a pointer to v, for building fixed specs inline.
func fval(v float64) *float64 { return &v }

// DefaultSpecs returns the conventional PROSAIL sampling table. The map is
// freshly allocated on every call so callers can adjust entries freely.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		"n":      {Dist: Uniform, Min: 1.0, Max: 2.5},
		"cab":    {Dist: Uniform, Min: 0, Max: 80},
		"car":    {Dist: Uniform, Min: 0, Max: 15},
		"cbrown": {Dist: Uniform, Min: 0, Max: 1, Fixed: fval(0)},
		"cw":     {Dist: Uniform, Min: 0.002, Max: 0.05},
		"cm":     {Dist: Uniform, Min: 0.002, Max: 0.02},
		"lai":    {Dist: Uniform, Min: 0.1, Max: 7},
		"alia":   {Dist: Uniform, Min: 20, Max: 70},
		"hspot":  {Dist: Uniform, Min: 0.01, Max: 0.5, Fixed: fval(0.01)},
		"psoil":  {Dist: Uniform, Min: 0, Max: 1},
		"tts":    {Dist: Uniform, Min: 0, Max: 70, Fixed: fval(30)},
		"tto":    {Dist: Uniform, Min: 0, Max: 30, Fixed: fval(0)},
		"psi":    {Dist: Uniform, Min: 0, Max: 180, Fixed: fval(0)},
	}
}

// validate checks one spec. Fixed specs are always valid.
func validate(name string, sp Spec) error {
	if sp.Fixed != nil {
		return nil
	}
	switch sp.Dist {
	case Uniform:
		if sp.Min >= sp.Max {
			return &ConfigError{Param: name, Reason: fmt.Sprintf("uniform requires min < max, got [%g, %g]", sp.Min, sp.Max)}
		}
	case Gaussian:
		if sp.Mean == nil || sp.Std == nil {
			return &ConfigError{Param: name, Reason: "gaussian requires mean and std"}
		}
	default:
		return &ConfigError{Param: name, Reason: fmt.Sprintf("unknown distribution %d", int(sp.Dist))}
	}
	return nil
}

// Sample draws cfg.N parameter vectors according to cfg.Specs.
//
// Gaussian parameters are intentionally not clipped to [Min, Max]: the
// domain convention allows physically plausible excursions past the nominal
// bounds, and downstream consumers must tolerate them.
//
// In second-layer mode a coverage fraction is derived per row from LAI via
// the gap-fraction relation 1-exp(-0.5*LAI), perturbed by multiplicative
// Normal(1, 0.1) noise, clamped to [0, 1], and only then used to rescale
// LAI. The clamp-before-rescale order is load-bearing.
func Sample(cfg Config) (*SampleSet, error) {
	if cfg.N <= 0 {
		return nil, &ConfigError{Param: "", Reason: fmt.Sprintf("sample count must be positive, got %d", cfg.N)}
	}
	names := cfg.Names
	if len(names) == 0 {
		names = make([]string, 0, len(cfg.Specs))
		for name := range cfg.Specs {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		sp, ok := cfg.Specs[name]
		if !ok {
			return nil, &ConfigError{Param: name, Reason: "no spec entry"}
		}
		if err := validate(name, sp); err != nil {
			return nil, err
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	src := rand.NewPCG(seed, seed+1)

	cols := make([][]float64, len(names))
	for j, name := range names {
		sp := cfg.Specs[name]
		col := make([]float64, cfg.N)
		switch {
		case sp.Fixed != nil:
			for i := range col {
				col[i] = *sp.Fixed
			}
		case sp.Dist == Uniform:
			u := distuv.Uniform{Min: sp.Min, Max: sp.Max, Src: src}
			for i := range col {
				col[i] = u.Rand()
			}
		case sp.Dist == Gaussian:
			n := distuv.Normal{Mu: *sp.Mean, Sigma: *sp.Std, Src: src}
			for i := range col {
				col[i] = n.Rand()
			}
		}
		cols[j] = col
	}

	if cfg.SecondLayer {
		laiIdx := -1
		for j, n := range names {
			if n == "lai" {
				laiIdx = j
			}
		}
		if laiIdx < 0 {
			return nil, &ConfigError{Param: "lai", Reason: "second-layer mode requires an lai parameter"}
		}
		noise := distuv.Normal{Mu: 1, Sigma: 0.1, Src: src}
		cover := make([]float64, cfg.N)
		lai := cols[laiIdx]
		for i := range cover {
			c := (1 - math.Exp(-0.5*lai[i])) * noise.Rand()
			// clamp coverage before rescaling LAI
			if c < 0 {
				c = 0
			} else if c > 1 {
				c = 1
			}
			cover[i] = c
			lai[i] *= c
		}
		names = append(append([]string{}, names...), CoverName)
		cols = append(cols, cover)
	}

	rows := make([][]float64, cfg.N)
	for i := range rows {
		row := make([]float64, len(names))
		for j := range names {
			row[j] = cols[j][i]
		}
		rows[i] = row
	}
	return &SampleSet{Names: names, Values: rows}, nil
}
