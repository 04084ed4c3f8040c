// Package lut builds synthetic reflectance look-up tables by driving a
// forward radiative-transfer simulator over a sampled parameter set, and
// derives the noisy per-target variants used for training.
package lut

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/geospectra/hybridinv/sampler"
)

// Simulator maps one parameter vector to a reflectance spectrum. It must be
// pure and deterministic given the parameters and a fixed sensor/optical
// configuration; rows of a LUT build may be simulated concurrently.
type Simulator interface {
	Simulate(params map[string]float64) ([]float64, error)
}

// SimulatorFunc adapts a plain function to the Simulator interface.
type SimulatorFunc func(params map[string]float64) ([]float64, error)

// Simulate implements Simulator.
func (f SimulatorFunc) Simulate(params map[string]float64) ([]float64, error) {
	return f(params)
}

// LUT is a reflectance matrix tied 1:1 by row index to the sample set it was
// built from: Spectra[i] is the spectrum simulated from sample row i.
type LUT struct {
	BandNames []string
	Spectra   [][]float64 // one row per sample, one column per band
}

// Bands returns the spectral band count.
func (l *LUT) Bands() int { return len(l.BandNames) }

// Len returns the number of samples.
func (l *LUT) Len() int { return len(l.Spectra) }

// BuildOptions tunes Build. The zero value is usable.
type BuildOptions struct {
	// Workers bounds concurrent simulator calls. <= 0 means sequential.
	Workers int

	// BandNames labels the spectrum columns. If empty, names b0..bN-1 are
	// generated from the first simulated spectrum.
	BandNames []string

	// Logf, when non-nil, receives progress lines.
	Logf func(format string, args ...any)
}

// Build invokes sim once per sample row and assembles the LUT. Rows are
// independent, so they are simulated concurrently up to opts.Workers; results
// are written by row index, keeping the 1:1 sample/spectrum pairing stable
// regardless of completion order.
func Build(ctx context.Context, sim Simulator, set *sampler.SampleSet, opts BuildOptions) (*LUT, error) {
	if sim == nil {
		return nil, errors.New("lut: nil simulator")
	}
	if set == nil || set.Len() == 0 {
		return nil, errors.New("lut: empty sample set")
	}

	spectra := make([][]float64, set.Len())
	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 1 {
		g.SetLimit(opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for k := range set.Values {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			params := make(map[string]float64, len(set.Names))
			for j, name := range set.Names {
				params[name] = set.Values[k][j]
			}
			spec, err := sim.Simulate(params)
			if err != nil {
				return fmt.Errorf("lut: simulate row %d: %w", k, err)
			}
			spectra[k] = spec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bands := len(spectra[0])
	for k, row := range spectra {
		if len(row) != bands {
			return nil, fmt.Errorf("lut: row %d has %d bands, expected %d", k, len(row), bands)
		}
	}
	names := opts.BandNames
	if len(names) == 0 {
		names = make([]string, bands)
		for j := range names {
			names[j] = fmt.Sprintf("b%d", j)
		}
	} else if len(names) != bands {
		return nil, fmt.Errorf("lut: %d band names for %d simulated bands", len(names), bands)
	}
	if opts.Logf != nil {
		opts.Logf("[lut] simulated %d spectra of %d bands", len(spectra), bands)
	}
	return &LUT{BandNames: names, Spectra: spectra}, nil
}

// NoiseKind selects how ApplyNoise perturbs values.
type NoiseKind int

const (
	// Relative multiplies each value by (1 + Normal(0, level)).
	Relative NoiseKind = iota
	// Absolute adds Normal(0, level) to each value.
	Absolute
)

func (k NoiseKind) String() string {
	switch k {
	case Relative:
		return "relative"
	case Absolute:
		return "absolute"
	default:
		return fmt.Sprintf("NoiseKind(%d)", int(k))
	}
}

// ErrBandSubset reports a band subset referencing bands outside the LUT.
var ErrBandSubset = errors.New("lut: band subset out of range")

// ApplyNoise returns a noisy copy of l restricted to the given band subset.
// A nil subset keeps all bands. The input LUT is never modified, and a noise
// level of zero returns values identical to the input. Each target variable
// gets its own call, so noise realisations are independent per target.
func ApplyNoise(l *LUT, bands []int, level float64, kind NoiseKind, seed uint64) (*LUT, error) {
	if level < 0 {
		return nil, fmt.Errorf("lut: negative noise level %g", level)
	}
	if kind != Relative && kind != Absolute {
		return nil, fmt.Errorf("lut: unknown noise kind %d", int(kind))
	}
	if bands == nil {
		bands = make([]int, l.Bands())
		for j := range bands {
			bands[j] = j
		}
	}
	for _, b := range bands {
		if b < 0 || b >= l.Bands() {
			return nil, fmt.Errorf("%w: band %d of %d", ErrBandSubset, b, l.Bands())
		}
	}

	if seed == 0 {
		seed = 1
	}
	noise := distuv.Normal{Mu: 0, Sigma: level, Src: rand.NewPCG(seed, seed+1)}

	names := make([]string, len(bands))
	for j, b := range bands {
		names[j] = l.BandNames[b]
	}
	out := make([][]float64, l.Len())
	for i, row := range l.Spectra {
		dst := make([]float64, len(bands))
		for j, b := range bands {
			v := row[b]
			if level > 0 {
				switch kind {
				case Relative:
					v *= 1 + noise.Rand()
				case Absolute:
					v += noise.Rand()
				}
			}
			dst[j] = v
		}
		out[i] = dst
	}
	return &LUT{BandNames: names, Spectra: out}, nil
}
