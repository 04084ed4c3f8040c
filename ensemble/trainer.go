package ensemble

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
)

// TrainConfig tunes Train. Backend is required; everything else has a
// usable zero value except Size, which must be positive.
type TrainConfig struct {
	// Size is the number of ensemble members M.
	Size int

	// WithReplacement selects bootstrap bagging (round(N/M) draws per
	// member, samples may repeat) instead of a disjoint index partition.
	WithReplacement bool

	// Seed drives bootstrap sampling. Zero means seed 1. Disjoint splits
	// are deterministic and ignore it.
	Seed uint64

	// Backend fits the per-member models.
	Backend Backend

	// Logf, when non-nil, receives warning reports.
	Logf func(format string, args ...any)
}

// suggestedValue extracts a "name=value" hyperparameter suggestion from a
// fit-warning message.
var suggestedValue = regexp.MustCompile(`=\s*([0-9.eE+-]+)`)

// parseSuggestion pulls the suggested bound out of a warning message and
// sanity-checks it. The suggestion trails the message, so the last
// "name=value" pair wins when the text carries several. Out-of-range or
// unparsable values count as "no correction available".
func parseSuggestion(msg string) (float64, bool) {
	ms := suggestedValue.FindAllStringSubmatch(msg, -1)
	if len(ms) == 0 {
		return 0, false
	}
	m := ms[len(ms)-1]
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v < 1e-12 || v > 1e12 {
		return 0, false
	}
	return v, true
}

// bootstrapIndices draws k member subsets of round(n/k) indices each,
// sampling with replacement.
func bootstrapIndices(rng *rand.Rand, n, k int) [][]int {
	per := int(math.Round(float64(n) / float64(k)))
	if per < 1 {
		per = 1
	}
	groups := make([][]int, k)
	for g := range groups {
		idx := make([]int, per)
		for i := range idx {
			idx[i] = rng.IntN(n)
		}
		groups[g] = idx
	}
	return groups
}

// disjointIndices partitions [0, n) into k contiguous groups in index order.
// Group sizes differ by at most one; earlier groups take the extra sample.
func disjointIndices(n, k int) [][]int {
	base, rem := n/k, n%k
	groups := make([][]int, k)
	next := 0
	for g := range groups {
		size := base
		if g < rem {
			size++
		}
		idx := make([]int, size)
		for i := range idx {
			idx[i] = next
			next++
		}
		groups[g] = idx
	}
	return groups
}

// Train fits one ensemble for a single target variable.
//
// Each member is fit on its subset. When a fit returns a *FitWarning, the
// suggested corrected bound is parsed from the warning text and the fit is
// retried once with that bound; the retried model is kept even if it warns
// again. If no usable suggestion is found, or the backend cannot take a
// bound, the original model is kept. A hard fit error is not caught: it
// fails the whole ensemble atomically.
func Train(features [][]float64, targets []float64, cfg TrainConfig) (*Ensemble, error) {
	n := len(features)
	if n == 0 || n != len(targets) {
		return nil, fmt.Errorf("ensemble: %d feature rows for %d targets", n, len(targets))
	}
	dim := len(features[0])
	for i, row := range features {
		if len(row) != dim {
			return nil, fmt.Errorf("ensemble: feature row %d has dim %d, expected %d", i, len(row), dim)
		}
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("ensemble: size must be positive, got %d", cfg.Size)
	}
	if cfg.Size > n {
		return nil, fmt.Errorf("ensemble: size %d exceeds sample count %d", cfg.Size, n)
	}
	if cfg.Backend == nil {
		return nil, errors.New("ensemble: nil backend")
	}

	var groups [][]int
	if cfg.WithReplacement {
		seed := cfg.Seed
		if seed == 0 {
			seed = 1
		}
		rng := rand.New(rand.NewPCG(seed, seed+1))
		groups = bootstrapIndices(rng, n, cfg.Size)
	} else {
		groups = disjointIndices(n, cfg.Size)
	}

	models := make([]Model, cfg.Size)
	for g, idx := range groups {
		subX := make([][]float64, len(idx))
		subY := make([]float64, len(idx))
		for i, k := range idx {
			subX[i] = features[k]
			subY[i] = targets[k]
		}

		model, err := cfg.Backend.Fit(subX, subY)
		if err != nil {
			var warn *FitWarning
			if !errors.As(err, &warn) {
				return nil, fmt.Errorf("ensemble: member %d: %w", g, err)
			}
			if cfg.Logf != nil {
				cfg.Logf("[ensemble] member %d: %s", g, warn.Msg)
			}
			model = retryWithSuggestion(cfg, subX, subY, warn, model)
		}
		if model == nil {
			return nil, fmt.Errorf("ensemble: member %d: backend returned no model", g)
		}
		models[g] = model
	}

	return &Ensemble{Models: models, NumFeatures: dim}, nil
}

// retryWithSuggestion performs the one bounded retry for a warned fit and
// returns the model to keep. Never returns nil when original is non-nil.
func retryWithSuggestion(cfg TrainConfig, x [][]float64, y []float64, warn *FitWarning, original Model) Model {
	bound, ok := parseSuggestion(warn.Msg)
	if !ok {
		return original
	}
	bb, ok := cfg.Backend.(BoundedBackend)
	if !ok {
		return original
	}
	retried, err := bb.FitWithBound(x, y, bound)
	if err != nil {
		var again *FitWarning
		if errors.As(err, &again) && retried != nil {
			// a second warning is accepted as-is
			return retried
		}
		return original
	}
	if retried == nil {
		return original
	}
	return retried
}
