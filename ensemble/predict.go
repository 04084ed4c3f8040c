package ensemble

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Prediction holds the per-sample ensemble aggregate for one target
// variable. Std is the sample (N-1) standard deviation across the member
// predictions: an uncertainty signal, not a calibrated confidence interval.
type Prediction struct {
	Mean []float64
	Std  []float64
}

// transpose flips a feature-major batch into sample-major order.
func transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([][]float64, len(m[0]))
	for i := range out {
		out[i] = make([]float64, len(m))
	}
	for i := range m {
		for j := range m[i] {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// Predict applies every member to the batch and aggregates mean and std per
// sample. The batch must be sample-major with the trained dimensionality; a
// feature-major batch is corrected with a single transpose attempt, after
// which a mismatch is a ShapeError. Cost is O(M x batch); nothing is cached
// across calls.
func (e *Ensemble) Predict(features [][]float64) (*Prediction, error) {
	if e.Size() == 0 {
		return nil, fmt.Errorf("ensemble: empty ensemble")
	}
	if len(features) == 0 {
		return &Prediction{}, nil
	}
	if len(features[0]) != e.NumFeatures {
		got := len(features[0])
		if len(features) == e.NumFeatures {
			features = transpose(features)
		}
		if len(features) == 0 || len(features[0]) != e.NumFeatures {
			return nil, &ShapeError{Got: got, Want: e.NumFeatures}
		}
	}

	// fixed-length member matrix, indexed by member so ordering is stable
	memberPreds := make([][]float64, e.Size())
	for m, model := range e.Models {
		p, err := model.PredictBatch(features)
		if err != nil {
			return nil, fmt.Errorf("ensemble: member %d predict: %w", m, err)
		}
		if len(p) != len(features) {
			return nil, fmt.Errorf("ensemble: member %d returned %d predictions for %d samples", m, len(p), len(features))
		}
		memberPreds[m] = p
	}

	nSamples := len(features)
	mean := make([]float64, nSamples)
	std := make([]float64, nSamples)
	scratch := make([]float64, e.Size())
	for i := 0; i < nSamples; i++ {
		for m := range memberPreds {
			scratch[m] = memberPreds[m][i]
		}
		mean[i] = stat.Mean(scratch, nil)
		if e.Size() > 1 {
			std[i] = stat.StdDev(scratch, nil)
		}
	}
	return &Prediction{Mean: mean, Std: std}, nil
}
