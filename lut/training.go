package lut

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// TrainingSet pairs noisy LUT spectra with one target-variable column from
// the sample set. It offers index-based batch access for the ensemble
// trainer and a gomlx dataset bridge (Yield/Restart) so gomlx training loops
// can consume LUT-derived data directly.
type TrainingSet struct {
	// Features holds one spectrum per sample.
	Features [][]float64

	// Targets holds the target-variable value per sample.
	Targets []float64

	// BatchSize used by Yield. Defaults to 32.
	BatchSize int

	cursor int
}

// NewTrainingSet validates that features and targets line up row-for-row.
func NewTrainingSet(features [][]float64, targets []float64) (*TrainingSet, error) {
	if len(features) != len(targets) {
		return nil, fmt.Errorf("lut: %d feature rows for %d targets", len(features), len(targets))
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("lut: empty training set")
	}
	dim := len(features[0])
	for i, row := range features {
		if len(row) != dim {
			return nil, fmt.Errorf("lut: feature row %d has dim %d, expected %d", i, len(row), dim)
		}
	}
	return &TrainingSet{Features: features, Targets: targets, BatchSize: 32}, nil
}

// Len returns the number of examples.
func (t *TrainingSet) Len() int { return len(t.Targets) }

// Example returns the feature vector and target for one index.
func (t *TrainingSet) Example(i int) ([]float64, float64, error) {
	if i < 0 || i >= t.Len() {
		return nil, 0, fmt.Errorf("lut: index %d out of range [0, %d)", i, t.Len())
	}
	return t.Features[i], t.Targets[i], nil
}

// Batch gathers features and targets for the given indices.
func (t *TrainingSet) Batch(indices []int) ([][]float64, []float64, error) {
	feats := make([][]float64, len(indices))
	targs := make([]float64, len(indices))
	for pos, idx := range indices {
		f, y, err := t.Example(idx)
		if err != nil {
			return nil, nil, err
		}
		feats[pos] = f
		targs[pos] = y
	}
	return feats, targs, nil
}

// Tensors converts a batch of examples into gomlx tensors: a [batch, dim]
// float32 input tensor and a [batch, 1] label tensor.
func (t *TrainingSet) Tensors(indices []int) (inputs, labels *tensors.Tensor, err error) {
	feats, targs, err := t.Batch(indices)
	if err != nil {
		return nil, nil, err
	}
	in := make([][]float32, len(feats))
	lab := make([][]float32, len(feats))
	for i, row := range feats {
		fr := make([]float32, len(row))
		for j, v := range row {
			fr[j] = float32(v)
		}
		in[i] = fr
		lab[i] = []float32{float32(targs[i])}
	}
	return tensors.FromAnyValue(in), tensors.FromAnyValue(lab), nil
}

// Name identifies the dataset in gomlx training logs.
func (t *TrainingSet) Name() string { return "ReflectanceTrainingSet" }

// Yield returns the next batch as gomlx tensors, advancing an internal
// cursor. It reports io.EOF when the epoch is exhausted; Restart begins a
// new epoch.
func (t *TrainingSet) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if t.cursor >= t.Len() {
		return nil, nil, nil, io.EOF
	}
	bs := t.BatchSize
	if bs <= 0 {
		bs = 32
	}
	end := t.cursor + bs
	if end > t.Len() {
		end = t.Len()
	}
	indices := make([]int, 0, end-t.cursor)
	for i := t.cursor; i < end; i++ {
		indices = append(indices, i)
	}
	t.cursor = end

	in, lab, err := t.Tensors(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{in}, []*tensors.Tensor{lab}, nil
}

// Restart resets the epoch cursor.
func (t *TrainingSet) Restart() error {
	t.cursor = 0
	return nil
}
