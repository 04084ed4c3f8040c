package ensemble

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

func init() {
	// bundles persist ensembles through gob; the concrete model type must
	// be registered for the Model interface fields to round-trip
	gob.Register(&RidgeModel{})
}

// defaultLambdas is the default regularization search grid, log-spaced.
func defaultLambdas() []float64 {
	return []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, 10, 100}
}

// RidgeBackend fits linear ridge regressions with the regularization
// strength selected from a log-spaced grid by hold-out validation. When the
// selected strength sits on the grid edge, Fit returns the model together
// with a *FitWarning carrying a suggested expanded bound, which the trainer
// may feed back through FitWithBound.
type RidgeBackend struct {
	// Lambdas overrides the default search grid.
	Lambdas []float64

	// HoldoutFraction of samples (taken from the end, index order) used to
	// score grid candidates. Defaults to 0.2. Grids are not searched when
	// the holdout would be empty; the middle grid value is used instead.
	HoldoutFraction float64
}

// RidgeModel is a fitted linear ridge regression with feature
// standardization folded in. All fields are exported for gob.
type RidgeModel struct {
	Weights   []float64
	Intercept float64
	Mean      []float64
	Scale     []float64
	Lambda    float64
}

// NumFeatures implements Model.
func (m *RidgeModel) NumFeatures() int { return len(m.Weights) }

// PredictBatch implements Model.
func (m *RidgeModel) PredictBatch(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.Weights) {
			return nil, &ShapeError{Got: len(row), Want: len(m.Weights)}
		}
		v := m.Intercept
		for j, x := range row {
			v += m.Weights[j] * (x - m.Mean[j]) / m.Scale[j]
		}
		out[i] = v
	}
	return out, nil
}

// Fit implements Backend.
func (b *RidgeBackend) Fit(features [][]float64, targets []float64) (Model, error) {
	grid := b.Lambdas
	if len(grid) == 0 {
		grid = defaultLambdas()
	}
	return b.fit(features, targets, grid, true)
}

// FitWithBound implements BoundedBackend: the grid is extended with the
// corrected bound so the boundary value can actually win the search.
func (b *RidgeBackend) FitWithBound(features [][]float64, targets []float64, bound float64) (Model, error) {
	grid := b.Lambdas
	if len(grid) == 0 {
		grid = defaultLambdas()
	}
	extended := append(append([]float64{}, grid...), bound)
	return b.fit(features, targets, extended, false)
}

func (b *RidgeBackend) fit(features [][]float64, targets []float64, grid []float64, warnOnEdge bool) (Model, error) {
	n := len(features)
	if n == 0 || n != len(targets) {
		return nil, fmt.Errorf("ridge: %d feature rows for %d targets", n, len(targets))
	}
	d := len(features[0])
	if d == 0 {
		return nil, errors.New("ridge: zero-dimensional features")
	}
	for i, row := range features {
		if len(row) != d {
			return nil, fmt.Errorf("ridge: feature row %d has dim %d, expected %d", i, len(row), d)
		}
	}

	mean, scale := standardMoments(features)
	z := standardize(features, mean, scale)
	yMean := 0.0
	for _, v := range targets {
		yMean += v
	}
	yMean /= float64(n)
	yc := make([]float64, n)
	for i, v := range targets {
		yc[i] = v - yMean
	}

	frac := b.HoldoutFraction
	if frac <= 0 || frac >= 1 {
		frac = 0.2
	}
	nVal := int(float64(n) * frac)

	var lambda float64
	var edge bool
	if nVal < 1 || n-nVal < d+1 {
		// too few samples to search; take the grid middle, no warning
		lambda = grid[len(grid)/2]
	} else {
		nTrain := n - nVal
		best, bestErr := -1, math.Inf(1)
		for gi, l := range grid {
			w, err := solveRidge(z[:nTrain], yc[:nTrain], l)
			if err != nil {
				continue
			}
			mse := 0.0
			for i := nTrain; i < n; i++ {
				p := dot(w, z[i])
				r := p - yc[i]
				mse += r * r
			}
			if mse < bestErr {
				best, bestErr = gi, mse
			}
		}
		if best < 0 {
			return nil, errors.New("ridge: no regularization candidate produced a solvable system")
		}
		lambda = grid[best]
		edge = best == 0 || best == len(grid)-1
	}

	w, err := solveRidge(z, yc, lambda)
	if err != nil {
		return nil, err
	}
	model := &RidgeModel{
		Weights:   w,
		Intercept: yMean,
		Mean:      mean,
		Scale:     scale,
		Lambda:    lambda,
	}
	if warnOnEdge && edge {
		suggested := lambda / 10
		if lambda == grid[len(grid)-1] {
			suggested = lambda * 10
		}
		return model, &FitWarning{Msg: fmt.Sprintf("ridge: regularization hit search boundary %g; suggested lambda=%g", lambda, suggested)}
	}
	return model, nil
}

// solveRidge solves (Z'Z + lambda*I) w = Z'y by Cholesky.
func solveRidge(z [][]float64, y []float64, lambda float64) ([]float64, error) {
	n, d := len(z), len(z[0])
	flat := make([]float64, n*d)
	for i, row := range z {
		copy(flat[i*d:], row)
	}
	Z := mat.NewDense(n, d, flat)

	var g mat.Dense
	g.Mul(Z.T(), Z)
	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := g.At(i, j)
			if i == j {
				v += lambda
			}
			sym.SetSym(i, j, v)
		}
	}

	var rhs mat.VecDense
	rhs.MulVec(Z.T(), mat.NewVecDense(n, y))

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, fmt.Errorf("ridge: normal equations not positive definite at lambda=%g", lambda)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, fmt.Errorf("ridge: solve at lambda=%g: %w", lambda, err)
	}
	out := make([]float64, d)
	for j := range out {
		out[j] = w.AtVec(j)
	}
	return out, nil
}

func standardMoments(x [][]float64) (mean, scale []float64) {
	n, d := len(x), len(x[0])
	mean = make([]float64, d)
	scale = make([]float64, d)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for _, row := range x {
		for j, v := range row {
			dv := v - mean[j]
			scale[j] += dv * dv
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / float64(n))
		if scale[j] == 0 {
			scale[j] = 1 // constant feature, leave it centred only
		}
	}
	return mean, scale
}

func standardize(x [][]float64, mean, scale []float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		z := make([]float64, len(row))
		for j, v := range row {
			z[j] = (v - mean[j]) / scale[j]
		}
		out[i] = z
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
