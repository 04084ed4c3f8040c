package ensemble

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
)

// recordingBackend captures the training subsets it was handed and returns a
// constant model per fit.
type recordingBackend struct {
	subsets  [][]float64 // flattened copy of targets per fit, in call order
	warnMsg  string      // when non-empty, Fit returns this FitWarning
	hardErr  error       // when non-nil, Fit fails hard
	bounds   []float64   // FitWithBound calls received
	retryErr error       // error returned by FitWithBound
}

type constModel struct {
	Value float64
	Dim   int
}

func (m *constModel) NumFeatures() int { return m.Dim }
func (m *constModel) PredictBatch(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i := range out {
		out[i] = m.Value
	}
	return out, nil
}

func (b *recordingBackend) Fit(x [][]float64, y []float64) (Model, error) {
	b.subsets = append(b.subsets, append([]float64{}, y...))
	model := &constModel{Value: 1, Dim: len(x[0])}
	if b.hardErr != nil {
		return nil, b.hardErr
	}
	if b.warnMsg != "" {
		return model, &FitWarning{Msg: b.warnMsg}
	}
	return model, nil
}

func (b *recordingBackend) FitWithBound(x [][]float64, y []float64, bound float64) (Model, error) {
	b.bounds = append(b.bounds, bound)
	if b.retryErr != nil {
		return nil, b.retryErr
	}
	return &constModel{Value: 2, Dim: len(x[0])}, nil
}

// identityData builds n samples whose target equals the sample index, so
// recorded subsets reveal exactly which indices each member saw.
func identityData(n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{float64(i), 1}
		y[i] = float64(i)
	}
	return x, y
}

func TestDisjointSplitCoversEveryIndexOnce(t *testing.T) {
	const n, k = 103, 5
	x, y := identityData(n)
	b := &recordingBackend{}
	if _, err := Train(x, y, TrainConfig{Size: k, Backend: b}); err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	if len(b.subsets) != k {
		t.Fatalf("expected %d fits, got %d", k, len(b.subsets))
	}
	seen := make(map[int]int)
	prevSize := -1
	for g, sub := range b.subsets {
		for _, v := range sub {
			seen[int(v)]++
		}
		if prevSize >= 0 && len(sub) > prevSize {
			t.Fatalf("group %d larger than an earlier group: extra samples must go to earlier groups", g)
		}
		prevSize = len(sub)
	}
	if len(seen) != n {
		t.Fatalf("union of subsets covers %d of %d indices", len(seen), n)
	}
	for idx, count := range seen {
		if count != 1 {
			t.Fatalf("index %d appears %d times across disjoint subsets", idx, count)
		}
	}
	sizes := map[int]bool{}
	for _, sub := range b.subsets {
		sizes[len(sub)] = true
	}
	if len(sizes) > 2 {
		t.Fatalf("disjoint group sizes differ by more than one: %v", sizes)
	}
}

func TestBootstrapSubsetSizeAndRepeats(t *testing.T) {
	const n, k = 100, 4
	x, y := identityData(n)
	b := &recordingBackend{}
	if _, err := Train(x, y, TrainConfig{Size: k, WithReplacement: true, Seed: 9, Backend: b}); err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	per := int(math.Round(float64(n) / float64(k)))
	repeats := false
	for g, sub := range b.subsets {
		if len(sub) != per {
			t.Fatalf("member %d drew %d samples, expected round(N/K)=%d", g, len(sub), per)
		}
		counts := map[float64]int{}
		for _, v := range sub {
			counts[v]++
			if counts[v] > 1 {
				repeats = true
			}
		}
	}
	if !repeats {
		t.Log("no repeated draws observed; unusual but possible for this seed")
	}
}

func TestHardFitErrorFailsAtomically(t *testing.T) {
	x, y := identityData(20)
	boom := errors.New("singular system")
	b := &recordingBackend{hardErr: boom}
	if _, err := Train(x, y, TrainConfig{Size: 2, Backend: b}); !errors.Is(err, boom) {
		t.Fatalf("expected hard error to propagate, got %v", err)
	}
}

func TestWarningTriggersBoundedRetry(t *testing.T) {
	x, y := identityData(20)
	b := &recordingBackend{warnMsg: "solver hit search boundary; suggested lambda=0.5"}
	ens, err := Train(x, y, TrainConfig{Size: 2, Backend: b})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	if len(b.bounds) != 2 {
		t.Fatalf("expected one retry per member, got %d", len(b.bounds))
	}
	for _, bound := range b.bounds {
		if bound != 0.5 {
			t.Fatalf("retry used bound %g, expected parsed 0.5", bound)
		}
	}
	// retried models (Value=2) must have been kept
	pred, err := ens.Predict([][]float64{{0, 1}})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if pred.Mean[0] != 2 {
		t.Fatalf("retried model not kept: predicted %g", pred.Mean[0])
	}
}

func TestSuggestionTakesTrailingPair(t *testing.T) {
	x, y := identityData(20)
	// the message carries an unrelated name=value pair before the
	// suggestion; the trailing pair is the corrected bound
	b := &recordingBackend{warnMsg: "grid lambda=100 hit search boundary; suggested lambda=0.5"}
	if _, err := Train(x, y, TrainConfig{Size: 2, Backend: b}); err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	if len(b.bounds) != 2 {
		t.Fatalf("expected one retry per member, got %d", len(b.bounds))
	}
	for _, bound := range b.bounds {
		if bound != 0.5 {
			t.Fatalf("retry used bound %g, expected the trailing 0.5", bound)
		}
	}
}

func TestUnparsableWarningKeepsOriginalModel(t *testing.T) {
	x, y := identityData(20)
	cases := []string{
		"solver hit a boundary but offers no hint",
		"suggested lambda=not-a-number",
		"suggested lambda=1e99", // outside the sane range
	}
	for _, msg := range cases {
		b := &recordingBackend{warnMsg: msg}
		ens, err := Train(x, y, TrainConfig{Size: 2, Backend: b})
		if err != nil {
			t.Fatalf("%q: Train returned error: %v", msg, err)
		}
		if len(b.bounds) != 0 {
			t.Fatalf("%q: retry should not have happened", msg)
		}
		pred, err := ens.Predict([][]float64{{0, 1}})
		if err != nil {
			t.Fatalf("%q: Predict returned error: %v", msg, err)
		}
		if pred.Mean[0] != 1 {
			t.Fatalf("%q: original model not kept: predicted %g", msg, pred.Mean[0])
		}
	}
}

func TestFailedRetryKeepsOriginalModel(t *testing.T) {
	x, y := identityData(20)
	b := &recordingBackend{
		warnMsg:  "suggested lambda=0.25",
		retryErr: errors.New("retry exploded"),
	}
	ens, err := Train(x, y, TrainConfig{Size: 2, Backend: b})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	pred, err := ens.Predict([][]float64{{0, 1}})
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if pred.Mean[0] != 1 {
		t.Fatalf("original model not kept after failed retry: predicted %g", pred.Mean[0])
	}
}

func affineTrainingData(n int, noiseStd float64, seed uint64) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		a := rng.Float64() * 4
		b := 1 + rng.Float64()*2
		x[i] = []float64{a, b}
		y[i] = 2*a + 3*b + 1
		if noiseStd > 0 {
			y[i] += rng.NormFloat64() * noiseStd
		}
	}
	return x, y
}

func TestEndToEndAffineRecovery(t *testing.T) {
	x, y := affineTrainingData(100, 0, 21)
	ens, err := Train(x, y, TrainConfig{Size: 5, Backend: &RidgeBackend{}})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}

	held, want := affineTrainingData(10, 0, 77)
	pred, err := ens.Predict(held)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	for i := range held {
		if math.Abs(pred.Mean[i]-want[i]) > 0.05 {
			t.Errorf("sample %d: predicted %g, want %g", i, pred.Mean[i], want[i])
		}
	}
}

func TestEnsembleStdShrinksWithMoreTrainingData(t *testing.T) {
	held, _ := affineTrainingData(10, 0, 3)
	avgStd := func(n int) float64 {
		x, y := affineTrainingData(n, 0.5, 13)
		ens, err := Train(x, y, TrainConfig{Size: 5, Backend: &RidgeBackend{}})
		if err != nil {
			t.Fatalf("Train(n=%d) returned error: %v", n, err)
		}
		pred, err := ens.Predict(held)
		if err != nil {
			t.Fatalf("Predict(n=%d) returned error: %v", n, err)
		}
		s := 0.0
		for _, v := range pred.Std {
			s += v
		}
		return s / float64(len(pred.Std))
	}
	small, large := avgStd(50), avgStd(1000)
	if large >= small {
		t.Errorf("expected uncertainty to shrink with more data: std(50)=%g std(1000)=%g", small, large)
	}
}

func TestPredictReproducible(t *testing.T) {
	x, y := affineTrainingData(80, 0.1, 5)
	ens, err := Train(x, y, TrainConfig{Size: 4, Backend: &RidgeBackend{}})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	held, _ := affineTrainingData(7, 0, 8)
	a, err := ens.Predict(held)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	b, err := ens.Predict(held)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	for i := range a.Mean {
		if a.Mean[i] != b.Mean[i] || a.Std[i] != b.Std[i] {
			t.Fatalf("sample %d differs across identical Predict calls", i)
		}
	}
}

func TestSingleMemberStdIsZero(t *testing.T) {
	x, y := affineTrainingData(30, 0.2, 42)
	ens, err := Train(x, y, TrainConfig{Size: 1, Backend: &RidgeBackend{}})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	pred, err := ens.Predict(x[:5])
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	for i, s := range pred.Std {
		if s != 0 {
			t.Fatalf("sample %d: std %g with a single member", i, s)
		}
	}
}

func TestPredictTransposeCorrection(t *testing.T) {
	x, y := affineTrainingData(40, 0, 6)
	ens, err := Train(x, y, TrainConfig{Size: 2, Backend: &RidgeBackend{}})
	if err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	held, _ := affineTrainingData(6, 0, 9)
	want, err := ens.Predict(held)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}

	// feature-major layout: 2 rows of 6 values
	flipped := transpose(held)
	got, err := ens.Predict(flipped)
	if err != nil {
		t.Fatalf("Predict on feature-major batch returned error: %v", err)
	}
	for i := range want.Mean {
		if got.Mean[i] != want.Mean[i] {
			t.Fatalf("transpose correction changed prediction at %d", i)
		}
	}

	// neither orientation matches: fail with ShapeError
	var serr *ShapeError
	if _, err := ens.Predict([][]float64{{1, 2, 3}}); !errors.As(err, &serr) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
}

func TestRidgeBoundaryWarningAndRetryGrid(t *testing.T) {
	// exact affine data prefers the weakest regularization, so a grid whose
	// smallest value still wins produces an edge warning
	x, y := affineTrainingData(60, 0, 31)
	backend := &RidgeBackend{Lambdas: []float64{1e-4, 1e-2, 1}}
	model, err := backend.Fit(x, y)
	var warn *FitWarning
	if !errors.As(err, &warn) {
		t.Fatalf("expected FitWarning, got %v", err)
	}
	if model == nil {
		t.Fatal("warned fit must still return a model")
	}
	bound, ok := parseSuggestion(warn.Msg)
	if !ok {
		t.Fatalf("warning %q carries no parsable suggestion", warn.Msg)
	}
	if bound >= 1e-4 {
		t.Fatalf("suggested bound %g should extend past the grid edge", bound)
	}
	retried, err := backend.FitWithBound(x, y, bound)
	if err != nil {
		var again *FitWarning
		if !errors.As(err, &again) {
			t.Fatalf("FitWithBound returned hard error: %v", err)
		}
	}
	if retried == nil {
		t.Fatal("FitWithBound returned no model")
	}
}

func TestTrainConfigValidation(t *testing.T) {
	x, y := identityData(10)
	cases := []struct {
		name string
		cfg  TrainConfig
	}{
		{"zero size", TrainConfig{Backend: &recordingBackend{}}},
		{"size exceeds samples", TrainConfig{Size: 11, Backend: &recordingBackend{}}},
		{"nil backend", TrainConfig{Size: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Train(x, y, tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func ExampleTrain() {
	x := [][]float64{{0, 1}, {1, 1}, {2, 1}, {3, 1}, {4, 1}, {5, 1}}
	y := []float64{1, 3, 5, 7, 9, 11}
	ens, err := Train(x, y, TrainConfig{Size: 2, Backend: &RidgeBackend{}})
	if err != nil {
		fmt.Println("train:", err)
		return
	}
	fmt.Println(ens.Size())
	// Output: 2
}
