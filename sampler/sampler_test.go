package sampler

import (
	"errors"
	"math"
	"testing"
)

func TestUniformDrawsStayInBounds(t *testing.T) {
	cfg := Config{
		Specs: map[string]Spec{
			"cab": {Dist: Uniform, Min: 10, Max: 60},
		},
		N:    5000,
		Seed: 42,
	}
	set, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	if set.Len() != cfg.N {
		t.Fatalf("expected %d rows, got %d", cfg.N, set.Len())
	}
	col, ok := set.Column("cab")
	if !ok {
		t.Fatal("cab column missing")
	}
	sum := 0.0
	for i, v := range col {
		if v < 10 || v > 60 {
			t.Fatalf("row %d: value %g outside [10, 60]", i, v)
		}
		sum += v
	}
	mean := sum / float64(len(col))
	if math.Abs(mean-35) > 1.0 {
		t.Errorf("empirical mean %g too far from midpoint 35", mean)
	}
}

func TestGaussianDrawsAreNotClipped(t *testing.T) {
	mean, std := 0.0, 5.0
	cfg := Config{
		Specs: map[string]Spec{
			"x": {Dist: Gaussian, Min: -1, Max: 1, Mean: &mean, Std: &std},
		},
		N:    2000,
		Seed: 7,
	}
	set, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	col, _ := set.Column("x")
	outside := 0
	for _, v := range col {
		if v < -1 || v > 1 {
			outside++
		}
	}
	// With std=5 and bounds [-1,1] nearly all draws should escape the bounds.
	if outside < len(col)/2 {
		t.Errorf("expected most draws outside the nominal bounds, got %d/%d", outside, len(col))
	}
}

func TestFixedOverrideFillsEveryRow(t *testing.T) {
	fixed := 30.0
	cfg := Config{
		Specs: map[string]Spec{
			"tts": {Dist: Uniform, Min: 0, Max: 70, Fixed: &fixed},
		},
		N:    100,
		Seed: 1,
	}
	set, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	col, _ := set.Column("tts")
	for i, v := range col {
		if v != fixed {
			t.Fatalf("row %d: expected fixed value %g, got %g", i, fixed, v)
		}
	}
}

func TestSampleConfigErrors(t *testing.T) {
	mean := 1.0
	cases := []struct {
		name string
		spec Spec
	}{
		{"uniform min>=max", Spec{Dist: Uniform, Min: 2, Max: 2}},
		{"gaussian missing std", Spec{Dist: Gaussian, Mean: &mean}},
		{"gaussian missing moments", Spec{Dist: Gaussian}},
		{"unknown distribution", Spec{Dist: Distribution(99), Min: 0, Max: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Sample(Config{Specs: map[string]Spec{"p": tc.spec}, N: 10})
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestSecondLayerCoverClampAndRescale(t *testing.T) {
	cfg := Config{
		Specs: map[string]Spec{
			"lai": {Dist: Uniform, Min: 0.1, Max: 7},
		},
		N:           3000,
		Seed:        11,
		SecondLayer: true,
	}
	set, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	cover, ok := set.Column(CoverName)
	if !ok {
		t.Fatal("cover column missing in second-layer mode")
	}
	lai, _ := set.Column("lai")
	for i := range cover {
		if cover[i] < 0 || cover[i] > 1 {
			t.Fatalf("row %d: cover %g outside [0, 1]", i, cover[i])
		}
		// LAI was rescaled after the clamp, so it can never exceed the
		// unscaled upper bound.
		if lai[i] < 0 || lai[i] > 7 {
			t.Fatalf("row %d: rescaled lai %g outside [0, 7]", i, lai[i])
		}
	}
}

func TestSampleReproducibleWithSeed(t *testing.T) {
	cfg := Config{
		Specs: DefaultSpecs(),
		N:     50,
		Seed:  99,
	}
	a, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	b, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	for i := range a.Values {
		for j := range a.Values[i] {
			if a.Values[i][j] != b.Values[i][j] {
				t.Fatalf("row %d col %d differs between identically seeded runs", i, j)
			}
		}
	}
}

func TestColumnOrderFollowsNames(t *testing.T) {
	cfg := Config{
		Specs: map[string]Spec{
			"b": {Dist: Uniform, Min: 0, Max: 1},
			"a": {Dist: Uniform, Min: 0, Max: 1},
		},
		Names: []string{"b", "a"},
		N:     5,
		Seed:  3,
	}
	set, err := Sample(cfg)
	if err != nil {
		t.Fatalf("Sample returned error: %v", err)
	}
	if set.Names[0] != "b" || set.Names[1] != "a" {
		t.Fatalf("column order not preserved: %v", set.Names)
	}
}
