// Command hybridinv drives the hybrid-inversion pipeline from the shell:
//
//	hybridinv sample -n 500 -out params.tsv
//	hybridinv train -params params.tsv -lut lut.tsv -targets lai,cab -out bundle.gob
//	hybridinv apply -bundle bundle.gob -raster image.bsq -out results/
//
// The forward radiative-transfer simulator is an external collaborator: the
// reflectance LUT arrives as a TSV produced elsewhere (or via the lut
// package API), paired row-for-row with the sampled parameter matrix.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/geospectra/hybridinv/ensemble"
	"github.com/geospectra/hybridinv/invert"
	"github.com/geospectra/hybridinv/lut"
	"github.com/geospectra/hybridinv/sampler"
)

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "sample":
		err = runSample(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:])
	case "apply":
		err = runApply(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("[hybridinv] %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: hybridinv <sample|train|apply> [flags]

sample  draw a parameter matrix from distribution specs
train   fit per-variable ensembles on a LUT and save a model bundle
apply   stream a raster through a saved bundle, writing mean/std rasters

run "hybridinv <command> -h" for command flags`)
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	n := fs.Int("n", 500, "number of parameter vectors to draw")
	seed := fs.Uint64("seed", 1, "sampling seed")
	out := fs.String("out", "params.tsv", "output parameter matrix (TSV)")
	specPath := fs.String("specs", "", "JSON file overriding the default distribution specs")
	secondLayer := fs.Bool("second-layer", false, "enable the secondary canopy-layer coverage coupling")
	fs.Parse(args)

	specs := sampler.DefaultSpecs()
	if *specPath != "" {
		data, err := os.ReadFile(*specPath)
		if err != nil {
			return fmt.Errorf("read specs: %w", err)
		}
		var overrides map[string]sampler.Spec
		if err := json.Unmarshal(data, &overrides); err != nil {
			return fmt.Errorf("parse specs: %w", err)
		}
		for name, sp := range overrides {
			specs[name] = sp
		}
		log.Printf("[sample] applied %d spec overrides from %s", len(overrides), *specPath)
	}

	set, err := sampler.Sample(sampler.Config{
		Specs:       specs,
		N:           *n,
		Seed:        *seed,
		SecondLayer: *secondLayer,
	})
	if err != nil {
		return err
	}
	if err := lut.WriteSampleSet(*out, set); err != nil {
		return err
	}
	log.Printf("[sample] wrote %d x %d parameter matrix to %s", set.Len(), len(set.Names), *out)
	return nil
}

// targetSpec configures one target variable's training in the JSON config.
type targetSpec struct {
	Bands      []int   `json:"bands,omitempty"` // LUT band indices; empty means all bands
	NoiseLevel float64 `json:"noise_level"`
	NoiseType  string  `json:"noise_type"` // "relative" (default) or "absolute"
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	paramsPath := fs.String("params", "params.tsv", "parameter matrix (TSV) from sample")
	lutPath := fs.String("lut", "lut.tsv", "reflectance LUT (TSV), row-aligned with params")
	out := fs.String("out", "bundle.gob", "output model bundle")
	targets := fs.String("targets", "lai,cab,cw,cm", "comma-separated target variables")
	size := fs.Int("size", 10, "ensemble members per target")
	replace := fs.Bool("replace", false, "bootstrap subsets (with replacement) instead of a disjoint split")
	noise := fs.Float64("noise", 0.04, "default noise level applied to the LUT per target")
	noiseType := fs.String("noise-type", "relative", "default noise type: relative or absolute")
	seed := fs.Uint64("seed", 1, "noise and bootstrap seed")
	cfgPath := fs.String("config", "", "JSON file with per-target bands/noise overrides")
	fs.Parse(args)

	set, err := lut.ReadSampleSet(*paramsPath)
	if err != nil {
		return err
	}
	table, err := lut.ReadLUT(*lutPath)
	if err != nil {
		return err
	}
	if table.Len() != set.Len() {
		return fmt.Errorf("train: LUT has %d rows but parameter matrix has %d", table.Len(), set.Len())
	}
	log.Printf("[train] %d samples, %d spectral bands", table.Len(), table.Bands())

	perTarget := map[string]targetSpec{}
	if *cfgPath != "" {
		data, err := os.ReadFile(*cfgPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		var cfg struct {
			Targets map[string]targetSpec `json:"targets"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
		perTarget = cfg.Targets
	}

	bundle := &invert.Bundle{
		Ensembles: map[string]*ensemble.Ensemble{},
		BandNames: map[string][]string{},
	}
	for ti, target := range splitList(*targets) {
		col, ok := set.Column(target)
		if !ok {
			return fmt.Errorf("train: target %q not present in the parameter matrix", target)
		}
		ts, ok := perTarget[target]
		if !ok {
			ts = targetSpec{NoiseLevel: *noise, NoiseType: *noiseType}
		}
		kind, err := parseNoiseType(ts.NoiseType, *noiseType)
		if err != nil {
			return err
		}
		noisy, err := lut.ApplyNoise(table, ts.Bands, ts.NoiseLevel, kind, *seed+uint64(ti))
		if err != nil {
			return fmt.Errorf("train: %s: %w", target, err)
		}
		ens, err := ensemble.Train(noisy.Spectra, col, ensemble.TrainConfig{
			Size:            *size,
			WithReplacement: *replace,
			Seed:            *seed + uint64(ti),
			Backend:         &ensemble.RidgeBackend{},
			Logf:            log.Printf,
		})
		if err != nil {
			return fmt.Errorf("train: %s: %w", target, err)
		}
		bundle.Variables = append(bundle.Variables, target)
		bundle.Ensembles[target] = ens
		bundle.BandNames[target] = noisy.BandNames
		log.Printf("[train] %s: %d members on %d bands (noise %g %s)",
			target, ens.Size(), len(noisy.BandNames), ts.NoiseLevel, kind)
	}

	if err := bundle.Save(*out); err != nil {
		return err
	}
	log.Printf("[train] saved bundle with %d variables to %s", len(bundle.Variables), *out)
	return nil
}

func runApply(args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	bundlePath := fs.String("bundle", "bundle.gob", "trained model bundle")
	rasterPath := fs.String("raster", "", "input reflectance raster")
	outDir := fs.String("out", "out", "output directory for mean/std rasters")
	maskPath := fs.String("mask", "", "optional validity mask raster (non-zero = valid)")
	scale := fs.Float64("scale", 1, "reflectance scale factor dividing raw pixel values")
	blockRows := fs.Int("block", 64, "streaming block height in rows")
	bandsFlag := fs.String("bands", "", "explicit band indices (comma-separated) applied to every variable")
	fs.Parse(args)

	if *rasterPath == "" {
		return fmt.Errorf("apply: -raster is required")
	}
	bundle, err := invert.LoadBundle(*bundlePath)
	if err != nil {
		return err
	}

	var bands map[string][]int
	if *bandsFlag != "" {
		sel, err := parseIntList(*bandsFlag)
		if err != nil {
			return fmt.Errorf("apply: -bands: %w", err)
		}
		bands = map[string][]int{}
		for _, v := range bundle.Variables {
			bands[v] = sel
		}
	}

	lastPct := -1
	d := &invert.Driver{
		BlockRows:   *blockRows,
		ScaleFactor: *scale,
		Logf:        log.Printf,
		Progress: func(done, total int) {
			pct := done * 100 / total
			if pct/10 > lastPct/10 {
				log.Printf("[apply] progress: %d/%d blocks (%d%%)", done, total, pct)
			}
			lastPct = pct
		},
	}
	if err := d.Apply(*rasterPath, bundle, *outDir, bands, *maskPath); err != nil {
		return err
	}
	log.Printf("[apply] wrote mean/std rasters for %d variables to %s", len(bundle.Variables), *outDir)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseNoiseType(s, fallback string) (lut.NoiseKind, error) {
	if s == "" {
		s = fallback
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relative":
		return lut.Relative, nil
	case "absolute":
		return lut.Absolute, nil
	default:
		return 0, fmt.Errorf("unknown noise type %q", s)
	}
}
