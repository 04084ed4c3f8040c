package invert

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/geospectra/hybridinv/raster"
)

// Driver streams a raster through a model bundle, one target variable at a
// time, writing mean and std output rasters block by block. The zero value
// is usable; fields tune the pass.
type Driver struct {
	// BlockRows is the streaming block height. Defaults to 64. One block
	// of pixels is the working-memory bound for the whole pass.
	BlockRows int

	// ScaleFactor divides raw pixel values into physical reflectance in
	// [0, 1]. Defaults to 1.
	ScaleFactor float64

	// Progress, when non-nil, receives monotonic ticks: one per
	// (variable, block) unit of work.
	Progress func(done, total int)

	// Logf, when non-nil, receives warnings and progress lines.
	Logf func(format string, args ...any)
}

func (d *Driver) logf(format string, args ...any) {
	if d.Logf != nil {
		d.Logf(format, args...)
	}
}

// resolveBands maps a variable's trained band names onto raster band
// indices. An explicit selection wins; otherwise names are matched against
// the raster's band-name metadata.
func resolveBands(b *Bundle, variable string, explicit []int, hdr *raster.Header) ([]int, error) {
	want := b.Ensembles[variable].NumFeatures
	if explicit != nil {
		if len(explicit) != want {
			return nil, fmt.Errorf("invert: variable %q: %d selected bands for %d trained features", variable, len(explicit), want)
		}
		for _, bi := range explicit {
			if bi < 0 || bi >= hdr.Bands {
				return nil, fmt.Errorf("invert: variable %q: band index %d outside raster with %d bands", variable, bi, hdr.Bands)
			}
		}
		return explicit, nil
	}
	names := b.BandNames[variable]
	if len(names) == 0 {
		return nil, fmt.Errorf("invert: variable %q: no band selection and no trained band names", variable)
	}
	byName := make(map[string]int, len(hdr.BandNames))
	for i, n := range hdr.BandNames {
		byName[n] = i
	}
	sel := make([]int, len(names))
	for i, n := range names {
		bi, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("invert: variable %q: trained band %q not present in raster", variable, n)
		}
		sel[i] = bi
	}
	return sel, nil
}

// openMask opens the optional validity mask. When no mask was requested the
// caller auto-derives validity from the first selected band; when a mask was
// requested but is unavailable or mismatched, the pass degrades to
// processing all pixels with a warning (allValid). Only the raster itself is
// load-bearing.
func (d *Driver) openMask(maskPath string, hdr *raster.Header) (m *raster.Reader, allValid bool) {
	if maskPath == "" {
		return nil, false
	}
	m, err := raster.OpenRead(maskPath)
	if err != nil {
		d.logf("[apply] mask %s unavailable (%v); processing all pixels", maskPath, err)
		return nil, true
	}
	if m.Header.Samples != hdr.Samples || m.Header.Lines != hdr.Lines {
		d.logf("[apply] mask %s is %dx%d but raster is %dx%d; processing all pixels",
			maskPath, m.Header.Samples, m.Header.Lines, hdr.Samples, hdr.Lines)
		m.Close()
		return nil, true
	}
	return m, false
}

// Apply runs the full inversion pass: every bundle variable in order, each
// streamed over the raster in row blocks. Variables are best-effort: a
// failing variable is reported and the remaining ones still run; the
// collected failures come back as a joined error.
//
// Output rasters are written to outDir as <variable>_mean.bsq and
// <variable>_std.bsq, each carrying the variable name in its band-name
// metadata. Pixels excluded by the mask hold the NaN sentinel.
func (d *Driver) Apply(rasterPath string, b *Bundle, outDir string, bands map[string][]int, maskPath string) error {
	if err := b.Validate(); err != nil {
		return err
	}
	blockRows := d.BlockRows
	if blockRows <= 0 {
		blockRows = 64
	}
	scale := d.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("invert: create output dir: %w", err)
	}

	// a missing raster is fatal before any per-variable work
	probe, err := raster.OpenRead(rasterPath)
	if err != nil {
		return err
	}
	hdr := probe.Header
	probe.Close()

	nBlocks := (hdr.Lines + blockRows - 1) / blockRows
	total := len(b.Variables) * nBlocks
	done := 0

	var failures []error
	for _, variable := range b.Variables {
		if err := d.applyVariable(rasterPath, b, variable, outDir, bands[variable], maskPath, blockRows, scale, &done, total); err != nil {
			d.logf("[apply] variable %s failed: %v", variable, err)
			failures = append(failures, fmt.Errorf("variable %s: %w", variable, err))
			// keep the progress counter monotonic past the skipped blocks
			done = blockTarget(b, variable, nBlocks)
			continue
		}
		d.logf("[apply] variable %s done", variable)
	}
	return errors.Join(failures...)
}

// blockTarget returns the progress value after the given variable finishes.
func blockTarget(b *Bundle, variable string, nBlocks int) int {
	for i, v := range b.Variables {
		if v == variable {
			return (i + 1) * nBlocks
		}
	}
	return 0
}

func (d *Driver) applyVariable(rasterPath string, b *Bundle, variable, outDir string, explicit []int, maskPath string, blockRows int, scale float64, done *int, total int) (err error) {
	r, err := raster.OpenRead(rasterPath)
	if err != nil {
		return err
	}
	defer r.Close()

	sel, err := resolveBands(b, variable, explicit, r.Header)
	if err != nil {
		return err
	}

	mask, allValid := d.openMask(maskPath, r.Header)
	if mask != nil {
		defer mask.Close()
	}

	meanW, err := raster.OpenWrite(filepath.Join(outDir, variable+"_mean.bsq"), r.Header)
	if err != nil {
		return err
	}
	stdW, err := raster.OpenWrite(filepath.Join(outDir, variable+"_std.bsq"), r.Header)
	if err != nil {
		meanW.Close()
		return err
	}
	meanW.SetBandNames([]string{variable})
	meanW.SetDescription(fmt.Sprintf("%s ensemble mean", variable))
	stdW.SetBandNames([]string{variable})
	stdW.SetDescription(fmt.Sprintf("%s ensemble std", variable))

	ens := b.Ensembles[variable]
	for rowStart := 0; rowStart < r.Header.Lines; rowStart += blockRows {
		block, err := r.ReadBlock(rowStart, blockRows)
		if err != nil {
			meanW.Close()
			stdW.Close()
			return err
		}
		px := len(block[0])

		valid := make([]bool, px)
		switch {
		case mask != nil:
			mblock, err := mask.ReadBlock(rowStart, blockRows)
			if err != nil {
				meanW.Close()
				stdW.Close()
				return fmt.Errorf("read mask block: %w", err)
			}
			for i := 0; i < px; i++ {
				valid[i] = mblock[0][i] != 0
			}
		case allValid:
			for i := range valid {
				valid[i] = true
			}
		default:
			// domain convention: non-positive reflectance in the first
			// selected band marks a no-data pixel
			first := block[sel[0]]
			for i := 0; i < px; i++ {
				valid[i] = first[i] > 0
			}
		}

		meanOut := make([]float64, px)
		stdOut := make([]float64, px)
		for i := range meanOut {
			meanOut[i] = math.NaN()
			stdOut[i] = math.NaN()
		}

		var pick []int
		for i, ok := range valid {
			if ok {
				pick = append(pick, i)
			}
		}
		if len(pick) > 0 {
			feats := make([][]float64, len(pick))
			for fi, pi := range pick {
				row := make([]float64, len(sel))
				for j, bi := range sel {
					row[j] = block[bi][pi] / scale
				}
				feats[fi] = row
			}
			pred, err := ens.Predict(feats)
			if err != nil {
				meanW.Close()
				stdW.Close()
				return err
			}
			for fi, pi := range pick {
				meanOut[pi] = pred.Mean[fi]
				stdOut[pi] = pred.Std[fi]
			}
		}

		if err := meanW.WriteBlock(meanOut, rowStart); err != nil {
			meanW.Close()
			stdW.Close()
			return err
		}
		if err := stdW.WriteBlock(stdOut, rowStart); err != nil {
			meanW.Close()
			stdW.Close()
			return err
		}
		*done++
		if d.Progress != nil {
			d.Progress(*done, total)
		}
	}

	if err := meanW.Close(); err != nil {
		stdW.Close()
		return err
	}
	return stdW.Close()
}
