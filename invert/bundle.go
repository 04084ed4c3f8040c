// Package invert applies trained hybrid-inversion model bundles to raster
// imagery, streaming fixed-size row blocks so working memory stays bounded
// regardless of image size.
package invert

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/geospectra/hybridinv/ensemble"
)

// Bundle maps target-variable names to their trained ensembles. It is the
// unit persisted between the training and raster-application phases and has
// no link back to the LUT it was trained from.
type Bundle struct {
	// Variables fixes the processing order.
	Variables []string

	// Ensembles holds one trained ensemble per variable.
	Ensembles map[string]*ensemble.Ensemble

	// BandNames records, per variable, the spectral band names the
	// ensemble was trained on, so apply-time band selection cannot drift
	// from training.
	BandNames map[string][]string
}

// Validate checks internal consistency before saving or applying.
func (b *Bundle) Validate() error {
	if len(b.Variables) == 0 {
		return fmt.Errorf("invert: bundle has no variables")
	}
	for _, v := range b.Variables {
		ens, ok := b.Ensembles[v]
		if !ok || ens == nil || ens.Size() == 0 {
			return fmt.Errorf("invert: variable %q has no trained ensemble", v)
		}
		if names, ok := b.BandNames[v]; ok && len(names) != ens.NumFeatures {
			return fmt.Errorf("invert: variable %q: %d band names for %d trained features", v, len(names), ens.NumFeatures)
		}
	}
	return nil
}

// Save persists the bundle with gob. The write is atomic: a temp file in the
// target directory is renamed into place, so a crash never leaves a
// truncated bundle behind.
func (b *Bundle) Save(path string) error {
	if err := b.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("invert: create temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(b); err != nil {
		tmp.Close()
		return fmt.Errorf("invert: encode bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("invert: close temp bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("invert: rename bundle into place: %w", err)
	}
	return nil
}

// LoadBundle reads a bundle saved with Save.
func LoadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("invert: open bundle %s: %w", path, err)
	}
	defer f.Close()

	var b Bundle
	if err := gob.NewDecoder(f).Decode(&b); err != nil {
		return nil, fmt.Errorf("invert: decode bundle %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
