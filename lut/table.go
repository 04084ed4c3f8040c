package lut

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/geospectra/hybridinv/sampler"
)

// WriteTable persists a named float matrix as a tab-separated file with a
// header row. One data row per sample.
func WriteTable(path string, names []string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lut: create table %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(strings.Join(names, "\t") + "\n"); err != nil {
		return fmt.Errorf("lut: write header: %w", err)
	}
	for i, row := range rows {
		if len(row) != len(names) {
			return fmt.Errorf("lut: row %d has %d values for %d columns", i, len(row), len(names))
		}
		for j, v := range row {
			if j > 0 {
				if err := w.WriteByte('\t'); err != nil {
					return err
				}
			}
			if _, err := w.WriteString(strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("lut: flush table %s: %w", path, err)
	}
	return nil
}

// ReadTable loads a tab-separated table written by WriteTable.
func ReadTable(path string) (names []string, rows [][]float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("lut: open table %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, nil, fmt.Errorf("lut: read header: %w", err)
		}
		return nil, nil, fmt.Errorf("lut: table %s is empty", path)
	}
	names = strings.Split(strings.TrimRight(sc.Text(), "\r\n"), "\t")

	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r\n")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(names) {
			return nil, nil, fmt.Errorf("lut: %s line %d: %d fields for %d columns", path, line, len(fields), len(names))
		}
		row := make([]float64, len(fields))
		for j, s := range fields {
			v, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if perr != nil {
				return nil, nil, fmt.Errorf("lut: %s line %d col %d: %w", path, line, j, perr)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("lut: scan table %s: %w", path, err)
	}
	return names, rows, nil
}

// WriteTSV persists the LUT spectra with band names as the header.
func (l *LUT) WriteTSV(path string) error {
	return WriteTable(path, l.BandNames, l.Spectra)
}

// ReadLUT loads a LUT persisted with WriteTSV.
func ReadLUT(path string) (*LUT, error) {
	names, rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	return &LUT{BandNames: names, Spectra: rows}, nil
}

// WriteSampleSet persists a parameter sample set next to its LUT so a build
// is reproducible and debuggable after the fact.
func WriteSampleSet(path string, set *sampler.SampleSet) error {
	return WriteTable(path, set.Names, set.Values)
}

// ReadSampleSet loads a sample set persisted with WriteSampleSet.
func ReadSampleSet(path string) (*sampler.SampleSet, error) {
	names, rows, err := ReadTable(path)
	if err != nil {
		return nil, err
	}
	return &sampler.SampleSet{Names: names, Values: rows}, nil
}
