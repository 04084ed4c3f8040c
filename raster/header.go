// Package raster streams ENVI-style rasters in row blocks, with a sidecar
// text header carrying dimensions, interleave, and band-name metadata. Block
// streaming keeps working memory at O(block) no matter how large the image.
package raster

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ENVI data type codes supported by this package.
const (
	TypeUint8   = 1
	TypeInt16   = 2
	TypeFloat32 = 4
	TypeFloat64 = 5
	TypeUint16  = 12
)

// Header mirrors the ENVI sidecar header: "ENVI" magic on the first line,
// then key = value pairs, with brace-delimited multi-line list values.
type Header struct {
	Samples      int // pixels per row
	Lines        int // rows
	Bands        int
	DataType     int
	Interleave   string // bsq, bil or bip
	ByteOrder    int    // 0 little endian, 1 big endian
	HeaderOffset int

	Description     string
	BandNames       []string
	DataIgnoreValue *float64

	// Extra preserves unrecognized fields through a read/write cycle.
	Extra map[string]string
}

// elemSize returns the byte width of one pixel value.
func (h *Header) elemSize() (int, error) {
	switch h.DataType {
	case TypeUint8:
		return 1, nil
	case TypeInt16, TypeUint16:
		return 2, nil
	case TypeFloat32:
		return 4, nil
	case TypeFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("raster: unsupported data type %d", h.DataType)
	}
}

func (h *Header) validate() error {
	if h.Samples <= 0 || h.Lines <= 0 || h.Bands <= 0 {
		return fmt.Errorf("raster: invalid dimensions %dx%dx%d", h.Samples, h.Lines, h.Bands)
	}
	switch strings.ToLower(h.Interleave) {
	case "bsq", "bil", "bip":
	default:
		return fmt.Errorf("raster: unsupported interleave %q", h.Interleave)
	}
	_, err := h.elemSize()
	return err
}

// HeaderPath returns the sidecar header path for a raster file. The
// appended-extension form (image.bsq.hdr) is the canonical one; ReadHeader
// also falls back to the replaced-extension form (image.hdr).
func HeaderPath(rasterPath string) string {
	return rasterPath + ".hdr"
}

func altHeaderPath(rasterPath string) string {
	ext := filepath.Ext(rasterPath)
	return strings.TrimSuffix(rasterPath, ext) + ".hdr"
}

// ReadHeader parses the sidecar header for the given raster file.
func ReadHeader(rasterPath string) (*Header, error) {
	path := HeaderPath(rasterPath)
	f, err := os.Open(path)
	if err != nil {
		alt, aerr := os.Open(altHeaderPath(rasterPath))
		if aerr != nil {
			return nil, fmt.Errorf("raster: header for %s not found: %w", rasterPath, err)
		}
		f, path, err = alt, altHeaderPath(rasterPath), nil
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<12), 1<<22)
	if !sc.Scan() {
		return nil, fmt.Errorf("raster: header %s is empty", path)
	}
	if strings.TrimSpace(sc.Text()) != "ENVI" {
		return nil, fmt.Errorf("raster: header %s missing ENVI magic", path)
	}

	fields := map[string]string{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		val := strings.TrimSpace(line[eq+1:])
		if strings.HasPrefix(val, "{") && !strings.Contains(val, "}") {
			// brace value continues over following lines
			var sb strings.Builder
			sb.WriteString(val)
			for sc.Scan() {
				part := sc.Text()
				sb.WriteString("\n")
				sb.WriteString(part)
				if strings.Contains(part, "}") {
					break
				}
			}
			val = sb.String()
		}
		fields[key] = val
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("raster: scan header %s: %w", path, err)
	}

	h := &Header{Interleave: "bsq", Extra: map[string]string{}}
	for key, val := range fields {
		switch key {
		case "samples":
			h.Samples, err = atoi(key, val)
		case "lines":
			h.Lines, err = atoi(key, val)
		case "bands":
			h.Bands, err = atoi(key, val)
		case "data type":
			h.DataType, err = atoi(key, val)
		case "byte order":
			h.ByteOrder, err = atoi(key, val)
		case "header offset":
			h.HeaderOffset, err = atoi(key, val)
		case "interleave":
			h.Interleave = strings.ToLower(val)
		case "description":
			h.Description = braceBody(val)
		case "band names":
			h.BandNames = braceList(val)
		case "data ignore value":
			var v float64
			v, err = strconv.ParseFloat(val, 64)
			if err == nil {
				h.DataIgnoreValue = &v
			}
		case "file type":
			// informational
		default:
			h.Extra[key] = val
		}
		if err != nil {
			return nil, fmt.Errorf("raster: header %s: %w", path, err)
		}
	}
	if err := h.validate(); err != nil {
		return nil, fmt.Errorf("%w (header %s)", err, path)
	}
	return h, nil
}

func atoi(key, val string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return v, nil
}

// braceBody strips the braces off a value, keeping the inner text intact.
// Free-text fields like the description may contain commas and newlines, so
// they must not go through braceList.
func braceBody(val string) string {
	val = strings.TrimSpace(val)
	val = strings.TrimPrefix(val, "{")
	val = strings.TrimSuffix(val, "}")
	return strings.TrimSpace(val)
}

// braceList splits a brace-delimited value into its ordered comma-separated
// items, preserving item order exactly.
func braceList(val string) []string {
	val = strings.TrimSpace(val)
	val = strings.TrimPrefix(val, "{")
	val = strings.TrimSuffix(val, "}")
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Write persists the header as the sidecar of rasterPath.
func (h *Header) Write(rasterPath string) error {
	if err := h.validate(); err != nil {
		return err
	}
	f, err := os.Create(HeaderPath(rasterPath))
	if err != nil {
		return fmt.Errorf("raster: create header: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "ENVI")
	if h.Description != "" {
		fmt.Fprintf(w, "description = {\n  %s}\n", h.Description)
	}
	fmt.Fprintf(w, "samples = %d\n", h.Samples)
	fmt.Fprintf(w, "lines = %d\n", h.Lines)
	fmt.Fprintf(w, "bands = %d\n", h.Bands)
	fmt.Fprintf(w, "header offset = %d\n", h.HeaderOffset)
	fmt.Fprintln(w, "file type = ENVI Standard")
	fmt.Fprintf(w, "data type = %d\n", h.DataType)
	fmt.Fprintf(w, "interleave = %s\n", strings.ToLower(h.Interleave))
	fmt.Fprintf(w, "byte order = %d\n", h.ByteOrder)
	if len(h.BandNames) > 0 {
		fmt.Fprintf(w, "band names = {\n  %s}\n", strings.Join(h.BandNames, ",\n  "))
	}
	if h.DataIgnoreValue != nil {
		fmt.Fprintf(w, "data ignore value = %s\n", strconv.FormatFloat(*h.DataIgnoreValue, 'g', -1, 64))
	}
	keys := make([]string, 0, len(h.Extra))
	for k := range h.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s = %s\n", k, h.Extra[k])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("raster: flush header: %w", err)
	}
	return nil
}
