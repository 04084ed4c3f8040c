package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
)

// Reader streams row blocks from an ENVI raster. It is single-owner,
// sequential-access: callers parallelising block work must serialise reads.
type Reader struct {
	Header *Header

	f        *os.File
	elemSize int
	order    binary.ByteOrder
}

// OpenRead opens a raster and its sidecar header for block reading. A
// missing raster or header is fatal.
func OpenRead(path string) (*Reader, error) {
	hdr, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: open %s: %w", path, err)
	}
	es, _ := hdr.elemSize()
	order := binary.ByteOrder(binary.LittleEndian)
	if hdr.ByteOrder == 1 {
		order = binary.BigEndian
	}
	return &Reader{Header: hdr, f: f, elemSize: es, order: order}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// ReadBlock reads rowCount rows starting at rowStart and returns band-major
// pixel values: one slice per band, each holding rowCount*samples values in
// row-major pixel order. The final block of an image may be shorter than the
// requested rowCount; the returned slices reflect the clipped size.
func (r *Reader) ReadBlock(rowStart, rowCount int) ([][]float64, error) {
	h := r.Header
	if rowStart < 0 || rowStart >= h.Lines {
		return nil, fmt.Errorf("raster: row start %d outside [0, %d)", rowStart, h.Lines)
	}
	if rowStart+rowCount > h.Lines {
		rowCount = h.Lines - rowStart
	}
	px := rowCount * h.Samples

	out := make([][]float64, h.Bands)
	for b := range out {
		out[b] = make([]float64, px)
	}

	switch strings.ToLower(h.Interleave) {
	case "bsq":
		for b := 0; b < h.Bands; b++ {
			off := int64(h.HeaderOffset) + int64(r.elemSize)*int64(b*h.Lines*h.Samples+rowStart*h.Samples)
			if err := r.readInto(out[b], off); err != nil {
				return nil, err
			}
		}
	case "bil":
		row := make([]float64, h.Samples)
		for ri := 0; ri < rowCount; ri++ {
			for b := 0; b < h.Bands; b++ {
				off := int64(h.HeaderOffset) + int64(r.elemSize)*int64(((rowStart+ri)*h.Bands+b)*h.Samples)
				if err := r.readInto(row, off); err != nil {
					return nil, err
				}
				copy(out[b][ri*h.Samples:], row)
			}
		}
	case "bip":
		inter := make([]float64, px*h.Bands)
		off := int64(h.HeaderOffset) + int64(r.elemSize)*int64(rowStart*h.Samples*h.Bands)
		if err := r.readInto(inter, off); err != nil {
			return nil, err
		}
		for i := 0; i < px; i++ {
			for b := 0; b < h.Bands; b++ {
				out[b][i] = inter[i*h.Bands+b]
			}
		}
	default:
		return nil, fmt.Errorf("raster: unsupported interleave %q", h.Interleave)
	}
	return out, nil
}

// readInto fills dst with decoded values starting at byte offset off.
func (r *Reader) readInto(dst []float64, off int64) error {
	raw := make([]byte, len(dst)*r.elemSize)
	if _, err := r.f.ReadAt(raw, off); err != nil {
		return fmt.Errorf("raster: read at %d: %w", off, err)
	}
	switch r.Header.DataType {
	case TypeUint8:
		for i := range dst {
			dst[i] = float64(raw[i])
		}
	case TypeInt16:
		for i := range dst {
			dst[i] = float64(int16(r.order.Uint16(raw[i*2:])))
		}
	case TypeUint16:
		for i := range dst {
			dst[i] = float64(r.order.Uint16(raw[i*2:]))
		}
	case TypeFloat32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(r.order.Uint32(raw[i*4:])))
		}
	case TypeFloat64:
		for i := range dst {
			dst[i] = math.Float64frombits(r.order.Uint64(raw[i*8:]))
		}
	default:
		return fmt.Errorf("raster: unsupported data type %d", r.Header.DataType)
	}
	return nil
}

// Writer streams a single-band float32 BSQ raster, block by block. Blocks
// are positional, so out-of-order writes land correctly, but the handle is
// single-owner like the reader's.
type Writer struct {
	hdr  Header
	f    *os.File
	path string
}

// OpenWrite creates a raster for block writing. The template header supplies
// the spatial dimensions; the writer forces one float32 band in BSQ layout
// with little-endian byte order and a NaN data-ignore value.
func OpenWrite(path string, template *Header) (*Writer, error) {
	if template == nil || template.Samples <= 0 || template.Lines <= 0 {
		return nil, fmt.Errorf("raster: writer needs template dimensions")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("raster: create %s: %w", path, err)
	}
	nan := math.NaN()
	hdr := Header{
		Samples:         template.Samples,
		Lines:           template.Lines,
		Bands:           1,
		DataType:        TypeFloat32,
		Interleave:      "bsq",
		ByteOrder:       0,
		DataIgnoreValue: &nan,
	}
	return &Writer{hdr: hdr, f: f, path: path}, nil
}

// SetDescription stores a free-text description in the output header.
func (w *Writer) SetDescription(desc string) { w.hdr.Description = desc }

// SetBandNames stores the band-name list in the output header.
func (w *Writer) SetBandNames(names []string) {
	w.hdr.BandNames = append([]string{}, names...)
}

// WriteBlock writes one block of pixel values at the given starting row.
// len(data) must be a whole number of rows.
func (w *Writer) WriteBlock(data []float64, rowStart int) error {
	if len(data)%w.hdr.Samples != 0 {
		return fmt.Errorf("raster: block of %d values is not a whole row multiple of %d", len(data), w.hdr.Samples)
	}
	rows := len(data) / w.hdr.Samples
	if rowStart < 0 || rowStart+rows > w.hdr.Lines {
		return fmt.Errorf("raster: block rows [%d, %d) outside [0, %d)", rowStart, rowStart+rows, w.hdr.Lines)
	}
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
	}
	off := int64(rowStart) * int64(w.hdr.Samples) * 4
	if _, err := w.f.WriteAt(raw, off); err != nil {
		return fmt.Errorf("raster: write block at row %d: %w", rowStart, err)
	}
	return nil
}

// Close finalises the pixel file and writes the sidecar header.
func (w *Writer) Close() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("raster: close %s: %w", w.path, err)
	}
	return w.hdr.Write(w.path)
}
