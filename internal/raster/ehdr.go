package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// rawGrid reads rows of an uncompressed band-interleaved grid with ReadAt.
type rawGrid struct {
	f        *os.File
	order    binary.ByteOrder
	dtype    string
	size     int   // bytes per cell
	skip     int64 // bytes before the first row
	rowBytes int64
	buf      []byte
}

func (r *rawGrid) readRow(row, col int, dst []float64) error {
	n := len(dst) * r.size
	if cap(r.buf) < n {
		r.buf = make([]byte, n)
	}
	buf := r.buf[:n]
	off := r.skip + int64(row)*r.rowBytes + int64(col*r.size)
	if _, err := r.f.ReadAt(buf, off); err != nil {
		return err
	}
	for i := range dst {
		b := buf[i*r.size : (i+1)*r.size]
		switch r.dtype {
		case "uint8":
			dst[i] = float64(b[0])
		case "int8":
			dst[i] = float64(int8(b[0]))
		case "int16":
			dst[i] = float64(int16(r.order.Uint16(b)))
		case "uint16":
			dst[i] = float64(r.order.Uint16(b))
		case "int32":
			dst[i] = float64(int32(r.order.Uint32(b)))
		case "uint32":
			dst[i] = float64(r.order.Uint32(b))
		case "float32":
			dst[i] = float64(math.Float32frombits(r.order.Uint32(b)))
		case "float64":
			dst[i] = math.Float64frombits(r.order.Uint64(b))
		}
	}
	return nil
}

func (r *rawGrid) Close() error {
	return r.f.Close()
}

func readHeaderFile(path string) (header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster header: %w", err)
	}
	defer f.Close()

	m := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if k, v, ok := parseHeaderLine(sc.Text()); ok {
			m[k] = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return newHeader(m)
}

// rawDType picks the cell type from the header. .flt files are always
// float32; .bil files use NBITS and PIXELTYPE.
func rawDType(h header, isFLT bool) (string, int, error) {
	if isFLT {
		return "float32", 4, nil
	}
	nbits := 8
	if s, ok := h["nbits"]; ok {
		v, err := strconv.Atoi(s)
		if err != nil {
			return "", 0, fmt.Errorf("header nbits=%q: %w", s, err)
		}
		nbits = v
	}
	pixel := strings.ToUpper(h["pixeltype"])
	switch {
	case pixel == "FLOAT" && nbits == 32:
		return "float32", 4, nil
	case pixel == "FLOAT" && nbits == 64:
		return "float64", 8, nil
	case nbits == 8 && pixel == "SIGNEDINT":
		return "int8", 1, nil
	case nbits == 8:
		return "uint8", 1, nil
	case nbits == 16 && pixel == "UNSIGNEDINT":
		return "uint16", 2, nil
	case nbits == 16:
		return "int16", 2, nil
	case nbits == 32 && pixel == "UNSIGNEDINT":
		return "uint32", 4, nil
	case nbits == 32:
		return "int32", 4, nil
	}
	return "", 0, fmt.Errorf("%w: nbits=%d pixeltype=%q", ErrUnsupportedFormat, nbits, pixel)
}

func byteOrder(h header) binary.ByteOrder {
	switch strings.ToUpper(h["byteorder"]) {
	case "M", "MSBFIRST":
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func openEHdr(path string) (*Grid, error) {
	hdrPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".hdr"
	h, err := readHeaderFile(hdrPath)
	if err != nil {
		return nil, err
	}
	isFLT := strings.EqualFold(filepath.Ext(path), ".flt")

	width, err := h.intValue("ncols")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hdrPath, err)
	}
	height, err := h.intValue("nrows")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hdrPath, err)
	}
	dtype, size, err := rawDType(h, isFLT)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hdrPath, err)
	}

	t, err := rawTransform(h, height)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", hdrPath, err)
	}

	rowBytes := int64(width * size)
	if v, ok := h.optFloat("totalrowbytes"); ok && v > 0 {
		rowBytes = int64(v)
	} else if v, ok := h.optFloat("nbands"); ok && v > 1 {
		rowBytes *= int64(v)
	}
	var skip int64
	if v, ok := h.optFloat("skipbytes"); ok {
		skip = int64(v)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	need := skip + int64(height-1)*rowBytes + int64(width*size)
	if info.Size() < need {
		f.Close()
		return nil, fmt.Errorf("%s: file has %d bytes, header needs %d", path, info.Size(), need)
	}

	meta := Metadata{
		Driver:    "EHdr",
		DType:     dtype,
		Width:     width,
		Height:    height,
		Count:     1,
		Transform: t,
	}
	for _, key := range []string{"nodata_value", "nodata"} {
		if nd, ok := h.optFloat(key); ok {
			meta.NoData = &nd
			break
		}
	}
	return &Grid{Metadata: meta, rows: &rawGrid{
		f:        f,
		order:    byteOrder(h),
		dtype:    dtype,
		size:     size,
		skip:     skip,
		rowBytes: rowBytes,
	}}, nil
}

// rawTransform reads either the corner style (xllcorner/yllcorner/cellsize)
// or the centre style (ulxmap/ulymap/xdim/ydim) georeferencing.
func rawTransform(h header, height int) (Transform, error) {
	if _, ok := h["cellsize"]; ok {
		cell, err := h.floatValue("cellsize")
		if err != nil {
			return Transform{}, err
		}
		if cell <= 0 {
			return Transform{}, fmt.Errorf("cellsize %g is not positive", cell)
		}
		xll, xCentre, err := h.corner("xllcorner", "xllcenter")
		if err != nil {
			return Transform{}, err
		}
		yll, yCentre, err := h.corner("yllcorner", "yllcenter")
		if err != nil {
			return Transform{}, err
		}
		if xCentre {
			xll -= cell / 2
		}
		if yCentre {
			yll -= cell / 2
		}
		return Transform{OriginX: xll, OriginY: yll + float64(height)*cell, CellWidth: cell, CellHeight: cell}, nil
	}

	xdim, ydim := 1.0, 1.0
	if v, ok := h.optFloat("xdim"); ok {
		xdim = v
	}
	if v, ok := h.optFloat("ydim"); ok {
		ydim = v
	}
	ulx := 0.0
	uly := float64(height - 1)
	if v, ok := h.optFloat("ulxmap"); ok {
		ulx = v
	}
	if v, ok := h.optFloat("ulymap"); ok {
		uly = v
	}
	if xdim <= 0 || ydim <= 0 {
		return Transform{}, fmt.Errorf("cell size %gx%g is not positive", xdim, ydim)
	}
	return Transform{OriginX: ulx - xdim/2, OriginY: uly + ydim/2, CellWidth: xdim, CellHeight: ydim}, nil
}
