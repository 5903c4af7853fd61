package raster

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// asciiGrid holds an ESRI ASCII grid in memory. Integer grids keep int32
// cells so large nodata sentinels compare exactly.
type asciiGrid struct {
	width  int
	ints   []int32
	floats []float32
}

func (a *asciiGrid) readRow(row, col int, dst []float64) error {
	start := row*a.width + col
	if a.floats != nil {
		for i := range dst {
			dst[i] = float64(a.floats[start+i])
		}
		return nil
	}
	for i := range dst {
		dst[i] = float64(a.ints[start+i])
	}
	return nil
}

func (a *asciiGrid) Close() error { return nil }

func openASCII(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	header := map[string]string{}
	var first string
	for sc.Scan() {
		tok := sc.Text()
		c := tok[0]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') || strings.EqualFold(tok, "nan") {
			first = tok
			break
		}
		if !sc.Scan() {
			break
		}
		header[strings.ToLower(tok)] = sc.Text()
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	h, err := newHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	width, err := h.intValue("ncols")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	height, err := h.intValue("nrows")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cell, err := h.floatValue("cellsize")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cell <= 0 {
		return nil, fmt.Errorf("%s: cellsize %g is not positive", path, cell)
	}
	xll, xCentre, err := h.corner("xllcorner", "xllcenter")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	yll, yCentre, err := h.corner("yllcorner", "yllcenter")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if xCentre {
		xll -= cell / 2
	}
	if yCentre {
		yll -= cell / 2
	}

	n := width * height
	grid := &asciiGrid{width: width, ints: make([]int32, 0, n)}
	add := func(tok string) error {
		if grid.floats == nil {
			if v, err := strconv.ParseInt(tok, 10, 32); err == nil {
				grid.ints = append(grid.ints, int32(v))
				return nil
			}
			grid.floats = make([]float32, len(grid.ints), n)
			for i, v := range grid.ints {
				grid.floats[i] = float32(v)
			}
			grid.ints = nil
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("cell %d: %w", len(grid.floats), err)
		}
		grid.floats = append(grid.floats, float32(v))
		return nil
	}
	count := 0
	if first != "" {
		if err := add(first); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		count++
	}
	for sc.Scan() {
		if count == n {
			return nil, fmt.Errorf("%s: more than %d cells", path, n)
		}
		if err := add(sc.Text()); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if count != n {
		return nil, fmt.Errorf("%s: got %d cells, want %d", path, count, n)
	}

	dtype := "int32"
	if grid.floats != nil {
		dtype = "float32"
	}
	meta := Metadata{
		Driver: "AAIGrid",
		DType:  dtype,
		Width:  width,
		Height: height,
		Count:  1,
		Transform: Transform{
			OriginX:    xll,
			OriginY:    yll + float64(height)*cell,
			CellWidth:  cell,
			CellHeight: cell,
		},
	}
	if nd, ok := h.optFloat("nodata_value"); ok {
		meta.NoData = &nd
	}
	return &Grid{Metadata: meta, rows: grid}, nil
}

// header is a parsed key/value raster header.
type header map[string]string

func newHeader(m map[string]string) (header, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	return header(m), nil
}

func (h header) intValue(key string) (int, error) {
	s, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("header missing %s", key)
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("header %s=%q is not a positive integer", key, s)
	}
	return v, nil
}

func (h header) floatValue(key string) (float64, error) {
	s, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("header missing %s", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("header %s=%q is not a number", key, s)
	}
	return v, nil
}

func (h header) optFloat(key string) (float64, bool) {
	s, ok := h[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// corner returns the corner key's value, or the centre key's value with
// centre=true.
func (h header) corner(cornerKey, centreKey string) (v float64, centre bool, err error) {
	if _, ok := h[cornerKey]; ok {
		v, err = h.floatValue(cornerKey)
		return v, false, err
	}
	v, err = h.floatValue(centreKey)
	return v, true, err
}
