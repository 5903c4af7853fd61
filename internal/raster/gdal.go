//go:build gdal

package raster

import (
	"fmt"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
)

const gdalEnabled = true

var registerDrivers sync.Once

// gdalGrid reads rows from the first band of a GDAL dataset.
type gdalGrid struct {
	ds   *godal.Dataset
	band godal.Band
}

func (r *gdalGrid) readRow(row, col int, dst []float64) error {
	return r.band.Read(col, row, dst, len(dst), 1)
}

func (r *gdalGrid) Close() error {
	return r.ds.Close()
}

// openGDAL opens any single-band north-up raster GDAL can read, including
// ArcInfo binary grid directories.
func openGDAL(path string) (*Grid, error) {
	registerDrivers.Do(godal.RegisterAll)
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gdal open %s: %w", path, err)
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		ds.Close()
		return nil, fmt.Errorf("%s has no bands: %w", path, ErrUnsupportedFormat)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("gdal geotransform %s: %w", path, err)
	}
	if gt[2] != 0 || gt[4] != 0 || gt[5] >= 0 {
		ds.Close()
		return nil, fmt.Errorf("%s is rotated or south-up: %w", path, ErrUnsupportedFormat)
	}
	st := ds.Structure()
	md := Metadata{
		Driver: ds.Driver().ShortName(),
		DType:  gdalDType(st.DataType),
		Width:  st.SizeX,
		Height: st.SizeY,
		Count:  st.NBands,
		Transform: Transform{
			OriginX: gt[0], OriginY: gt[3],
			CellWidth: gt[1], CellHeight: -gt[5],
		},
	}
	if nd, ok := bands[0].NoData(); ok {
		md.NoData = &nd
	}
	return &Grid{Metadata: md, rows: &gdalGrid{ds: ds, band: bands[0]}, wkt: ds.Projection()}, nil
}

// gdalDType maps GDAL type names to the numpy-style names used elsewhere.
func gdalDType(t godal.DataType) string {
	if t == godal.Byte {
		return "uint8"
	}
	return strings.ToLower(t.String())
}
