//go:build !gdal

package raster

const gdalEnabled = false

func openGDAL(path string) (*Grid, error) {
	return nil, ErrUnsupportedFormat
}
