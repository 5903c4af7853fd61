//go:build !proj

package crs

import "fmt"

// Engine names the coordinate engine compiled into this binary.
const Engine = "go-spatial/proj"

func newOperation(src, dst *CRS) (operation, error) {
	return viaGeographic(src, dst), nil
}

// resolveExternal has nothing to fall back to without libproj.
func resolveExternal(authority string, code int, def string) (*CRS, error) {
	if def == "" {
		return nil, fmt.Errorf("%s:%d: %w", authority, code, ErrUnsupported)
	}
	return nil, fmt.Errorf("definition not understood without libproj: %w", ErrUnsupported)
}
