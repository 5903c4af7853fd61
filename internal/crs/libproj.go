//go:build proj

package crs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pebbe/proj/v5"
)

// Engine names the coordinate engine compiled into this binary.
const Engine = "libproj"

// A PROJ context is not safe for concurrent use.
var (
	projMu  sync.Mutex
	projCtx = proj.NewContext()
)

// newOperation asks libproj for the best available pipeline between the two
// systems, including datum shifts the built-in engine ignores.
func newOperation(src, dst *CRS) (operation, error) {
	projMu.Lock()
	pj, err := projCtx.CreateCRS2CRS(src.Definition(), dst.Definition())
	projMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("libproj: %v: %w", err, ErrUnsupported)
	}
	srcSwap, dstSwap := latLonOrder(src), latLonOrder(dst)
	return func(x, y float64) (float64, float64, error) {
		if srcSwap {
			x, y = y, x
		}
		projMu.Lock()
		u, v, _, _, err := pj.Trans(proj.Fwd, x, y, 0, 0)
		projMu.Unlock()
		if err != nil {
			return 0, 0, fmt.Errorf("libproj transform (%g, %g): %w", x, y, err)
		}
		if dstSwap {
			u, v = v, u
		}
		return u, v, nil
	}, nil
}

// latLonOrder reports whether libproj expects latitude first. EPSG
// geographic codes and WKT2 GEOGCRS follow the authority axis order.
func latLonOrder(c *CRS) bool {
	if !c.Geographic() {
		return false
	}
	if c.Authority == "EPSG" && c.Code != 0 {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(c.definition), "GEOGCRS")
}

// resolveExternal builds a CRS from an authority code, WKT or PROJ string
// that the built-in registry and WKT1 reader cannot model.
func resolveExternal(authority string, code int, def string) (*CRS, error) {
	text := def
	if text == "" {
		text = fmt.Sprintf("%s:%d", authority, code)
	}
	projMu.Lock()
	defer projMu.Unlock()
	pj, err := projCtx.Create(text)
	if err != nil {
		return nil, fmt.Errorf("libproj %s: %v: %w", abbreviate(text), err, ErrUnsupported)
	}
	defer pj.Close()
	info, err := pj.Info()
	if err != nil {
		return nil, fmt.Errorf("libproj %s: %v: %w", abbreviate(text), err, ErrUnsupported)
	}
	name := info.Description
	if name == "" {
		name = abbreviate(text)
	}
	return &CRS{
		Authority:  authority,
		Code:       code,
		Name:       name,
		definition: text,
		geographic: strings.Contains(info.Definition, "proj=longlat") || strings.Contains(info.Definition, "proj=latlong"),
	}, nil
}

func abbreviate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
