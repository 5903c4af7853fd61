package crs

import "fmt"

type entry struct {
	name      string
	datum     string
	ellipsoid Ellipsoid
	proj      func() *Projection
}

var registry = map[string]entry{
	"EPSG:4326":   {name: "WGS 84", datum: DatumWGS84, ellipsoid: WGS84},
	"EPSG:4269":   {name: "NAD83", datum: DatumNAD83, ellipsoid: GRS80},
	"EPSG:4152":   {name: "NAD83(HARN)", datum: DatumNAD83, ellipsoid: GRS80},
	"EPSG:6318":   {name: "NAD83(2011)", datum: DatumNAD83, ellipsoid: GRS80},
	"EPSG:3857":   {name: "WGS 84 / Pseudo-Mercator", datum: DatumWGS84, ellipsoid: WGS84, proj: webMercator},
	"EPSG:900913": {name: "Google Maps Global Mercator", datum: DatumWGS84, ellipsoid: WGS84, proj: webMercator},
	"EPSG:5070":   {name: "NAD83 / Conus Albers", datum: DatumNAD83, ellipsoid: GRS80, proj: conusAlbers},
	"ESRI:102039": {name: "USA_Contiguous_Albers_Equal_Area_Conic_USGS_version", datum: DatumNAD83, ellipsoid: GRS80, proj: conusAlbers},
	"ESRI:102003": {name: "USA_Contiguous_Albers_Equal_Area_Conic", datum: DatumNAD83, ellipsoid: GRS80, proj: func() *Projection {
		return NewAlbers(GRS80, 37.5, -96, 29.5, 45.5, 0, 0)
	}},
	"EPSG:3310": {name: "NAD83 / California Albers", datum: DatumNAD83, ellipsoid: GRS80, proj: californiaAlbers},
	"EPSG:3311": {name: "NAD83(HARN) / California Albers", datum: DatumNAD83, ellipsoid: GRS80, proj: californiaAlbers},
	"EPSG:6414": {name: "NAD83(2011) / California Albers", datum: DatumNAD83, ellipsoid: GRS80, proj: californiaAlbers},
}

func webMercator() *Projection { return NewWebMercator() }

func conusAlbers() *Projection { return NewAlbers(GRS80, 23, -96, 29.5, 45.5, 0, 0) }

func californiaAlbers() *Projection { return NewAlbers(GRS80, 0, -120, 34, 40.5, 0, -4000000) }

// Lookup resolves an authority code.
func Lookup(authority string, code int) (*CRS, error) {
	key := fmt.Sprintf("%s:%d", authority, code)
	if e, ok := registry[key]; ok {
		c := &CRS{Authority: authority, Code: code, Name: e.name, Datum: e.datum, Ellipsoid: e.ellipsoid}
		if e.proj != nil {
			c.proj = e.proj()
		}
		return c, nil
	}
	if authority == "EPSG" {
		if c, ok := utm(code); ok {
			return c, nil
		}
	}
	if c, err := resolveExternal(authority, code, ""); err == nil {
		return c, nil
	}
	return nil, fmt.Errorf("%s: %w", key, ErrUnsupported)
}

// utm resolves NAD83 (269xx) and WGS 84 (326xx north, 327xx south) UTM zones.
func utm(code int) (*CRS, bool) {
	switch {
	case code >= 26901 && code <= 26923:
		zone := code - 26900
		return &CRS{
			Authority: "EPSG", Code: code, Name: fmt.Sprintf("NAD83 / UTM zone %dN", zone),
			Datum: DatumNAD83, Ellipsoid: GRS80, proj: NewUTM(GRS80, zone, false),
		}, true
	case code >= 32601 && code <= 32660:
		zone := code - 32600
		return &CRS{
			Authority: "EPSG", Code: code, Name: fmt.Sprintf("WGS 84 / UTM zone %dN", zone),
			Datum: DatumWGS84, Ellipsoid: WGS84, proj: NewUTM(WGS84, zone, false),
		}, true
	case code >= 32701 && code <= 32760:
		zone := code - 32700
		return &CRS{
			Authority: "EPSG", Code: code, Name: fmt.Sprintf("WGS 84 / UTM zone %dS", zone),
			Datum: DatumWGS84, Ellipsoid: WGS84, proj: NewUTM(WGS84, zone, true),
		}, true
	}
	return nil, false
}
