package crs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for CRS definitions this package cannot model.
var ErrUnsupported = errors.New("unsupported coordinate reference system")

// Datum names used in generated WKT.
const (
	DatumNAD83 = "North_American_Datum_1983"
	DatumWGS84 = "WGS_1984"
)

// CRS is a resolved coordinate reference system.
type CRS struct {
	Authority string // "EPSG", "ESRI" or "" when defined only by parameters
	Code      int
	Name      string
	Datum     string
	Ellipsoid Ellipsoid

	proj *Projection // nil for geographic systems

	// definition is set for systems resolved by libproj alone; only the
	// libproj engine can transform them.
	definition string
	geographic bool
}

// Geographic reports whether coordinates are lon/lat degrees.
func (c *CRS) Geographic() bool {
	if c.definition != "" {
		return c.geographic
	}
	return c.proj == nil
}

// Definition returns the text an external engine resolves this system from:
// the authority code when there is one, else a PROJ string.
func (c *CRS) Definition() string {
	switch {
	case c.Authority != "" && c.Code != 0:
		return c.Authority + ":" + strconv.Itoa(c.Code)
	case c.definition != "":
		return c.definition
	}
	return c.ProjString()
}

// ProjString renders the system as a PROJ CRS definition.
func (c *CRS) ProjString() string {
	if c.proj == nil {
		return "+proj=longlat " + c.Ellipsoid.projParams() + " +no_defs +type=crs"
	}
	return c.proj.ProjString() + " +no_defs +type=crs"
}

// String returns "AUTH:code" when known, otherwise the CRS name.
func (c *CRS) String() string {
	if c == nil {
		return "<unknown>"
	}
	if c.Authority != "" && c.Code != 0 {
		return c.Authority + ":" + strconv.Itoa(c.Code)
	}
	return c.Name
}

func (c *CRS) key() string {
	if c.definition != "" {
		return c.definition
	}
	if c.proj == nil {
		return fmt.Sprintf("longlat a=%g rf=%g", c.Ellipsoid.A, c.Ellipsoid.InvF)
	}
	return c.proj.Params()
}

// Equal reports whether two systems describe the same coordinates. Codes are
// compared when both sides carry one; otherwise projection parameters decide.
// NAD83 and WGS84 geographic systems compare unequal here even though
// Transform treats them as coincident.
func (c *CRS) Equal(o *CRS) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Authority != "" && c.Authority == o.Authority && c.Code != 0 && c.Code == o.Code {
		return true
	}
	return c.key() == o.key()
}

// ToGeographic converts native coordinates to lon/lat degrees.
func (c *CRS) ToGeographic(x, y float64) (float64, float64, error) {
	if c.definition != "" {
		return 0, 0, fmt.Errorf("%s needs the libproj engine: %w", c, ErrUnsupported)
	}
	if c.proj == nil {
		return x, y, nil
	}
	return c.proj.Inverse(x, y)
}

// FromGeographic converts lon/lat degrees to native coordinates.
func (c *CRS) FromGeographic(lon, lat float64) (float64, float64, error) {
	if c.definition != "" {
		return 0, 0, fmt.Errorf("%s needs the libproj engine: %w", c, ErrUnsupported)
	}
	if c.proj == nil {
		return lon, lat, nil
	}
	return c.proj.Forward(lon, lat)
}

// GPKGSRSID returns the srs_id used when this system is written to a GeoPackage.
// Parameter-only systems get an id in the user range.
func (c *CRS) GPKGSRSID() int {
	if c.Authority == "EPSG" && c.Code != 0 {
		return c.Code
	}
	if c.Code != 0 {
		return 100000 + c.Code%100000
	}
	return 999999
}

// WKT renders an OGC WKT1 definition suitable for gpkg_spatial_ref_sys and .prj files.
// Systems known only to libproj return the WKT they were resolved from, or
// "undefined" when they came from a code or PROJ string.
func (c *CRS) WKT() string {
	if c.definition != "" {
		if strings.Contains(c.definition, "[") {
			return c.definition
		}
		return "undefined"
	}
	geog := fmt.Sprintf(`GEOGCS["%s",DATUM["%s",SPHEROID["%s",%s,%s]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]`,
		geogName(c), c.Datum, c.Ellipsoid.Name, num(c.Ellipsoid.A), num(c.Ellipsoid.InvF))
	if c.proj == nil {
		return geog + c.authorityWKT() + "]"
	}
	return fmt.Sprintf(`PROJCS["%s",%s],%s,UNIT["metre",1]%s]`, c.Name, geog, c.proj.WKT(), c.authorityWKT())
}

func (c *CRS) authorityWKT() string {
	if c.Authority == "" || c.Code == 0 {
		return ""
	}
	return fmt.Sprintf(`,AUTHORITY["%s","%d"]`, c.Authority, c.Code)
}

func geogName(c *CRS) string {
	if c.Datum == DatumWGS84 {
		return "WGS 84"
	}
	return "NAD83"
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Transformer converts coordinates from one system to another.
type Transformer struct {
	src, dst *CRS
	identity bool
	op       operation
}

// operation converts one coordinate between two fixed systems.
type operation func(x, y float64) (float64, float64, error)

// NewTransformer returns a Transformer from src to dst.
func NewTransformer(src, dst *CRS) (*Transformer, error) {
	if src == nil {
		return nil, fmt.Errorf("source CRS is unknown: %w", ErrUnsupported)
	}
	if dst == nil {
		return nil, fmt.Errorf("target CRS is unknown: %w", ErrUnsupported)
	}
	t := &Transformer{src: src, dst: dst, identity: src.Equal(dst)}
	if t.identity {
		return t, nil
	}
	op, err := newOperation(src, dst)
	if err != nil {
		return nil, fmt.Errorf("transform %s to %s: %w", src, dst, err)
	}
	t.op = op
	return t, nil
}

// Identity reports whether the transform leaves coordinates unchanged.
func (t *Transformer) Identity() bool {
	return t.identity
}

// Transform converts a single coordinate.
func (t *Transformer) Transform(x, y float64) (float64, float64, error) {
	if t.identity {
		return x, y, nil
	}
	return t.op(x, y)
}

// viaGeographic is the built-in operation: inverse-project the source and
// forward-project into the target.
func viaGeographic(src, dst *CRS) operation {
	return func(x, y float64) (float64, float64, error) {
		lon, lat, err := src.ToGeographic(x, y)
		if err != nil {
			return 0, 0, err
		}
		return dst.FromGeographic(lon, lat)
	}
}

// Parse resolves "EPSG:5070", "ESRI:102039", a bare code, or a WKT1 string.
func Parse(s string) (*CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty CRS: %w", ErrUnsupported)
	}
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "PROJCS") || strings.HasPrefix(upper, "GEOGCS") {
		return ParseWKT(s)
	}
	if strings.HasPrefix(s, "+") || isWKT2(upper) {
		return resolveExternal("", 0, s)
	}
	auth := "EPSG"
	codeStr := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		auth = strings.ToUpper(strings.TrimSpace(s[:i]))
		codeStr = strings.TrimSpace(s[i+1:])
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, fmt.Errorf("parse CRS %q: %w", s, ErrUnsupported)
	}
	return Lookup(auth, code)
}

func isWKT2(upper string) bool {
	for _, kw := range []string{"PROJCRS", "GEOGCRS", "GEODCRS", "BOUNDCRS", "COMPOUNDCRS"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// FromGPKG resolves a gpkg_spatial_ref_sys row. The authority code wins;
// the WKT definition is the fallback.
func FromGPKG(organization string, code int, definition string) (*CRS, error) {
	if c, err := Lookup(strings.ToUpper(organization), code); err == nil {
		return c, nil
	}
	def := strings.TrimSpace(definition)
	if def == "" || strings.EqualFold(def, "undefined") {
		return nil, fmt.Errorf("srs %s:%d has no usable definition: %w", organization, code, ErrUnsupported)
	}
	return ParseWKT(def)
}
