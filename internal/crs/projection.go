package crs

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/go-spatial/proj/core"
	"github.com/go-spatial/proj/support"

	// registers aea, etmerc, utm and merc
	_ "github.com/go-spatial/proj/operations"
)

// Projection methods understood by the built-in engine.
const (
	MethodAlbers             = "aea"
	MethodTransverseMercator = "etmerc"
	MethodUTM                = "utm"
	MethodMercator           = "merc"
)

// maxMercatorLat keeps Web Mercator finite at the poles.
const maxMercatorLat = 85.0511287798066

// Projection is a PROJ-style parameter set for a projected CRS. Angles are
// degrees, offsets metres.
type Projection struct {
	Method     string
	Lat0, Lon0 float64
	Lat1, Lat2 float64 // standard parallels (aea)
	K0         float64 // scale factor (etmerc, utm, merc)
	X0, Y0     float64
	Zone       int // utm
	South      bool
	Ellipsoid  Ellipsoid

	once sync.Once
	err  error
	// operations keep per-call scratch state
	mu   sync.Mutex
	conv core.IConvertLPToXY
}

// NewAlbers returns an Albers equal-area conic projection.
func NewAlbers(ell Ellipsoid, lat0, lon0, lat1, lat2, fe, fn float64) *Projection {
	return &Projection{Method: MethodAlbers, Lat0: lat0, Lon0: lon0, Lat1: lat1, Lat2: lat2, X0: fe, Y0: fn, Ellipsoid: ell}
}

// NewTransverseMercator returns a Transverse Mercator projection.
func NewTransverseMercator(ell Ellipsoid, lat0, lon0, k0, fe, fn float64) *Projection {
	return &Projection{Method: MethodTransverseMercator, Lat0: lat0, Lon0: lon0, K0: k0, X0: fe, Y0: fn, Ellipsoid: ell}
}

// NewUTM returns the UTM projection for a zone on the given ellipsoid.
func NewUTM(ell Ellipsoid, zone int, south bool) *Projection {
	p := &Projection{Method: MethodUTM, Zone: zone, South: south, Lon0: float64(zone*6 - 183), K0: 0.9996, X0: 500000, Ellipsoid: ell}
	if south {
		p.Y0 = 10000000
	}
	return p
}

// NewWebMercator returns the spherical Pseudo-Mercator of EPSG:3857.
func NewWebMercator() *Projection {
	return &Projection{Method: MethodMercator, K0: 1, Ellipsoid: Sphere}
}

// ProjString renders the projection as a PROJ definition with angles in degrees.
func (p *Projection) ProjString() string {
	return p.render(func(deg float64) string { return num(deg) }) + " +units=m"
}

// Params returns a canonical parameter string used for CRS equality.
func (p *Projection) Params() string {
	return p.ProjString()
}

// render builds the definition; origin angles go through origin so the
// engine string can carry them in radians.
func (p *Projection) render(origin func(float64) string) string {
	var b strings.Builder
	b.WriteString("+proj=" + p.Method)
	switch p.Method {
	case MethodUTM:
		fmt.Fprintf(&b, " +zone=%d", p.Zone)
		if p.South {
			b.WriteString(" +south")
		}
	case MethodAlbers:
		fmt.Fprintf(&b, " +lat_0=%s +lon_0=%s +lat_1=%s +lat_2=%s +x_0=%s +y_0=%s",
			origin(p.Lat0), origin(p.Lon0), num(p.Lat1), num(p.Lat2), num(p.X0), num(p.Y0))
	case MethodTransverseMercator, MethodMercator:
		fmt.Fprintf(&b, " +lat_0=%s +lon_0=%s +k_0=%s +x_0=%s +y_0=%s",
			origin(p.Lat0), origin(p.Lon0), num(p.K0), num(p.X0), num(p.Y0))
	}
	b.WriteString(" " + p.Ellipsoid.projParams())
	return b.String()
}

// engineString is the definition handed to go-spatial/proj, which reads
// lat_0 and lon_0 as radians and mis-scales output when +units is given.
func (p *Projection) engineString() string {
	return p.render(func(deg float64) string { return num(support.DDToR(deg)) })
}

func (p *Projection) init() error {
	p.once.Do(func() {
		ps, err := support.NewProjString(p.engineString())
		if err != nil {
			p.err = fmt.Errorf("%s: %v: %w", p.ProjString(), err, ErrUnsupported)
			return
		}
		_, op, err := core.NewSystem(ps)
		if err != nil {
			p.err = fmt.Errorf("%s: %v: %w", p.ProjString(), err, ErrUnsupported)
			return
		}
		conv, ok := op.(core.IConvertLPToXY)
		if !ok || !op.GetDescription().IsConvertLPToXY() {
			p.err = fmt.Errorf("%s is not a forward projection: %w", p.Method, ErrUnsupported)
			return
		}
		p.conv = conv
	})
	return p.err
}

// Forward projects lon/lat degrees to metres.
func (p *Projection) Forward(lon, lat float64) (float64, float64, error) {
	if err := p.init(); err != nil {
		return 0, 0, err
	}
	if p.Method == MethodMercator {
		lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	}
	p.mu.Lock()
	xy, err := p.conv.Forward(&core.CoordLP{Lam: support.DDToR(lon), Phi: support.DDToR(lat)})
	p.mu.Unlock()
	if err != nil {
		return 0, 0, fmt.Errorf("project (%g, %g) to %s: %w", lon, lat, p.Method, err)
	}
	return xy.X, xy.Y, nil
}

// Inverse converts projected metres back to lon/lat degrees.
func (p *Projection) Inverse(x, y float64) (float64, float64, error) {
	if err := p.init(); err != nil {
		return 0, 0, err
	}
	p.mu.Lock()
	lp, err := p.conv.Inverse(&core.CoordXY{X: x, Y: y})
	p.mu.Unlock()
	if err != nil {
		return 0, 0, fmt.Errorf("unproject (%g, %g) from %s: %w", x, y, p.Method, err)
	}
	return support.RToDD(lp.Lam), support.RToDD(lp.Phi), nil
}

// WKT returns the PROJECTION and PARAMETER nodes of an OGC WKT1 PROJCS.
func (p *Projection) WKT() string {
	switch p.Method {
	case MethodAlbers:
		return fmt.Sprintf(`PROJECTION["Albers_Conic_Equal_Area"],PARAMETER["latitude_of_center",%s],PARAMETER["longitude_of_center",%s],PARAMETER["standard_parallel_1",%s],PARAMETER["standard_parallel_2",%s],PARAMETER["false_easting",%s],PARAMETER["false_northing",%s]`,
			num(p.Lat0), num(p.Lon0), num(p.Lat1), num(p.Lat2), num(p.X0), num(p.Y0))
	case MethodMercator:
		return `PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],EXTENSION["PROJ4","+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +wktext +no_defs"]`
	}
	return fmt.Sprintf(`PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",%s],PARAMETER["central_meridian",%s],PARAMETER["scale_factor",%s],PARAMETER["false_easting",%s],PARAMETER["false_northing",%s]`,
		num(p.Lat0), num(p.Lon0), num(p.K0), num(p.X0), num(p.Y0))
}
