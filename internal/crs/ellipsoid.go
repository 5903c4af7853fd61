package crs

import "fmt"

// Ellipsoid describes a reference ellipsoid by semi-major axis and inverse flattening.
type Ellipsoid struct {
	Name string
	A    float64
	InvF float64 // 0 for a sphere
}

var (
	// GRS80 is the NAD83 ellipsoid.
	GRS80 = Ellipsoid{Name: "GRS 1980", A: 6378137, InvF: 298.257222101}
	// WGS84 is the WGS 84 ellipsoid.
	WGS84 = Ellipsoid{Name: "WGS 84", A: 6378137, InvF: 298.257223563}
	// Sphere is the spherical earth used by Web Mercator.
	Sphere = Ellipsoid{Name: "Popular Visualisation Sphere", A: 6378137}
)

func (e Ellipsoid) projParams() string {
	if e.InvF == 0 {
		return fmt.Sprintf("+a=%s +b=%s", num(e.A), num(e.A))
	}
	return fmt.Sprintf("+a=%s +rf=%s", num(e.A), num(e.InvF))
}
