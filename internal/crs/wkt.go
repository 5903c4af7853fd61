package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// wktNode is one KEYWORD[...] element of a WKT1 string.
type wktNode struct {
	keyword  string
	strs     []string
	nums     []float64
	children []*wktNode
}

func (n *wktNode) child(keyword string) *wktNode {
	for _, c := range n.children {
		if strings.EqualFold(c.keyword, keyword) {
			return c
		}
	}
	return nil
}

func (n *wktNode) name() string {
	if len(n.strs) == 0 {
		return ""
	}
	return n.strs[0]
}

type wktParser struct {
	s   string
	pos int
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) && unicode.IsSpace(rune(p.s[p.pos])) {
		p.pos++
	}
}

func (p *wktParser) parseNode() (*wktNode, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && (unicode.IsLetter(rune(p.s[p.pos])) || unicode.IsDigit(rune(p.s[p.pos])) || p.s[p.pos] == '_') {
		p.pos++
	}
	if start == p.pos {
		return nil, fmt.Errorf("wkt: expected keyword at offset %d", p.pos)
	}
	node := &wktNode{keyword: strings.ToUpper(p.s[start:p.pos])}
	p.skipSpace()
	if p.pos >= len(p.s) || (p.s[p.pos] != '[' && p.s[p.pos] != '(') {
		return nil, fmt.Errorf("wkt: expected '[' after %s", node.keyword)
	}
	p.pos++
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("wkt: unterminated %s", node.keyword)
		}
		ch := p.s[p.pos]
		switch {
		case ch == ']' || ch == ')':
			p.pos++
			return node, nil
		case ch == ',':
			p.pos++
		case ch == '"':
			end := strings.IndexByte(p.s[p.pos+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("wkt: unterminated string in %s", node.keyword)
			}
			node.strs = append(node.strs, p.s[p.pos+1:p.pos+1+end])
			p.pos += end + 2
		case ch == '-' || ch == '+' || ch == '.' || unicode.IsDigit(rune(ch)):
			start := p.pos
			for p.pos < len(p.s) && strings.ContainsRune("+-.0123456789eE", rune(p.s[p.pos])) {
				p.pos++
			}
			v, err := strconv.ParseFloat(p.s[start:p.pos], 64)
			if err != nil {
				return nil, fmt.Errorf("wkt: bad number %q", p.s[start:p.pos])
			}
			node.nums = append(node.nums, v)
		default:
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
		}
	}
}

func parseWKTTree(s string) (*wktNode, error) {
	p := &wktParser{s: s}
	return p.parseNode()
}

// ParseWKT resolves an OGC or ESRI WKT1 definition. An AUTHORITY on the root
// element is tried first; otherwise the projection is rebuilt from its
// parameters. Definitions outside the built-in families go to libproj when
// it is compiled in.
func ParseWKT(s string) (*CRS, error) {
	c, err := parseWKT1(s)
	if errors.Is(err, ErrUnsupported) {
		if ext, extErr := resolveExternal("", 0, s); extErr == nil {
			return ext, nil
		}
	}
	return c, err
}

func parseWKT1(s string) (*CRS, error) {
	root, err := parseWKTTree(s)
	if err != nil {
		return nil, err
	}
	if auth := root.child("AUTHORITY"); auth != nil && len(auth.strs) >= 2 {
		if code, err := strconv.Atoi(auth.strs[1]); err == nil {
			if c, err := Lookup(strings.ToUpper(auth.strs[0]), code); err == nil {
				return c, nil
			}
		}
	}

	switch root.keyword {
	case "GEOGCS":
		datum, ell := wktDatum(root)
		return &CRS{Name: root.name(), Datum: datum, Ellipsoid: ell}, nil
	case "PROJCS":
		return wktProjected(root)
	}
	return nil, fmt.Errorf("wkt root %s: %w", root.keyword, ErrUnsupported)
}

func wktDatum(geogcs *wktNode) (string, Ellipsoid) {
	datum := DatumNAD83
	ell := GRS80
	d := geogcs.child("DATUM")
	if d == nil {
		return datum, ell
	}
	if strings.Contains(strings.ToUpper(d.name()), "WGS") {
		datum, ell = DatumWGS84, WGS84
	}
	if sph := d.child("SPHEROID"); sph != nil && len(sph.nums) >= 2 {
		ell = Ellipsoid{Name: sph.name(), A: sph.nums[0], InvF: sph.nums[1]}
	}
	return datum, ell
}

func wktProjected(root *wktNode) (*CRS, error) {
	geog := root.child("GEOGCS")
	if geog == nil {
		return nil, fmt.Errorf("PROJCS without GEOGCS: %w", ErrUnsupported)
	}
	datum, ell := wktDatum(geog)

	if unit := root.child("UNIT"); unit != nil && len(unit.nums) > 0 && math.Abs(unit.nums[0]-1) > 1e-9 {
		return nil, fmt.Errorf("linear unit %q (%g m): %w", unit.name(), unit.nums[0], ErrUnsupported)
	}

	params := map[string]float64{}
	for _, c := range root.children {
		if c.keyword == "PARAMETER" && len(c.nums) > 0 {
			params[strings.ToLower(c.name())] = c.nums[0]
		}
	}
	first := func(keys ...string) float64 {
		for _, k := range keys {
			if v, ok := params[k]; ok {
				return v
			}
		}
		return 0
	}

	projNode := root.child("PROJECTION")
	if projNode == nil {
		return nil, fmt.Errorf("PROJCS without PROJECTION: %w", ErrUnsupported)
	}
	c := &CRS{Name: root.name(), Datum: datum, Ellipsoid: ell}
	switch strings.ToLower(projNode.name()) {
	case "albers", "albers_conic_equal_area":
		c.proj = NewAlbers(ell,
			first("latitude_of_center", "latitude_of_origin"),
			first("longitude_of_center", "central_meridian"),
			first("standard_parallel_1"),
			first("standard_parallel_2"),
			first("false_easting"),
			first("false_northing"))
	case "transverse_mercator":
		k := first("scale_factor")
		if k == 0 {
			k = 1
		}
		c.proj = NewTransverseMercator(ell,
			first("latitude_of_origin"),
			first("central_meridian"),
			k,
			first("false_easting"),
			first("false_northing"))
	case "mercator_auxiliary_sphere", "popular_visualisation_pseudo_mercator":
		c.proj = NewWebMercator()
	default:
		return nil, fmt.Errorf("projection %q: %w", projNode.name(), ErrUnsupported)
	}
	return c, nil
}
