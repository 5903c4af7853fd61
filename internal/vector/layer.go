// Package vector holds the in-memory feature table shared by every pipeline
// step: an ordered attribute schema, features carrying orb geometries, and
// the layer's CRS. Overlay and spatial-join operations live here as well.
package vector

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/parcelmerge/internal/crs"
)

// FieldType is the storage class of an attribute column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInteger
	FieldReal
	FieldBlob
	// FieldDate holds ISO 8601 "YYYY-MM-DD" text.
	FieldDate
	// FieldDateTime holds ISO 8601 UTC text, "YYYY-MM-DDTHH:MM:SS.SSSZ".
	FieldDateTime
)

// Layouts of date and datetime attribute values.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.000Z"
)

// String returns the SQLite/GeoPackage column type name.
func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldReal:
		return "REAL"
	case FieldBlob:
		return "BLOB"
	case FieldDate:
		return "DATE"
	case FieldDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// Field is one attribute column.
type Field struct {
	Name string
	Type FieldType
}

// Feature is one row: geometry plus attributes keyed by field name.
// A missing key or a nil value is a NULL attribute.
type Feature struct {
	FID      int64
	Geometry orb.Geometry
	Attrs    map[string]any
}

// Get returns the attribute value and whether it is non-NULL.
func (f *Feature) Get(name string) (any, bool) {
	v, ok := f.Attrs[name]
	return v, ok && v != nil
}

// Set stores an attribute value.
func (f *Feature) Set(name string, v any) {
	if f.Attrs == nil {
		f.Attrs = make(map[string]any)
	}
	f.Attrs[name] = v
}

// Layer is an ordered feature table in a single CRS.
type Layer struct {
	Name     string
	CRS      *crs.CRS
	Fields   []Field
	Features []*Feature
}

// NewLayer returns an empty layer.
func NewLayer(name string, c *crs.CRS) *Layer {
	return &Layer{Name: name, CRS: c}
}

// Len returns the number of features.
func (l *Layer) Len() int {
	return len(l.Features)
}

// FieldIndex returns the position of a field or -1.
func (l *Layer) FieldIndex(name string) int {
	for i, f := range l.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// HasField reports whether the schema contains name.
func (l *Layer) HasField(name string) bool {
	return l.FieldIndex(name) >= 0
}

// AddField appends a field, or updates the type of an existing one in place.
func (l *Layer) AddField(f Field) {
	if i := l.FieldIndex(f.Name); i >= 0 {
		l.Fields[i].Type = f.Type
		return
	}
	l.Fields = append(l.Fields, f)
}

// DropField removes a field and its values.
func (l *Layer) DropField(name string) {
	i := l.FieldIndex(name)
	if i < 0 {
		return
	}
	l.Fields = append(l.Fields[:i:i], l.Fields[i+1:]...)
	for _, f := range l.Features {
		delete(f.Attrs, name)
	}
}

// RenameField renames a field and moves its values.
func (l *Layer) RenameField(from, to string) error {
	i := l.FieldIndex(from)
	if i < 0 {
		return fmt.Errorf("layer %s: no field %q", l.Name, from)
	}
	if from == to {
		return nil
	}
	l.DropField(to)
	i = l.FieldIndex(from)
	l.Fields[i].Name = to
	for _, f := range l.Features {
		if v, ok := f.Attrs[from]; ok {
			delete(f.Attrs, from)
			f.Attrs[to] = v
		}
	}
	return nil
}

// SelectFields keeps only the named fields, in the given order.
func (l *Layer) SelectFields(names ...string) error {
	fields := make([]Field, 0, len(names))
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		i := l.FieldIndex(n)
		if i < 0 {
			return fmt.Errorf("layer %s: no field %q", l.Name, n)
		}
		fields = append(fields, l.Fields[i])
		keep[n] = true
	}
	for _, f := range l.Features {
		for k := range f.Attrs {
			if !keep[k] {
				delete(f.Attrs, k)
			}
		}
	}
	l.Fields = fields
	return nil
}

// Filter returns a layer sharing this layer's schema and the features for
// which keep returns true, in their original order.
func (l *Layer) Filter(keep func(*Feature) bool) *Layer {
	out := &Layer{Name: l.Name, CRS: l.CRS, Fields: append([]Field(nil), l.Fields...)}
	for _, f := range l.Features {
		if keep(f) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// Bound returns the envelope of all feature geometries.
func (l *Layer) Bound() orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}
