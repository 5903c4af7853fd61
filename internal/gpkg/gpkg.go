// Package gpkg reads and writes GeoPackage feature tables through the
// modernc.org/sqlite driver.
//
// Only the subset needed for feature layers is handled: gpkg_contents,
// gpkg_geometry_columns, gpkg_spatial_ref_sys and standard geometry blobs.
// Spatial index and tile extensions are neither read nor written.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

// ErrNoFeatureTable is returned when a GeoPackage has no matching features table.
var ErrNoFeatureTable = errors.New("gpkg: no feature table")

// DB is an open GeoPackage.
type DB struct {
	*sql.DB
	path string
}

// Open opens an existing GeoPackage.
func Open(path string) (*DB, error) {
	// The driver would create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// LayerInfo describes one row of gpkg_contents joined with its geometry column.
type LayerInfo struct {
	Name           string
	GeometryColumn string
	GeometryType   string
	SRSID          int
}

// Layers lists the feature tables in file order.
func (d *DB) Layers(ctx context.Context) ([]LayerInfo, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT c.table_name, g.column_name, g.geometry_type_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.rowid`)
	if err != nil {
		return nil, fmt.Errorf("list layers in %s: %w", d.path, err)
	}
	defer rows.Close()

	var layers []LayerInfo
	for rows.Next() {
		var li LayerInfo
		if err := rows.Scan(&li.Name, &li.GeometryColumn, &li.GeometryType, &li.SRSID); err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		layers = append(layers, li)
	}
	return layers, rows.Err()
}

// Layer returns the named feature table, or the first one when name is empty.
func (d *DB) Layer(ctx context.Context, name string) (LayerInfo, error) {
	layers, err := d.Layers(ctx)
	if err != nil {
		return LayerInfo{}, err
	}
	for _, li := range layers {
		if name == "" || li.Name == name {
			return li, nil
		}
	}
	if name == "" {
		return LayerInfo{}, fmt.Errorf("%s: %w", d.path, ErrNoFeatureTable)
	}
	return LayerInfo{}, fmt.Errorf("%s: layer %q: %w", d.path, name, ErrNoFeatureTable)
}

// SRS resolves a gpkg_spatial_ref_sys row.
func (d *DB) SRS(ctx context.Context, srsID int) (*crs.CRS, error) {
	var org, def string
	var code int
	err := d.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`,
		srsID).Scan(&org, &code, &def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("srs_id %d not in gpkg_spatial_ref_sys: %w", srsID, crs.ErrUnsupported)
	}
	if err != nil {
		return nil, fmt.Errorf("query srs %d: %w", srsID, err)
	}
	return crs.FromGPKG(org, code, def)
}

type column struct {
	name string
	typ  string
	pk   bool
}

func (d *DB) columns(ctx context.Context, table string) ([]column, error) {
	rows, err := d.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols = append(cols, column{name: name, typ: typ, pk: pk > 0})
	}
	return cols, rows.Err()
}

// fieldType maps a declared SQLite column type to a FieldType.
func fieldType(decl string) vector.FieldType {
	t := strings.ToUpper(decl)
	switch {
	case t == "DATE":
		return vector.FieldDate
	case strings.Contains(t, "DATETIME"), strings.Contains(t, "TIMESTAMP"):
		return vector.FieldDateTime
	case strings.Contains(t, "INT"), t == "BOOLEAN":
		return vector.FieldInteger
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return vector.FieldReal
	case t == "BLOB":
		return vector.FieldBlob
	default:
		return vector.FieldText
	}
}

// ReadLayer loads a whole feature table. An empty name selects the first one.
func (d *DB) ReadLayer(ctx context.Context, name string) (*vector.Layer, error) {
	info, err := d.Layer(ctx, name)
	if err != nil {
		return nil, err
	}
	ref, err := d.SRS(ctx, info.SRSID)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", info.Name, err)
	}
	cols, err := d.columns(ctx, info.Name)
	if err != nil {
		return nil, err
	}

	layer := vector.NewLayer(info.Name, ref)
	pk := ""
	selects := []string{}
	for _, c := range cols {
		switch {
		case c.pk && pk == "" && fieldType(c.typ) == vector.FieldInteger:
			pk = c.name
		case c.name == info.GeometryColumn:
		default:
			layer.AddField(vector.Field{Name: c.name, Type: fieldType(c.typ)})
			selects = append(selects, quoteIdent(c.name))
		}
	}
	fidExpr, order := "rowid", "rowid"
	if pk != "" {
		fidExpr, order = quoteIdent(pk), quoteIdent(pk)
	}
	query := fmt.Sprintf("SELECT %s, %s", fidExpr, quoteIdent(info.GeometryColumn))
	if len(selects) > 0 {
		query += ", " + strings.Join(selects, ", ")
	}
	query += fmt.Sprintf(" FROM %s ORDER BY %s", quoteIdent(info.Name), order)

	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read layer %s: %w", info.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fid  int64
			blob []byte
		)
		vals := make([]any, len(layer.Fields))
		dest := make([]any, 0, len(vals)+2)
		dest = append(dest, &fid, &blob)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", info.Name, err)
		}
		f := &vector.Feature{FID: fid, Attrs: make(map[string]any, len(vals))}
		if len(blob) > 0 {
			g, _, err := DecodeGeometry(blob)
			if err != nil {
				return nil, fmt.Errorf("layer %s fid %d: %w", info.Name, fid, err)
			}
			f.Geometry = g
		}
		for i, field := range layer.Fields {
			f.Attrs[field.Name] = normalize(vals[i], field.Type)
		}
		layer.Features = append(layer.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read layer %s: %w", info.Name, err)
	}
	return layer, nil
}

// normalize maps driver values onto the layer's attribute types. The sqlite
// driver parses DATE and DATETIME columns into time.Time; those come back
// as ISO 8601 text.
func normalize(v any, t vector.FieldType) any {
	switch x := v.(type) {
	case []byte:
		if t != vector.FieldBlob {
			return string(x)
		}
	case time.Time:
		if t == vector.FieldDate {
			return x.Format(vector.DateLayout)
		}
		return x.UTC().Format(vector.DateTimeLayout)
	}
	return v
}

// ReadFile opens path, reads one layer and closes the file.
func ReadFile(ctx context.Context, path, layer string) (*vector.Layer, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.ReadLayer(ctx, layer)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
