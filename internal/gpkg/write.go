package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

const (
	applicationID = 0x47504B47 // "GPKG"
	userVersion   = 10300

	fidColumn  = "fid"
	geomColumn = "geom"
)

const schema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name TEXT NOT NULL,
	srs_id INTEGER NOT NULL PRIMARY KEY,
	organization TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition TEXT NOT NULL,
	description TEXT
);
CREATE TABLE gpkg_contents (
	table_name TEXT NOT NULL PRIMARY KEY,
	data_type TEXT NOT NULL,
	identifier TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
	srs_id INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);
CREATE TABLE gpkg_geometry_columns (
	table_name TEXT NOT NULL,
	column_name TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id INTEGER NOT NULL,
	z TINYINT NOT NULL,
	m TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys (srs_id)
);
`

type srsRow struct {
	name, org  string
	id, code   int
	definition string
}

var requiredSRS = []srsRow{
	{name: "Undefined cartesian SRS", org: "NONE", id: -1, code: -1, definition: "undefined"},
	{name: "Undefined geographic SRS", org: "NONE", id: 0, code: 0, definition: "undefined"},
}

// WriteFile writes layer to a new GeoPackage at path under the table name
// table, replacing any existing file.
func WriteFile(ctx context.Context, path, table string, layer *vector.Layer) error {
	if err := validateTable(table, layer); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("replace %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("create geopackage %s: %w", path, err)
	}
	defer db.Close()
	// A single connection keeps the pragmas and the transaction on one handle.
	db.SetMaxOpenConns(1)

	if err := writeLayer(ctx, db, table, layer); err != nil {
		return fmt.Errorf("write geopackage %s: %w", path, err)
	}
	return db.Close()
}

func validateTable(table string, layer *vector.Layer) error {
	if strings.TrimSpace(table) == "" || strings.ContainsRune(table, 0) {
		return fmt.Errorf("invalid layer name %q", table)
	}
	if strings.HasPrefix(strings.ToLower(table), "gpkg_") || strings.HasPrefix(strings.ToLower(table), "sqlite_") {
		return fmt.Errorf("layer name %q uses a reserved prefix", table)
	}
	if layer.CRS == nil {
		return fmt.Errorf("layer %s: %w", layer.Name, crs.ErrUnsupported)
	}
	seen := map[string]bool{fidColumn: true, geomColumn: true}
	for _, f := range layer.Fields {
		key := strings.ToLower(f.Name)
		if seen[key] {
			return fmt.Errorf("layer %s: duplicate or reserved column %q", layer.Name, f.Name)
		}
		if strings.ContainsRune(f.Name, 0) || f.Name == "" {
			return fmt.Errorf("layer %s: invalid column name %q", layer.Name, f.Name)
		}
		seen[key] = true
	}
	return nil
}

func writeLayer(ctx context.Context, db *sql.DB, table string, layer *vector.Layer) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA application_id = %d", applicationID),
		fmt.Sprintf("PRAGMA user_version = %d", userVersion),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create metadata tables: %w", err)
	}

	srsID := layer.CRS.GPKGSRSID()
	rows := append([]srsRow(nil), requiredSRS...)
	wgs84, err := crs.Lookup("EPSG", 4326)
	if err != nil {
		return err
	}
	rows = append(rows, srsRow{name: "WGS 84 geodetic", org: "EPSG", id: 4326, code: 4326, definition: wgs84.WKT()})
	if srsID != 4326 {
		org, code := layer.CRS.Authority, layer.CRS.Code
		if org == "" {
			org, code = "NONE", srsID
		}
		rows = append(rows, srsRow{name: layer.CRS.Name, org: org, id: srsID, code: code, definition: layer.CRS.WKT()})
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition) VALUES (?, ?, ?, ?, ?)`,
			r.name, r.id, r.org, r.code, r.definition); err != nil {
			return fmt.Errorf("insert srs %d: %w", r.id, err)
		}
	}

	geomType := commonGeometryType(layer)
	cols := []string{
		quoteIdent(fidColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(geomColumn) + " " + geomType,
	}
	for _, f := range layer.Fields {
		cols = append(cols, quoteIdent(f.Name)+" "+f.Type.String())
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	names := []string{quoteIdent(geomColumn)}
	marks := []string{"?"}
	for _, f := range layer.Fields {
		names = append(names, quoteIdent(f.Name))
		marks = append(marks, "?")
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range layer.Features {
		args := make([]any, 0, len(layer.Fields)+1)
		if f.Geometry == nil {
			args = append(args, nil)
		} else {
			blob, err := EncodeGeometry(f.Geometry, int32(srsID))
			if err != nil {
				return fmt.Errorf("feature %d: %w", f.FID, err)
			}
			args = append(args, blob)
		}
		for _, field := range layer.Fields {
			v, err := columnValue(f.Attrs[field.Name], field.Type)
			if err != nil {
				return fmt.Errorf("feature %d column %s: %w", f.FID, field.Name, err)
			}
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert feature %d: %w", f.FID, err)
		}
	}

	b := layer.Bound()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		table, table, b.Min[0], b.Min[1], b.Max[0], b.Max[1], srsID); err != nil {
		return fmt.Errorf("insert contents: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, ?, ?, ?, 0, 0)`,
		table, geomColumn, geomType, srsID); err != nil {
		return fmt.Errorf("insert geometry column: %w", err)
	}
	return tx.Commit()
}

// commonGeometryType returns the shared geometry type name of the layer, or
// GEOMETRY when features differ.
func commonGeometryType(layer *vector.Layer) string {
	name := ""
	for _, f := range layer.Features {
		if f.Geometry == nil {
			continue
		}
		t := vector.TypeName(f.Geometry)
		if name == "" {
			name = t
		} else if name != t {
			return "GEOMETRY"
		}
	}
	if name == "" {
		return "GEOMETRY"
	}
	return name
}

func columnValue(v any, t vector.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case vector.FieldInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			return int64(n), nil
		}
	case vector.FieldReal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case vector.FieldBlob:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case vector.FieldDate, vector.FieldDateTime:
		return dateValue(v, t)
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		default:
			return fmt.Sprint(s), nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit %s", v, v, t)
}

// dateValue renders a date or datetime attribute as the ISO 8601 text the
// GeoPackage spec stores in DATE and DATETIME columns.
func dateValue(v any, t vector.FieldType) (any, error) {
	layout := vector.DateLayout
	if t == vector.FieldDateTime {
		layout = vector.DateTimeLayout
	}
	switch d := v.(type) {
	case time.Time:
		if t == vector.FieldDateTime {
			d = d.UTC()
		}
		return d.Format(layout), nil
	case string:
		if _, err := parseDate(d); err != nil {
			return nil, fmt.Errorf("%s value %q: %w", t, d, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("value %v (%T) does not fit %s", v, v, t)
}

// parseDate accepts the ISO 8601 forms found in GeoPackage date columns.
func parseDate(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range []string{vector.DateLayout, vector.DateTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
