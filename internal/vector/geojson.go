package vector

import (
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
)

// WriteGeoJSON writes the layer as a FeatureCollection. Coordinates are
// written in the layer CRS; features without geometry are skipped.
func WriteGeoJSON(w io.Writer, l *Layer) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.FID
		for _, field := range l.Fields {
			gf.Properties[field.Name] = f.Attrs[field.Name]
		}
		fc.Append(gf)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
