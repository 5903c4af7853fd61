package gpkg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	sfgeom "github.com/peterstace/simplefeatures/geom"
)

// ErrBadBlob is returned for geometry values that are not GeoPackage binary.
var ErrBadBlob = errors.New("gpkg: invalid geometry blob")

const (
	flagLittleEndian = 0x01
	flagEmpty        = 0x10
	flagExtended     = 0x20
	envelopeXY       = 1
)

var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// DecodeGeometry parses a GeoPackage geometry blob. An empty geometry decodes
// to nil; Z and M ordinates are dropped.
func DecodeGeometry(b []byte) (orb.Geometry, int32, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, 0, ErrBadBlob
	}
	if b[2] != 0 {
		return nil, 0, fmt.Errorf("%w: version %d", ErrBadBlob, b[2])
	}
	flags := b[3]
	if flags&flagExtended != 0 {
		return nil, 0, fmt.Errorf("%w: extended geometry types are not supported", ErrBadBlob)
	}
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEndian != 0 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(b[4:8]))

	envSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, 0, fmt.Errorf("%w: envelope indicator %d", ErrBadBlob, (flags>>1)&0x07)
	}
	start := 8 + envSize
	if len(b) < start {
		return nil, 0, fmt.Errorf("%w: truncated header", ErrBadBlob)
	}
	if flags&flagEmpty != 0 {
		return nil, srsID, nil
	}
	sg, err := sfgeom.UnmarshalWKB(b[start:], sfgeom.DisableAllValidations)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadBlob, err)
	}
	if sg.IsEmpty() {
		return nil, srsID, nil
	}
	g, err := wkb.Unmarshal(sg.Force2D().AsBinary())
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadBlob, err)
	}
	return g, srsID, nil
}

// EncodeGeometry writes g as a little-endian GeoPackage blob with an XY envelope.
func EncodeGeometry(g orb.Geometry, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode wkb: %w", err)
	}
	out := make([]byte, 8+32, 8+32+len(body))
	out[0], out[1], out[2] = 'G', 'P', 0
	out[3] = flagLittleEndian | envelopeXY<<1
	binary.LittleEndian.PutUint32(out[4:8], uint32(srsID))

	bound := g.Bound()
	env := [4]float64{bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1]}
	for i, v := range env {
		binary.LittleEndian.PutUint64(out[8+i*8:], math.Float64bits(v))
	}
	return append(out, body...), nil
}
