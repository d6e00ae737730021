// Package gpkg implements the binary header that wraps well-known
// binary geometries inside GeoPackage blob values: parsing the
// header, stripping it off to obtain the plain WKB body, and wrapping
// a WKB body with a freshly computed envelope.
package gpkg

import (
	"encoding/binary"
	"math"

	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/crittermap/geodelta/internal/core"
)

// Header layout: the two magic bytes, a version byte and a flags
// byte, followed by a 4-byte spatial reference id and the optional
// envelope. Bit 0 of the flags byte selects the byte order of the
// numeric fields (1 = little endian), bits 1-3 hold the envelope
// indicator, bit 4 the empty-geometry flag.
const (
	flagBytePos          = 3
	envelopeIndicatorMax = 4
	noEnvelopeHeaderSize = 8

	flagLittleEndian = 0x01
	flagEmpty        = 0x10
	envelopeMask     = 0x0e
)

// envelope sizes in bytes by indicator: none, XY, XYM, XYZ, XYZM
var envelopeSizes = [envelopeIndicatorMax + 1]int{0, 32, 48, 48, 64}

// Extent is an XY bounding box.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// Extend grows the extent to cover other.
func (e *Extent) Extend(other Extent) {
	e.MinX = math.Min(e.MinX, other.MinX)
	e.MinY = math.Min(e.MinY, other.MinY)
	e.MaxX = math.Max(e.MaxX, other.MaxX)
	e.MaxY = math.Max(e.MaxY, other.MaxY)
}

// HeaderSize returns the total header length of a GeoPackage geometry
// blob, derived from the envelope indicator in the flags byte.
func HeaderSize(blob []byte) (int, error) {
	if len(blob) < noEnvelopeHeaderSize || blob[0] != 'G' || blob[1] != 'P' {
		return 0, core.NewError(core.ErrFormatMalformed, "not a GeoPackage geometry blob")
	}
	indicator := (blob[flagBytePos] & envelopeMask) >> 1
	if indicator > envelopeIndicatorMax {
		// reserved indicators carry no envelope
		indicator = 0
	}
	return noEnvelopeHeaderSize + envelopeSizes[indicator], nil
}

// Strip returns the WKB body of a GeoPackage geometry blob.
func Strip(blob []byte) ([]byte, error) {
	n, err := HeaderSize(blob)
	if err != nil {
		return nil, err
	}
	if len(blob) < n {
		return nil, core.NewError(core.ErrFormatMalformed, "GeoPackage geometry blob shorter than its header")
	}
	return blob[n:], nil
}

// EnvelopeOf decodes a WKB body and returns its XY extent. empty is
// set for geometries with no coordinates.
func EnvelopeOf(body []byte) (Extent, bool, error) {
	g, err := wkb.Unmarshal(body)
	if err != nil {
		return Extent{}, false, core.WrapError(core.ErrFormatMalformed, err, "decoding WKB geometry")
	}
	if g.Empty() {
		return Extent{}, true, nil
	}
	b := g.Bounds()
	return Extent{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}, false, nil
}

// Wrap builds a GeoPackage geometry blob around a WKB body. The
// envelope is recomputed from the body. Matching the peer backend's
// writer, M envelopes are never emitted and point geometries get no
// envelope at all.
func Wrap(body []byte, srid int32, geomType string, hasZ, hasM bool) ([]byte, error) {
	g, err := wkb.Unmarshal(body)
	if err != nil {
		return nil, core.WrapError(core.ErrFormatMalformed, err, "decoding WKB geometry")
	}
	empty := g.Empty()

	writeEnvelope := geomType != "POINT" && !empty
	withZ := writeEnvelope && hasZ && g.Layout().ZIndex() >= 0

	var indicator byte
	switch {
	case !writeEnvelope:
		indicator = 0
	case withZ:
		indicator = 3 // XYZ
	default:
		indicator = 1 // XY
	}

	flags := byte(flagLittleEndian) | indicator<<1
	if empty {
		flags |= flagEmpty
	}

	out := make([]byte, 0, noEnvelopeHeaderSize+envelopeSizes[indicator]+len(body))
	out = append(out, 'G', 'P', 0, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(srid))

	if writeEnvelope {
		b := g.Bounds()
		out = appendFloat(out, b.Min(0))
		out = appendFloat(out, b.Max(0))
		out = appendFloat(out, b.Min(1))
		out = appendFloat(out, b.Max(1))
		if withZ {
			zi := g.Layout().ZIndex()
			out = appendFloat(out, b.Min(zi))
			out = appendFloat(out, b.Max(zi))
		}
	}
	_ = hasM // M envelopes are never written

	return append(out, body...), nil
}

func appendFloat(dst []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
}
