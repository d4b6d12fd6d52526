// Package pnts implements the 3D Tiles point-cloud tile container:
// header + feature table (position, optional RGB) + batch table (optional
// Classification/Intensity scalars). spec.md's finalize step (§4.2) hands
// off a serialized node payload; this package is the concrete encoder that
// turns it into the on-disk tile format described in SPEC_FULL.md's
// tileset component.
package pnts

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/grailbio/base/errors"
)

const (
	magic        = "pnts"
	formatVersion = uint32(1)
	headerSize   = 28
)

type featureTableJSON struct {
	PointsLength int                    `json:"POINTS_LENGTH"`
	Position     map[string]int         `json:"POSITION"`
	RGB          map[string]int         `json:"RGB,omitempty"`
}

type batchProperty struct {
	ByteOffset    int    `json:"byteOffset"`
	ComponentType string `json:"componentType"`
	Type          string `json:"type"`
}

// Encode serializes batch into a complete .pnts file, per spec.md §4.2's
// finalize layout (xyz || rgb || classification || intensity), wrapped in
// the 3D Tiles binary container.
func Encode(batch tilepb.PointBatch, includeRGB, includeClassification, includeIntensity bool) []byte {
	n := batch.Len()

	ft := featureTableJSON{PointsLength: n, Position: map[string]int{"byteOffset": 0}}
	posBytes := n * 3 * 4
	ftBinary := make([]byte, 0, posBytes+n*3)
	for _, f := range batch.XYZ {
		ftBinary = appendFloat32(ftBinary, f)
	}
	if includeRGB && len(batch.RGB) > 0 {
		ft.RGB = map[string]int{"byteOffset": posBytes}
		ftBinary = append(ftBinary, batch.RGB...)
	}

	bt := map[string]batchProperty{}
	var btBinary []byte
	if includeClassification && len(batch.Classification) > 0 {
		bt["Classification"] = batchProperty{ByteOffset: len(btBinary), ComponentType: "UNSIGNED_BYTE", Type: "SCALAR"}
		btBinary = append(btBinary, batch.Classification...)
	}
	if includeIntensity && len(batch.Intensity) > 0 {
		bt["Intensity"] = batchProperty{ByteOffset: len(btBinary), ComponentType: "UNSIGNED_BYTE", Type: "SCALAR"}
		btBinary = append(btBinary, batch.Intensity...)
	}

	// Zero-pad both binary bodies so every section ends on an 8-byte boundary.
	for len(ftBinary)%8 != 0 {
		ftBinary = append(ftBinary, 0)
	}
	for len(btBinary)%8 != 0 {
		btBinary = append(btBinary, 0)
	}

	ftJSON := padJSON(mustMarshal(ft), headerSize)
	var btJSON []byte
	if len(bt) > 0 {
		btJSON = padJSON(mustMarshal(bt), headerSize+len(ftJSON)+len(ftBinary))
	}

	total := headerSize + len(ftJSON) + len(ftBinary) + len(btJSON) + len(btBinary)
	out := make([]byte, 0, total)
	out = append(out, magic...)
	out = appendUint32(out, formatVersion)
	out = appendUint32(out, uint32(total))
	out = appendUint32(out, uint32(len(ftJSON)))
	out = appendUint32(out, uint32(len(ftBinary)))
	out = appendUint32(out, uint32(len(btJSON)))
	out = appendUint32(out, uint32(len(btBinary)))
	out = append(out, ftJSON...)
	out = append(out, ftBinary...)
	out = append(out, btJSON...)
	out = append(out, btBinary...)
	return out
}

// Decode parses a .pnts file back into a PointBatch (used by tileset
// finalization to read back previously-written tiles, and by tests to
// check the round-trip testable property).
func Decode(data []byte) (tilepb.PointBatch, error) {
	if len(data) < headerSize || string(data[:4]) != magic {
		return tilepb.PointBatch{}, errors.E("pnts: bad magic")
	}
	ftJSONLen := binary.LittleEndian.Uint32(data[12:16])
	ftBinLen := binary.LittleEndian.Uint32(data[16:20])
	btJSONLen := binary.LittleEndian.Uint32(data[20:24])
	btBinLen := binary.LittleEndian.Uint32(data[24:28])

	off := headerSize
	ftJSONBytes := data[off : off+int(ftJSONLen)]
	off += int(ftJSONLen)
	ftBin := data[off : off+int(ftBinLen)]
	off += int(ftBinLen)
	btJSONBytes := data[off : off+int(btJSONLen)]
	off += int(btJSONLen)
	btBin := data[off : off+int(btBinLen)]

	var ft featureTableJSON
	if err := json.Unmarshal(trimJSON(ftJSONBytes), &ft); err != nil {
		return tilepb.PointBatch{}, errors.E(err, "pnts: decode feature table json")
	}

	var batch tilepb.PointBatch
	n := ft.PointsLength
	posOff := ft.Position["byteOffset"]
	batch.XYZ = make([]float32, n*3)
	for i := 0; i < n*3; i++ {
		batch.XYZ[i] = float32FromBytes(ftBin[posOff+i*4 : posOff+i*4+4])
	}
	if ft.RGB != nil {
		rgbOff := ft.RGB["byteOffset"]
		batch.RGB = append([]uint8{}, ftBin[rgbOff:rgbOff+n*3]...)
	}

	if len(btJSONBytes) > 0 {
		var bt map[string]batchProperty
		if err := json.Unmarshal(trimJSON(btJSONBytes), &bt); err != nil {
			return tilepb.PointBatch{}, errors.E(err, "pnts: decode batch table json")
		}
		if p, ok := bt["Classification"]; ok {
			batch.Classification = append([]uint8{}, btBin[p.ByteOffset:p.ByteOffset+n]...)
		}
		if p, ok := bt["Intensity"]; ok {
			batch.Intensity = append([]uint8{}, btBin[p.ByteOffset:p.ByteOffset+n]...)
		}
	}

	return batch, nil
}

// PointCount reads just the POINTS_LENGTH field without decoding the full
// body.
func PointCount(data []byte) (int, error) {
	if len(data) < headerSize || string(data[:4]) != magic {
		return 0, errors.E("pnts: bad magic")
	}
	ftJSONLen := binary.LittleEndian.Uint32(data[12:16])
	var ft featureTableJSON
	if err := json.Unmarshal(trimJSON(data[headerSize:headerSize+int(ftJSONLen)]), &ft); err != nil {
		return 0, errors.E(err, "pnts: decode feature table json")
	}
	return ft.PointsLength, nil
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // unreachable: v is always one of our own plain structs/maps
	}
	return b
}

func trimJSON(b []byte) []byte { return []byte(strings.TrimRight(string(b), " ")) }

// padJSON right-pads b with spaces so that base+len(b) is 8-byte aligned:
// base is the file offset the JSON chunk starts at, so the binary section
// immediately following it always starts on an 8-byte boundary, the
// convention every 3D Tiles binary reader relies on.
func padJSON(b []byte, base int) []byte {
	n := base + len(b)
	if rem := n % 8; rem != 0 {
		b = append(b, strings.Repeat(" ", 8-rem)...)
	}
	return b
}

func appendUint32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendFloat32(dst []byte, f float32) []byte {
	return appendUint32(dst, math.Float32bits(f))
}

func float32FromBytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
