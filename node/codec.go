package node

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/grailbio/base/errors"
)

// Encode serializes every node in the catalog into a compact byte buffer
// ("serialized node payload", spec.md §3), using a varint/fixed-width
// byte-buffer layout in the style of the teacher's columnar field codecs
// (pickle in the original is replaced with an explicit binary format,
// since nothing in the pipeline needs Python's dynamic typing here).
func Encode(c *Catalog) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(c.nodes)))
	for name, n := range c.nodes {
		writeString(&buf, string(name))
		encodeNode(&buf, n)
	}
	return buf.Bytes()
}

func encodeNode(buf *bytes.Buffer, n *Node) {
	if !n.IsGridState() {
		buf.WriteByte(0)
		writeUvarint(buf, uint64(len(n.Batches)))
		for _, b := range n.Batches {
			writeBatch(buf, b)
		}
		writeBatch(buf, n.Pending)
		return
	}

	buf.WriteByte(1)
	for _, cc := range n.Grid.cellCount {
		writeUvarint(buf, uint64(cc))
	}
	writeFloat64(buf, n.Grid.spacing)
	writeUvarint(buf, uint64(len(n.Grid.cells)))
	for key, c := range n.Grid.cells {
		writeFixed64(buf, key)
		writeBatch(buf, tilepb.PointBatch{XYZ: c.xyz, RGB: c.rgb, Classification: c.classification, Intensity: c.intensity})
	}
	writeBatch(buf, n.Pending)
	writeUvarint(buf, uint64(len(n.Children)))
	for _, child := range n.Children {
		writeString(buf, string(child))
	}
}

func writeBatch(buf *bytes.Buffer, b tilepb.PointBatch) {
	n := b.Len()
	writeUvarint(buf, uint64(n))
	for _, f := range b.XYZ {
		writeFloat32(buf, f)
	}
	if n > 0 {
		buf.Write(ensureLen(b.RGB, n*3))
		buf.Write(ensureLen(b.Classification, n))
		buf.Write(ensureLen(b.Intensity, n))
	}
}

func ensureLen(s []uint8, n int) []uint8 {
	if len(s) == n {
		return s
	}
	return make([]uint8, n)
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeFixed64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeFixed64(buf, math.Float64bits(v))
}

func writeFloat32(buf *bytes.Buffer, v float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

// Decode reconstitutes a Catalog from bytes written by Encode.
func Decode(data []byte, rootAABB tilepb.AABB, rootSpacing float64) (*Catalog, error) {
	c := NewCatalog(rootAABB, rootSpacing)
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.E(err, "node: decode node count")
	}
	for i := uint64(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, errors.E(err, "node: decode name")
		}
		aabb, spacing := c.aabbAndSpacingFor(tilepb.NodeName(name))
		n := NewNode(tilepb.NodeName(name), aabb, spacing)
		if err := decodeNode(r, n); err != nil {
			return nil, errors.E(err, "node: decode node", name)
		}
		c.Put(n)
	}
	return c, nil
}

func decodeNode(r *bytes.Reader, n *Node) error {
	state, err := r.ReadByte()
	if err != nil {
		return err
	}
	if state == 0 {
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		n.Batches = make([]tilepb.PointBatch, 0, count)
		for i := uint64(0); i < count; i++ {
			b, err := readBatch(r)
			if err != nil {
				return err
			}
			n.Batches = append(n.Batches, b)
		}
		pending, err := readBatch(r)
		if err != nil {
			return err
		}
		n.Pending = pending
		return nil
	}

	n.Children = []tilepb.NodeName{}
	n.Grid = NewGrid(n.Spacing)
	for i := 0; i < 3; i++ {
		cc, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		n.Grid.cellCount[i] = int(cc)
	}
	spacingBits, err := readFixed64(r)
	if err != nil {
		return err
	}
	n.Grid.spacing = math.Float64frombits(spacingBits)

	cellCount, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < cellCount; i++ {
		key, err := readFixed64(r)
		if err != nil {
			return err
		}
		b, err := readBatch(r)
		if err != nil {
			return err
		}
		n.Grid.cells[key] = &cell{xyz: b.XYZ, rgb: b.RGB, classification: b.Classification, intensity: b.Intensity}
	}

	pending, err := readBatch(r)
	if err != nil {
		return err
	}
	n.Pending = pending

	childCount, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < childCount; i++ {
		name, err := readString(r)
		if err != nil {
			return err
		}
		n.Children = append(n.Children, tilepb.NodeName(name))
	}
	return nil
}

func readBatch(r *bytes.Reader) (tilepb.PointBatch, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return tilepb.PointBatch{}, err
	}
	var b tilepb.PointBatch
	b.XYZ = make([]float32, n*3)
	for i := range b.XYZ {
		bits, err := readFixed32(r)
		if err != nil {
			return tilepb.PointBatch{}, err
		}
		b.XYZ[i] = math.Float32frombits(bits)
	}
	if n > 0 {
		b.RGB = make([]uint8, n*3)
		if _, err := io.ReadFull(r, b.RGB); err != nil {
			return tilepb.PointBatch{}, err
		}
		b.Classification = make([]uint8, n)
		if _, err := io.ReadFull(r, b.Classification); err != nil {
			return tilepb.PointBatch{}, err
		}
		b.Intensity = make([]uint8, n)
		if _, err := io.ReadFull(r, b.Intensity); err != nil {
			return tilepb.PointBatch{}, err
		}
	}
	return b, nil
}

func readFixed64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func readFixed32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
