package tilepb

// PointBatch is a columnar slice of points flowing through the pipeline.
// Missing attributes are zero-filled by the reader boundary (see the
// reader package) so every downstream consumer can be branch-free: Grid
// insertion, node finalization, and tile encoding never need to ask
// "does this batch have RGB".
type PointBatch struct {
	XYZ            []float32 // 3*N
	RGB            []uint8   // 3*N
	Classification []uint8   // N
	Intensity      []uint8   // N
}

// Len returns the number of points in the batch.
func (b *PointBatch) Len() int { return len(b.XYZ) / 3 }

// Slice returns the sub-batch covering points [lo, hi).
func (b *PointBatch) Slice(lo, hi int) PointBatch {
	return PointBatch{
		XYZ:            b.XYZ[lo*3 : hi*3],
		RGB:            b.RGB[lo*3 : hi*3],
		Classification: b.Classification[lo:hi],
		Intensity:      b.Intensity[lo:hi],
	}
}

// Append concatenates other onto b's columns.
func (b *PointBatch) Append(other PointBatch) {
	b.XYZ = append(b.XYZ, other.XYZ...)
	b.RGB = append(b.RGB, other.RGB...)
	b.Classification = append(b.Classification, other.Classification...)
	b.Intensity = append(b.Intensity, other.Intensity...)
}

// Point returns the i'th point's coordinates.
func (b *PointBatch) Point(i int) [3]float32 {
	return [3]float32{b.XYZ[i*3], b.XYZ[i*3+1], b.XYZ[i*3+2]}
}
