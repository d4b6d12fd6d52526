package reader

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/grailbio/base/errors"
)

// xyzCandidateDelimiters are tried, in order, against the 2KB sniff sample;
// the first one that splits every sampled line into the same column count
// wins. Mirrors csv.Sniffer's preference list closely enough for the well
// behaved files this format targets (spec.md section 4.1).
var xyzCandidateDelimiters = []string{",", ";", "\t", " "}

const xyzSniffBytes = 2048

// XYZReader implements Reader for whitespace/comma/semicolon/tab delimited
// .xyz and .csv point files (spec.md section 4.1). Column count selects the
// semantics: 3 XYZ, 4 XYZI, 6 XYZRGB, 7 XYZIRGB, 8 XYZIRGB+classification;
// columns beyond the 8th are ignored.
type XYZReader struct{}

type xyzDialect struct {
	delimiter string
	hasHeader bool
}

func sniffXYZDialect(sample string) xyzDialect {
	lines := strings.SplitN(sample, "\n", -1)
	// Drop a possibly-truncated final line from the sample.
	if len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	best := xyzDialect{delimiter: " "}
	bestCols := -1
	for _, delim := range xyzCandidateDelimiters {
		cols := -1
		consistent := true
		counted := 0
		for _, line := range lines {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			n := len(strings.Split(line, delim))
			if n < 3 {
				consistent = false
				break
			}
			if cols == -1 {
				cols = n
			} else if n != cols {
				consistent = false
				break
			}
			counted++
		}
		if consistent && counted > 0 && cols > bestCols {
			bestCols = cols
			best = xyzDialect{delimiter: delim}
		}
	}
	if len(lines) > 0 {
		first := strings.TrimRight(lines[0], "\r")
		fields := strings.Split(first, best.delimiter)
		if len(fields) > 0 {
			if _, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64); err != nil {
				best.hasHeader = true
			}
		}
	}
	return best
}

func parseXYZFields(line, delimiter string, maxCols int) ([]float64, error) {
	raw := strings.Split(line, delimiter)
	if len(raw) > maxCols {
		raw = raw[:maxCols]
	}
	out := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.E(err, "xyz: malformed numeric field")
		}
		out[i] = v
	}
	return out, nil
}

// featureCount normalizes a raw per-line column count to one of the
// supported widths (3,4,6,7,8), per spec.md section 4.1's column dispatch.
func featureCount(raw int) int {
	switch {
	case raw <= 3:
		return 3
	case raw == 4:
		return 4
	case raw == 5, raw == 6:
		return 6
	case raw == 7:
		return 7
	default:
		return 8
	}
}

// Inspect implements Reader. It scans the whole file once, line by line,
// to compute the AABB and point count, recording a byte-seekable
// portion boundary every 1e6 points.
func (x *XYZReader) Inspect(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, errors.E(err, "xyz: open")
	}
	defer f.Close()

	sampleBuf := make([]byte, xyzSniffBytes)
	n, _ := f.Read(sampleBuf)
	dialect := sniffXYZDialect(string(sampleBuf[:n]))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Metadata{}, errors.E(err, "xyz: seek")
	}
	br := bufio.NewReaderSize(f, 1<<20)

	if dialect.hasHeader {
		if _, err := br.ReadString('\n'); err != nil && err != io.EOF {
			return Metadata{}, errors.E(err, "xyz: skip header")
		}
	}

	var (
		count      int64
		aabb       tilepb.AABB
		first      = true
		portions   []Portion
		byteOffset int64
	)
	byteOffset = offsetOf(br, f)

	for {
		if count%1_000_000 == 0 {
			portions = append(portions, Portion{File: path, Start: count, ByteOffset: byteOffset})
		}
		line, err := br.ReadString('\n')
		if len(strings.TrimSpace(line)) > 0 {
			fields, perr := parseXYZFields(strings.TrimSpace(line), dialect.delimiter, 3)
			if perr != nil {
				return Metadata{}, perr
			}
			if len(fields) >= 3 {
				var p tilepb.AABB
				p.Min = [3]float64{fields[0], fields[1], fields[2]}
				p.Max = p.Min
				if first {
					aabb = p
					first = false
				} else {
					aabb.Add(p)
				}
				count++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, errors.E(err, "xyz: read")
		}
		byteOffset = offsetOf(br, f)
	}

	if first {
		return Metadata{}, errors.E("xyz: no points found in", path)
	}
	for i := range portions {
		end := count
		if i+1 < len(portions) {
			end = portions[i+1].Start
		}
		portions[i].End = end
	}

	return Metadata{
		Portions:   portions,
		AABB:       aabb,
		CRS:        "",
		PointCount: count,
		AvgMin:     aabb.Min,
	}, nil
}

// offsetOf returns the file's current logical read position accounting for
// bufio's internal buffering, by subtracting what's still buffered from the
// underlying file's seek position.
func offsetOf(br *bufio.Reader, f *os.File) int64 {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos - int64(br.Buffered())
}

type xyzIterator struct {
	f         *os.File
	br        *bufio.Reader
	dialect   xyzDialect
	featureN  int
	remaining int64
	opts      StreamOptions
	batch     tilepb.PointBatch
	err       error
}

// Stream implements Reader.
func (x *XYZReader) Stream(path string, portion Portion, opts StreamOptions) (BatchIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "xyz: open")
	}
	if _, err := f.Seek(portion.ByteOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.E(err, "xyz: seek to portion")
	}

	sampleBuf := make([]byte, xyzSniffBytes)
	sf, err := os.Open(path)
	if err != nil {
		f.Close()
		return nil, errors.E(err, "xyz: reopen for sniff")
	}
	n, _ := sf.Read(sampleBuf)
	sf.Close()
	dialect := sniffXYZDialect(string(sampleBuf[:n]))

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 100_000
	}
	if int64(batchSize) > portion.Count() && portion.Count() > 0 {
		batchSize = int(portion.Count())
	}

	return &xyzIterator{
		f:         f,
		br:        bufio.NewReaderSize(f, 1<<20),
		dialect:   dialect,
		remaining: portion.Count(),
		opts:      StreamOptions{AvgMin: opts.AvgMin, Scale: opts.Scale, Rotation: opts.Rotation, Transformer: opts.Transformer, ColorScale: opts.ColorScale, HasColorScale: opts.HasColorScale, EmitIntensity: opts.EmitIntensity, BatchSize: batchSize},
	}, nil
}

func (it *xyzIterator) Next() bool {
	if it.err != nil || it.remaining <= 0 {
		return false
	}
	n := int64(it.opts.BatchSize)
	if n > it.remaining {
		n = it.remaining
	}
	batch := tilepb.PointBatch{
		XYZ:            make([]float32, 0, n*3),
		RGB:            make([]uint8, 0, n*3),
		Classification: make([]uint8, 0, n),
		Intensity:      make([]uint8, 0, n),
	}

	var read int64
	for read < n {
		line, err := it.br.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			raw := strings.Split(trimmed, it.dialect.delimiter)
			fc := featureCount(len(raw))
			fields, perr := parseXYZFields(trimmed, it.dialect.delimiter, fc)
			if perr != nil {
				it.err = perr
				break
			}
			fields = padFeatures(fields, fc)

			x, y, z, terr := ApplyTransform(it.opts, fields[0], fields[1], fields[2])
			if terr != nil {
				it.err = terr
				break
			}
			batch.XYZ = append(batch.XYZ, x, y, z)

			var r, g, b uint8
			var cls, inten uint8
			if fc >= 6 {
				r = ClampColor(uint8(fields[4]), it.opts)
				g = ClampColor(uint8(fields[5]), it.opts)
				b = ClampColor(uint8(fields[6]), it.opts)
			}
			if fc >= 8 {
				cls = uint8(fields[7])
			}
			if fc == 4 || fc == 7 || fc == 8 {
				if it.opts.EmitIntensity {
					inten = uint8(fields[3])
				}
			}
			batch.RGB = append(batch.RGB, r, g, b)
			batch.Classification = append(batch.Classification, cls)
			batch.Intensity = append(batch.Intensity, inten)
			read++
		}
		if err == io.EOF {
			it.remaining = 0
			break
		}
		if err != nil {
			it.err = errors.E(err, "xyz: read")
			break
		}
	}
	it.remaining -= read
	it.batch = batch
	return it.err == nil && batch.Len() > 0
}

// padFeatures inserts zero placeholders for the columns the original format
// leaves implicit, so downstream indexing (fields[3] intensity, fields[4:7]
// RGB, fields[7] classification) is always safe regardless of which of the
// five supported widths the line actually had.
func padFeatures(fields []float64, fc int) []float64 {
	out := make([]float64, 8)
	switch len(fields) {
	case 3:
		copy(out[:3], fields)
	case 4:
		copy(out[:4], fields)
	case 6:
		copy(out[:3], fields[:3])
		copy(out[4:7], fields[3:6])
	case 7, 8:
		copy(out, fields)
	default:
		copy(out, fields)
	}
	return out
}

func (it *xyzIterator) Batch() tilepb.PointBatch { return it.batch }
func (it *xyzIterator) Err() error               { return it.err }
func (it *xyzIterator) Close() error             { return it.f.Close() }
