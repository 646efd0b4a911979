package mesh

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/neuralsubd/pkg/math"
)

// OBJ format errors.
var (
	ErrMalformedVertex = errors.New("malformed vertex line")
	ErrMalformedFace   = errors.New("malformed face line")
	ErrNotTriangle     = errors.New("face is not a triangle")
)

// ParseError reports a geometry line that could not be read.
type ParseError struct {
	Line int    // 1-based line number
	Text string // offending line
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("obj line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// maxLineSize bounds a single OBJ line.
const maxLineSize = 1 << 20

// Parse reads a triangle mesh in OBJ form. Only "v" and "f" lines carry
// geometry; every face must have exactly three corners.
func Parse(r io.Reader) (*Mesh, error) {
	p, err := parse(r, true)
	if err != nil {
		return nil, err
	}
	m := &Mesh{Vertices: p.Vertices, Faces: make([][3]int, len(p.Polygons))}
	for i, poly := range p.Polygons {
		m.Faces[i] = [3]int{poly[0], poly[1], poly[2]}
	}
	return m, nil
}

// ParseFile reads a triangle mesh from an OBJ file on disk.
func ParseFile(path string) (*Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OBJ file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// ParsePolygons reads an OBJ mesh whose faces may have any number of
// corners (at least three).
func ParsePolygons(r io.Reader) (*PolyMesh, error) {
	return parse(r, false)
}

// ParsePolygonsFile reads a polygon mesh from an OBJ file on disk.
func ParsePolygonsFile(path string) (*PolyMesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OBJ file: %w", err)
	}
	return ParsePolygons(bytes.NewReader(data))
}

type faceRef struct {
	line int
	raw  []int
}

func parse(r io.Reader, trianglesOnly bool) (*PolyMesh, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	p := &PolyMesh{}
	var refs []faceRef

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			v, err := parseVertex(fields[1:])
			if err != nil {
				return nil, &ParseError{Line: lineNo, Text: line, Err: err}
			}
			p.Vertices = append(p.Vertices, v)

		case "f":
			corners := fields[1:]
			if len(corners) < 3 {
				return nil, &ParseError{Line: lineNo, Text: line, Err: ErrMalformedFace}
			}
			if trianglesOnly && len(corners) != 3 {
				return nil, &ParseError{Line: lineNo, Text: line, Err: ErrNotTriangle}
			}
			raw, err := parseFaceCorners(corners)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Text: line, Err: err}
			}

			// Negative indices are relative to the vertices read so far.
			poly := make([]int, len(raw))
			for k, idx := range raw {
				if idx < 0 {
					poly[k] = len(p.Vertices) + idx
				} else {
					poly[k] = idx - 1
				}
			}
			if hasRepeat(poly) {
				return nil, &ParseError{Line: lineNo, Text: line, Err: ErrDegenerateFace}
			}
			p.Polygons = append(p.Polygons, poly)
			refs = append(refs, faceRef{line: lineNo, raw: raw})

		default:
			// vn, vt, o, g, s, usemtl, mtllib and friends carry no geometry
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}

	// Faces may reference vertices declared later in the file, so ranges are
	// checked once everything is read.
	n := len(p.Vertices)
	for fi, poly := range p.Polygons {
		for k, idx := range poly {
			if idx < 0 || idx >= n {
				return nil, &IndexError{Face: fi, Index: refs[fi].raw[k], Count: n}
			}
		}
	}

	return p, nil
}

func parseVertex(fields []string) (math.Vec3, error) {
	// Extra components (w or vertex colours) are accepted and dropped.
	if len(fields) < 3 {
		return math.Vec3{}, ErrMalformedVertex
	}
	var xyz [3]float64
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return math.Vec3{}, fmt.Errorf("%w: %v", ErrMalformedVertex, err)
		}
		xyz[i] = f
	}
	return math.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// parseFaceCorners returns the raw vertex index of each corner. Corners may
// be written as "i", "i/t", "i//n" or "i/t/n".
func parseFaceCorners(corners []string) ([]int, error) {
	raw := make([]int, len(corners))
	for k, c := range corners {
		if slash := strings.IndexByte(c, '/'); slash >= 0 {
			c = c[:slash]
		}
		idx, err := strconv.Atoi(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFace, err)
		}
		if idx == 0 {
			return nil, fmt.Errorf("%w: index 0 is not valid in OBJ", ErrMalformedFace)
		}
		raw[k] = idx
	}
	return raw, nil
}

func hasRepeat(poly []int) bool {
	for i := range poly {
		for j := i + 1; j < len(poly); j++ {
			if poly[i] == poly[j] {
				return true
			}
		}
	}
	return false
}

// Write encodes a triangle mesh as OBJ with 1-based face indices. Floats use
// the shortest representation that reads back to the same value.
func Write(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	for _, v := range m.Vertices {
		writeVertex(bw, v)
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return bw.Flush()
}

// WriteFile writes a triangle mesh to path.
func WriteFile(path string, m *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WritePolygons encodes a polygon mesh as OBJ.
func WritePolygons(w io.Writer, p *PolyMesh) error {
	bw := bufio.NewWriter(w)
	for _, v := range p.Vertices {
		writeVertex(bw, v)
	}
	for _, poly := range p.Polygons {
		bw.WriteString("f")
		for _, idx := range poly {
			bw.WriteByte(' ')
			bw.WriteString(strconv.Itoa(idx + 1))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func writeVertex(bw *bufio.Writer, v math.Vec3) {
	bw.WriteString("v ")
	bw.WriteString(strconv.FormatFloat(v.X, 'g', -1, 64))
	bw.WriteByte(' ')
	bw.WriteString(strconv.FormatFloat(v.Y, 'g', -1, 64))
	bw.WriteByte(' ')
	bw.WriteString(strconv.FormatFloat(v.Z, 'g', -1, 64))
	bw.WriteByte('\n')
}
