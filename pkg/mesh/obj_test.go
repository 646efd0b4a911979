package mesh

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Faultbox/neuralsubd/pkg/math"
)

func TestParse_Triangle(t *testing.T) {
	src := `# single triangle
o tri
v 0 0 0
v 1 0 0
v 0 1 0
vn 0 0 1
f 1 2 3
`
	m, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.NumVertices() != 3 {
		t.Errorf("expected 3 vertices, got %d", m.NumVertices())
	}
	if m.NumFaces() != 1 {
		t.Fatalf("expected 1 face, got %d", m.NumFaces())
	}
	if m.Faces[0] != [3]int{0, 1, 2} {
		t.Errorf("expected face (0 1 2), got %v", m.Faces[0])
	}
	if m.Vertices[1] != (math.Vec3{X: 1}) {
		t.Errorf("unexpected vertex 1: %v", m.Vertices[1])
	}
}

func TestParse_CornerForms(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 0 1 0\nv 1 1 0\nf 1/1 2/2/2 3//3\nf -3 -1 -2\n"
	m, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Faces[0] != [3]int{0, 1, 2} {
		t.Errorf("face 0 = %v, want (0 1 2)", m.Faces[0])
	}
	if m.Faces[1] != [3]int{1, 3, 2} {
		t.Errorf("face 1 = %v, want (1 3 2)", m.Faces[1])
	}
}

func TestParse_ForwardReference(t *testing.T) {
	src := "f 1 2 3\nv 0 0 0\nv 1 0 0\nv 0 1 0\n"
	m, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.NumFaces() != 1 {
		t.Errorf("expected 1 face, got %d", m.NumFaces())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr error
		line    int
	}{
		{"short vertex", "v 1 2\n", ErrMalformedVertex, 1},
		{"bad number", "v 0 0 0\nv 1 x 0\n", ErrMalformedVertex, 2},
		{"short face", "v 0 0 0\nv 1 0 0\nf 1 2\n", ErrMalformedFace, 3},
		{"quad", "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1 2 3 4\n", ErrNotTriangle, 5},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n", ErrMalformedFace, 4},
		{"bad index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 b 2\n", ErrMalformedFace, 4},
		{"repeated corner", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 1 2\n", ErrDegenerateFace, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if pe.Line != tt.line {
				t.Errorf("expected line %d, got %d", tt.line, pe.Line)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParse_IndexOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		index int
	}{
		{"too large", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 4\n", 4},
		{"negative past start", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 -4\n", -4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			var ie *IndexError
			if !errors.As(err, &ie) {
				t.Fatalf("expected *IndexError, got %v", err)
			}
			if ie.Index != tt.index {
				t.Errorf("expected index %d, got %d", tt.index, ie.Index)
			}
			if ie.Count != 3 {
				t.Errorf("expected count 3, got %d", ie.Count)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	meshes := map[string]*Mesh{
		"cube": Cube(),
		"grid": Grid(3),
		"odd floats": {
			Vertices: []math.Vec3{
				{X: 0.1, Y: -1e-9, Z: 3.141592653589793},
				{X: 1.0 / 3.0, Y: 2e10, Z: -0.0},
				{X: 7, Y: 0.30000000000000004, Z: 1e-300},
			},
			Faces: [][3]int{{0, 1, 2}},
		},
	}

	for name, m := range meshes {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, m); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := Parse(&buf)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if !got.Equal(m) {
				t.Errorf("round trip mismatch:\nwant %+v\ngot  %+v", m, got)
			}
		})
	}
}

func TestWriteFileParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.obj")
	if err := WriteFile(path, Cube()); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	m, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if !m.Equal(Cube()) {
		t.Error("file round trip mismatch")
	}
}

func TestParseFile_Missing(t *testing.T) {
	if _, err := ParseFile("/nonexistent/mesh.obj"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParsePolygons(t *testing.T) {
	src := "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1 2 3 4\n"
	p, err := ParsePolygons(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParsePolygons failed: %v", err)
	}
	if len(p.Polygons) != 1 || len(p.Polygons[0]) != 4 {
		t.Fatalf("expected one quad, got %v", p.Polygons)
	}

	var buf bytes.Buffer
	if err := WritePolygons(&buf, p); err != nil {
		t.Fatalf("WritePolygons failed: %v", err)
	}
	if !strings.Contains(buf.String(), "f 1 2 3 4\n") {
		t.Errorf("expected quad face line, got:\n%s", buf.String())
	}
}
