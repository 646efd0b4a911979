// Package mesh provides the triangle mesh type shared by the subdivision
// pipeline and its plain-text OBJ interchange format.
package mesh

import (
	"errors"
	"fmt"

	"github.com/Faultbox/neuralsubd/pkg/math"
)

// Mesh validation errors.
var (
	ErrEmptyMesh      = errors.New("mesh has no faces")
	ErrDegenerateFace = errors.New("face references the same vertex twice")
)

// IndexError reports a face corner that points outside the vertex list.
type IndexError struct {
	Face  int // 0-based face index
	Index int // index as written in the source (1-based for OBJ)
	Count int // number of vertices available
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("face %d references vertex %d, mesh has %d vertices", e.Face, e.Index, e.Count)
}

// Edge is an undirected edge stored with U < V.
type Edge struct {
	U, V int
}

// MakeEdge returns the canonical edge for vertices a and b.
func MakeEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{U: a, V: b}
}

// Mesh is an indexed triangle mesh. Face corners are 0-based indices into
// Vertices.
type Mesh struct {
	Vertices []math.Vec3
	Faces    [][3]int
}

// New creates a mesh from vertex positions and triangles.
func New(vertices []math.Vec3, faces [][3]int) *Mesh {
	return &Mesh{Vertices: vertices, Faces: faces}
}

// NumVertices returns the vertex count.
func (m *Mesh) NumVertices() int {
	return len(m.Vertices)
}

// NumFaces returns the triangle count.
func (m *Mesh) NumFaces() int {
	return len(m.Faces)
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices: make([]math.Vec3, len(m.Vertices)),
		Faces:    make([][3]int, len(m.Faces)),
	}
	copy(c.Vertices, m.Vertices)
	copy(c.Faces, m.Faces)
	return c
}

// Validate checks that every face references three distinct, in-range
// vertices.
func (m *Mesh) Validate() error {
	if len(m.Faces) == 0 {
		return ErrEmptyMesh
	}
	n := len(m.Vertices)
	for fi, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return &IndexError{Face: fi, Index: idx + 1, Count: n}
			}
		}
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			return fmt.Errorf("%w: face %d (%d %d %d)", ErrDegenerateFace, fi, f[0]+1, f[1]+1, f[2]+1)
		}
	}
	return nil
}

// Edges returns every undirected edge once, in the order the edges are
// first met while walking faces as (a,b), (b,c), (c,a).
func (m *Mesh) Edges() []Edge {
	seen := make(map[Edge]struct{}, len(m.Faces)*3/2)
	edges := make([]Edge, 0, len(m.Faces)*3/2)
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			e := MakeEdge(f[k], f[(k+1)%3])
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			edges = append(edges, e)
		}
	}
	return edges
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (m *Mesh) Bounds() math.Bounds {
	b := math.EmptyBounds()
	for _, v := range m.Vertices {
		b.Extend(v)
	}
	return b
}

// SurfaceArea returns the total triangle area.
func (m *Mesh) SurfaceArea() float64 {
	var area float64
	for _, f := range m.Faces {
		area += math.TriangleArea(m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]])
	}
	return area
}

// Equal reports whether two meshes have identical vertices and faces.
func (m *Mesh) Equal(other *Mesh) bool {
	if len(m.Vertices) != len(other.Vertices) || len(m.Faces) != len(other.Faces) {
		return false
	}
	for i := range m.Vertices {
		if m.Vertices[i] != other.Vertices[i] {
			return false
		}
	}
	for i := range m.Faces {
		if m.Faces[i] != other.Faces[i] {
			return false
		}
	}
	return true
}
