package mesh

import (
	"fmt"

	"github.com/Faultbox/neuralsubd/pkg/math"
)

// PolyMesh is a mesh whose faces may have any number of corners, as held by
// a host scene before it is handed to the triangle pipeline.
type PolyMesh struct {
	Vertices []math.Vec3
	Polygons [][]int
}

// FromTriangles wraps a triangle mesh as a polygon mesh.
func FromTriangles(m *Mesh) *PolyMesh {
	p := &PolyMesh{
		Vertices: make([]math.Vec3, len(m.Vertices)),
		Polygons: make([][]int, len(m.Faces)),
	}
	copy(p.Vertices, m.Vertices)
	for i, f := range m.Faces {
		p.Polygons[i] = []int{f[0], f[1], f[2]}
	}
	return p
}

// Clone returns a deep copy.
func (p *PolyMesh) Clone() *PolyMesh {
	c := &PolyMesh{
		Vertices: make([]math.Vec3, len(p.Vertices)),
		Polygons: make([][]int, len(p.Polygons)),
	}
	copy(c.Vertices, p.Vertices)
	for i, poly := range p.Polygons {
		c.Polygons[i] = append([]int(nil), poly...)
	}
	return c
}

// IsTriangulated reports whether every polygon is a triangle.
func (p *PolyMesh) IsTriangulated() bool {
	for _, poly := range p.Polygons {
		if len(poly) != 3 {
			return false
		}
	}
	return true
}

// Triangulate fan-triangulates every polygon around its first corner.
// Polygons with fewer than three corners are rejected.
func (p *PolyMesh) Triangulate() (*Mesh, error) {
	m := &Mesh{
		Vertices: make([]math.Vec3, len(p.Vertices)),
		Faces:    make([][3]int, 0, len(p.Polygons)),
	}
	copy(m.Vertices, p.Vertices)

	for pi, poly := range p.Polygons {
		if len(poly) < 3 {
			return nil, fmt.Errorf("%w: polygon %d has %d corners", ErrDegenerateFace, pi, len(poly))
		}
		for k := 1; k+1 < len(poly); k++ {
			m.Faces = append(m.Faces, [3]int{poly[0], poly[k], poly[k+1]})
		}
	}
	return m, nil
}
