package mesh

import "github.com/Faultbox/neuralsubd/pkg/math"

// Triangle returns a single right triangle in the XY plane.
func Triangle() *Mesh {
	return &Mesh{
		Vertices: []math.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
		Faces:    [][3]int{{0, 1, 2}},
	}
}

// Tetrahedron returns a closed corner tetrahedron with outward winding.
func Tetrahedron() *Mesh {
	return &Mesh{
		Vertices: []math.Vec3{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0, Y: 1, Z: 0},
			{X: 0, Y: 0, Z: 1},
		},
		Faces: [][3]int{
			{0, 2, 1},
			{0, 1, 3},
			{0, 3, 2},
			{1, 2, 3},
		},
	}
}

// Cube returns the unit cube as 8 vertices and 12 outward-wound triangles.
func Cube() *Mesh {
	return &Mesh{
		Vertices: []math.Vec3{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 1, Y: 1, Z: 0},
			{X: 0, Y: 1, Z: 0},
			{X: 0, Y: 0, Z: 1},
			{X: 1, Y: 0, Z: 1},
			{X: 1, Y: 1, Z: 1},
			{X: 0, Y: 1, Z: 1},
		},
		Faces: [][3]int{
			{0, 2, 1}, {0, 3, 2}, // bottom
			{4, 5, 6}, {4, 6, 7}, // top
			{0, 1, 5}, {0, 5, 4}, // front
			{3, 7, 6}, {3, 6, 2}, // back
			{0, 4, 7}, {0, 7, 3}, // left
			{1, 2, 6}, {1, 6, 5}, // right
		},
	}
}

// Grid returns an open n x n grid of unit squares in the XY plane, each
// split into two triangles.
func Grid(n int) *Mesh {
	if n < 1 {
		n = 1
	}
	m := &Mesh{}
	for y := 0; y <= n; y++ {
		for x := 0; x <= n; x++ {
			m.Vertices = append(m.Vertices, math.Vec3{X: float64(x), Y: float64(y)})
		}
	}
	row := n + 1
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			a := y*row + x
			b := a + 1
			c := a + row
			d := c + 1
			m.Faces = append(m.Faces, [3]int{a, b, d}, [3]int{a, d, c})
		}
	}
	return m
}
