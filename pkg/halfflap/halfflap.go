// Package halfflap builds the half-flap adjacency of a triangle mesh: for
// every undirected edge, the vertex opposite the edge in each of the (at
// most two) incident triangles.
package halfflap

import (
	"fmt"
	"sort"

	"github.com/Faultbox/neuralsubd/pkg/mesh"
)

// Sentinel marks a missing opposite vertex or face on a boundary edge.
// Consumers must mask it out rather than treat it as an index.
const Sentinel = -1

// NonManifoldError reports an edge shared by more than two triangles.
type NonManifoldError struct {
	U, V  int   // edge endpoints, U < V
	Faces []int // every incident face index
}

func (e *NonManifoldError) Error() string {
	return fmt.Sprintf("non-manifold edge (%d, %d) shared by %d faces %v", e.U, e.V, len(e.Faces), e.Faces)
}

// Record is the half-flap of one undirected edge.
//
// Slot 0 belongs to the triangle that traverses U->V, slot 1 to the one that
// traverses V->U. When two triangles traverse the edge in the same direction
// (inconsistent winding) the later one takes the free slot.
type Record struct {
	Edge     mesh.Edge
	Opposite [2]int
	Faces    [2]int
}

// IsBoundary reports whether only one triangle uses the edge.
func (r Record) IsBoundary() bool {
	return r.Faces[0] == Sentinel || r.Faces[1] == Sentinel
}

// Set holds the half-flap records of one mesh level.
type Set struct {
	numVertices int
	records     []Record
	index       map[mesh.Edge]int
}

// Build scans the faces once and returns one record per undirected edge.
// An edge with three or more incident triangles fails with
// *NonManifoldError. The mesh is expected to have passed mesh.Validate.
func Build(m *mesh.Mesh) (*Set, error) {
	s := &Set{
		numVertices: m.NumVertices(),
		records:     make([]Record, 0, m.NumFaces()*3/2),
		index:       make(map[mesh.Edge]int, m.NumFaces()*3/2),
	}

	for fi, f := range m.Faces {
		for k := 0; k < 3; k++ {
			a, b, opp := f[k], f[(k+1)%3], f[(k+2)%3]
			e := mesh.MakeEdge(a, b)

			ri, ok := s.index[e]
			if !ok {
				ri = len(s.records)
				s.index[e] = ri
				s.records = append(s.records, Record{
					Edge:     e,
					Opposite: [2]int{Sentinel, Sentinel},
					Faces:    [2]int{Sentinel, Sentinel},
				})
			}
			rec := &s.records[ri]

			slot := 0
			if a != e.U {
				slot = 1
			}
			if rec.Faces[slot] != Sentinel {
				slot = 1 - slot
			}
			if rec.Faces[slot] != Sentinel {
				return nil, &NonManifoldError{
					U:     e.U,
					V:     e.V,
					Faces: incidentFaces(m, e),
				}
			}
			rec.Faces[slot] = fi
			rec.Opposite[slot] = opp
		}
	}

	return s, nil
}

// incidentFaces lists every face containing edge e. Only used on the error
// path, so a full scan is fine.
func incidentFaces(m *mesh.Mesh, e mesh.Edge) []int {
	var faces []int
	for fi, f := range m.Faces {
		for k := 0; k < 3; k++ {
			if mesh.MakeEdge(f[k], f[(k+1)%3]) == e {
				faces = append(faces, fi)
				break
			}
		}
	}
	return faces
}

// Len returns the number of undirected edges.
func (s *Set) Len() int {
	return len(s.records)
}

// NumVertices returns the vertex count of the mesh the set was built from.
func (s *Set) NumVertices() int {
	return s.numVertices
}

// Records returns the records in first-seen edge order.
func (s *Set) Records() []Record {
	return s.records
}

// Lookup returns the record of edge (u, v) in either orientation.
func (s *Set) Lookup(u, v int) (Record, bool) {
	ri, ok := s.index[mesh.MakeEdge(u, v)]
	if !ok {
		return Record{}, false
	}
	return s.records[ri], true
}

// IsBoundary reports whether edge (u, v) exists and has a single triangle.
func (s *Set) IsBoundary(u, v int) bool {
	r, ok := s.Lookup(u, v)
	return ok && r.IsBoundary()
}

// BoundaryEdges returns every boundary edge in record order.
func (s *Set) BoundaryEdges() []mesh.Edge {
	var edges []mesh.Edge
	for _, r := range s.records {
		if r.IsBoundary() {
			edges = append(edges, r.Edge)
		}
	}
	return edges
}

// IsClosed reports whether the mesh has no boundary edges.
func (s *Set) IsClosed() bool {
	for _, r := range s.records {
		if r.IsBoundary() {
			return false
		}
	}
	return true
}

// Flap is a directed half-flap {i, j, k, l}: the half-edge i->j, the vertex
// k opposite it in its own triangle and the vertex l opposite it across the
// edge. l is Sentinel on a boundary.
type Flap [4]int

// Flaps returns the directed half-flap list consumed by the network. Each
// existing triangle side of an edge contributes one flap, ordered by record
// then by slot.
func (s *Set) Flaps() []Flap {
	flaps := make([]Flap, 0, len(s.records)*2)
	for _, r := range s.records {
		if r.Faces[0] != Sentinel {
			flaps = append(flaps, Flap{r.Edge.U, r.Edge.V, r.Opposite[0], r.Opposite[1]})
		}
		if r.Faces[1] != Sentinel {
			flaps = append(flaps, Flap{r.Edge.V, r.Edge.U, r.Opposite[1], r.Opposite[0]})
		}
	}
	return flaps
}

// Mask returns, for each flap of Flaps, 1 when the far opposite vertex
// exists and 0 when it is the sentinel.
func (s *Set) Mask() []float64 {
	flaps := s.Flaps()
	mask := make([]float64, len(flaps))
	for i, f := range flaps {
		if f[3] != Sentinel {
			mask[i] = 1
		}
	}
	return mask
}

// Neighbors returns the sorted one-ring of vertex v.
func (s *Set) Neighbors(v int) []int {
	var ring []int
	for _, r := range s.records {
		switch v {
		case r.Edge.U:
			ring = append(ring, r.Edge.V)
		case r.Edge.V:
			ring = append(ring, r.Edge.U)
		}
	}
	sort.Ints(ring)
	return ring
}

// Adjacency returns the one-ring of every vertex in a single pass.
func (s *Set) Adjacency() [][]int {
	adj := make([][]int, s.numVertices)
	for _, r := range s.records {
		adj[r.Edge.U] = append(adj[r.Edge.U], r.Edge.V)
		adj[r.Edge.V] = append(adj[r.Edge.V], r.Edge.U)
	}
	for _, ring := range adj {
		sort.Ints(ring)
	}
	return adj
}

// BoundaryAdjacency returns, for each vertex, its neighbors along boundary
// edges. Interior vertices get an empty list.
func (s *Set) BoundaryAdjacency() [][]int {
	adj := make([][]int, s.numVertices)
	for _, r := range s.records {
		if !r.IsBoundary() {
			continue
		}
		adj[r.Edge.U] = append(adj[r.Edge.U], r.Edge.V)
		adj[r.Edge.V] = append(adj[r.Edge.V], r.Edge.U)
	}
	return adj
}

// Valence returns the number of edges incident to v.
func (s *Set) Valence(v int) int {
	return len(s.Neighbors(v))
}
