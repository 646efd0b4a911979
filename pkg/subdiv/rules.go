package subdiv

import (
	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/math"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
)

// Midpoint keeps coarse vertices in place and puts new vertices at edge
// midpoints.
type Midpoint struct{}

// Name returns "midpoint".
func (Midpoint) Name() string { return "midpoint" }

// Positions implements Rule.
func (Midpoint) Positions(coarse *mesh.Mesh, _ *halfflap.Set, lineage []Lineage) ([]math.Vec3, error) {
	out := make([]math.Vec3, len(lineage))
	for i, l := range lineage {
		if l.Midpoint {
			out[i] = coarse.Vertices[l.Parents[0]].Midpoint(coarse.Vertices[l.Parents[1]])
		} else {
			out[i] = coarse.Vertices[l.Parents[0]]
		}
	}
	return out, nil
}

// Loop applies Loop's smoothing masks, with the crease masks on boundary
// edges and vertices. Topology is identical to Midpoint.
type Loop struct{}

// Name returns "loop".
func (Loop) Name() string { return "loop" }

// Positions implements Rule.
func (Loop) Positions(coarse *mesh.Mesh, flaps *halfflap.Set, lineage []Lineage) ([]math.Vec3, error) {
	if flaps == nil {
		var err error
		if flaps, err = halfflap.Build(coarse); err != nil {
			return nil, err
		}
	}

	adj := flaps.Adjacency()
	boundary := flaps.BoundaryAdjacency()
	pos := coarse.Vertices

	out := make([]math.Vec3, len(lineage))
	for i, l := range lineage {
		if l.Midpoint {
			out[i] = loopOdd(pos, flaps, l.Parents[0], l.Parents[1])
			continue
		}
		out[i] = loopEven(pos, l.Parents[0], adj[l.Parents[0]], boundary[l.Parents[0]])
	}
	return out, nil
}

func loopOdd(pos []math.Vec3, flaps *halfflap.Set, a, b int) math.Vec3 {
	r, ok := flaps.Lookup(a, b)
	if !ok || r.IsBoundary() {
		return pos[a].Midpoint(pos[b])
	}
	c, d := r.Opposite[0], r.Opposite[1]
	return pos[a].Add(pos[b]).Scale(3.0 / 8.0).
		Add(pos[c].Add(pos[d]).Scale(1.0 / 8.0))
}

func loopEven(pos []math.Vec3, v int, ring, boundaryRing []int) math.Vec3 {
	if len(boundaryRing) > 0 {
		// Vertices touching more than two boundary edges are pinned.
		if len(boundaryRing) != 2 {
			return pos[v]
		}
		return pos[v].Scale(3.0 / 4.0).
			Add(pos[boundaryRing[0]].Add(pos[boundaryRing[1]]).Scale(1.0 / 8.0))
	}

	n := len(ring)
	if n < 3 {
		return pos[v]
	}
	beta := 3.0 / (8.0 * float64(n))
	if n == 3 {
		beta = 3.0 / 16.0
	}
	var sum math.Vec3
	for _, u := range ring {
		sum = sum.Add(pos[u])
	}
	return pos[v].Scale(1 - float64(n)*beta).Add(sum.Scale(beta))
}
