// Package subdiv performs uniform 1-to-4 triangle subdivision and records
// where every fine vertex came from.
package subdiv

import (
	"errors"
	"fmt"

	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/math"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
)

// Lineage records the coarse parents of one fine vertex. A copied vertex has
// a single parent and Parents[1] == -1.
type Lineage struct {
	Parents  [2]int
	Midpoint bool
}

// Copy returns the lineage of a fine vertex copied from coarse vertex i.
func Copy(i int) Lineage {
	return Lineage{Parents: [2]int{i, -1}}
}

// Mid returns the lineage of a fine vertex inserted on coarse edge (a, b).
func Mid(a, b int) Lineage {
	e := mesh.MakeEdge(a, b)
	return Lineage{Parents: [2]int{e.U, e.V}, Midpoint: true}
}

// String returns "copy(i)" or "mid(a,b)".
func (l Lineage) String() string {
	if l.Midpoint {
		return fmt.Sprintf("mid(%d,%d)", l.Parents[0], l.Parents[1])
	}
	return fmt.Sprintf("copy(%d)", l.Parents[0])
}

// Result is one subdivision step.
type Result struct {
	Mesh    *mesh.Mesh
	Lineage []Lineage // one entry per fine vertex
	// EdgeVertex maps each coarse edge to its inserted fine vertex.
	EdgeVertex map[mesh.Edge]int
}

// Subdivide splits every triangle of m into four. Fine vertices are the
// coarse vertices in order followed by one vertex per unique edge in
// first-seen order. Triangle (a,b,c) becomes (a,ab,ca), (ab,b,bc),
// (ca,bc,c) and (ab,bc,ca), preserving winding.
//
// flaps may be nil; it is built on demand when the rule needs adjacency.
func Subdivide(m *mesh.Mesh, flaps *halfflap.Set, rule Rule) (*Result, error) {
	if rule == nil {
		rule = Midpoint{}
	}

	n := m.NumVertices()
	edges := m.Edges()

	res := &Result{
		Lineage:    make([]Lineage, n, n+len(edges)),
		EdgeVertex: make(map[mesh.Edge]int, len(edges)),
	}
	for i := 0; i < n; i++ {
		res.Lineage[i] = Copy(i)
	}
	for i, e := range edges {
		res.EdgeVertex[e] = n + i
		res.Lineage = append(res.Lineage, Mid(e.U, e.V))
	}

	faces := make([][3]int, 0, m.NumFaces()*4)
	for _, f := range m.Faces {
		a, b, c := f[0], f[1], f[2]
		ab := res.EdgeVertex[mesh.MakeEdge(a, b)]
		bc := res.EdgeVertex[mesh.MakeEdge(b, c)]
		ca := res.EdgeVertex[mesh.MakeEdge(c, a)]
		faces = append(faces,
			[3]int{a, ab, ca},
			[3]int{ab, b, bc},
			[3]int{ca, bc, c},
			[3]int{ab, bc, ca},
		)
	}

	positions, err := rule.Positions(m, flaps, res.Lineage)
	if err != nil {
		return nil, fmt.Errorf("%s rule: %w", rule.Name(), err)
	}

	res.Mesh = &mesh.Mesh{Vertices: positions, Faces: faces}
	return res, nil
}

// ErrUnknownRule is returned by ParseRule for an unregistered name.
var ErrUnknownRule = errors.New("unknown subdivision rule")

// Rule computes fine vertex positions for a subdivision step.
type Rule interface {
	Name() string
	Positions(coarse *mesh.Mesh, flaps *halfflap.Set, lineage []Lineage) ([]math.Vec3, error)
}

// ParseRule returns the rule registered under name ("midpoint" or "loop").
func ParseRule(name string) (Rule, error) {
	switch name {
	case "", "midpoint":
		return Midpoint{}, nil
	case "loop":
		return Loop{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRule, name)
	}
}
