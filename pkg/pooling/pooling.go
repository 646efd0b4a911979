// Package pooling builds the sparse operators that move per-vertex features
// between adjacent levels of a subdivision hierarchy.
package pooling

import (
	"errors"
	"fmt"
	gomath "math"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

// Tolerance is the allowed deviation of a fine vertex's weight sum from 1.
const Tolerance = 1e-6

// ErrShape reports a feature matrix whose row count does not match the
// operator.
var ErrShape = errors.New("pooling: feature shape mismatch")

// SubdivisionMappingError reports a fine vertex whose coarse parents could
// not be established.
type SubdivisionMappingError struct {
	Vertex int // fine vertex, or -1 when the fault is on a coarse vertex
	Reason string
}

func (e *SubdivisionMappingError) Error() string {
	if e.Vertex < 0 {
		return "subdivision mapping: " + e.Reason
	}
	return fmt.Sprintf("subdivision mapping: fine vertex %d: %s", e.Vertex, e.Reason)
}

// Entry is one non-zero weight in a column.
type Entry struct {
	Row    int
	Weight float64
}

// Matrix is a sparse (coarse x fine) pooling operator stored column by
// column: column j lists the coarse parents of fine vertex j and their
// weights. Matrix satisfies mat.Matrix.
type Matrix struct {
	coarse  int
	columns [][]Entry
}

var _ mat.Matrix = (*Matrix)(nil)

// Build derives the pooling matrix from subdivision lineage. A copied vertex
// gets weight 1 at its coarse index; an edge vertex gets 0.5 at each
// endpoint. Every fine vertex must trace back to exactly one rule.
func Build(coarse, fine *mesh.Mesh, lineage []subdiv.Lineage) (*Matrix, error) {
	nc, nf := coarse.NumVertices(), fine.NumVertices()

	if len(lineage) > nf {
		return nil, &SubdivisionMappingError{Vertex: nf, Reason: fmt.Sprintf("lineage has %d entries for %d fine vertices", len(lineage), nf)}
	}

	edges := make(map[mesh.Edge]bool, coarse.NumFaces()*3/2)
	for _, e := range coarse.Edges() {
		edges[e] = false
	}
	copied := make([]bool, nc)

	p := &Matrix{coarse: nc, columns: make([][]Entry, nf)}
	for j := 0; j < nf; j++ {
		if j >= len(lineage) {
			return nil, &SubdivisionMappingError{Vertex: j, Reason: "no lineage recorded"}
		}
		l := lineage[j]

		if !l.Midpoint {
			i := l.Parents[0]
			if i < 0 || i >= nc {
				return nil, &SubdivisionMappingError{Vertex: j, Reason: fmt.Sprintf("copy of coarse vertex %d out of range [0,%d)", i, nc)}
			}
			if copied[i] {
				return nil, &SubdivisionMappingError{Vertex: j, Reason: fmt.Sprintf("coarse vertex %d copied twice", i)}
			}
			copied[i] = true
			p.columns[j] = []Entry{{Row: i, Weight: 1}}
			continue
		}

		a, b := l.Parents[0], l.Parents[1]
		if a < 0 || a >= nc || b < 0 || b >= nc || a == b {
			return nil, &SubdivisionMappingError{Vertex: j, Reason: fmt.Sprintf("edge parents (%d,%d) invalid for %d coarse vertices", a, b, nc)}
		}
		e := mesh.MakeEdge(a, b)
		used, ok := edges[e]
		if !ok {
			return nil, &SubdivisionMappingError{Vertex: j, Reason: fmt.Sprintf("(%d,%d) is not a coarse edge", e.U, e.V)}
		}
		if used {
			return nil, &SubdivisionMappingError{Vertex: j, Reason: fmt.Sprintf("edge (%d,%d) split twice", e.U, e.V)}
		}
		edges[e] = true
		p.columns[j] = []Entry{{Row: e.U, Weight: 0.5}, {Row: e.V, Weight: 0.5}}
	}

	for i, ok := range copied {
		if !ok {
			return nil, &SubdivisionMappingError{Vertex: -1, Reason: fmt.Sprintf("coarse vertex %d has no fine copy", i)}
		}
	}

	return p, nil
}

// Dims returns (coarse, fine).
func (p *Matrix) Dims() (r, c int) {
	return p.coarse, len(p.columns)
}

// At returns the weight of coarse vertex i in fine vertex j.
func (p *Matrix) At(i, j int) float64 {
	if i < 0 || i >= p.coarse || j < 0 || j >= len(p.columns) {
		panic(mat.ErrIndexOutOfRange)
	}
	for _, e := range p.columns[j] {
		if e.Row == i {
			return e.Weight
		}
	}
	return 0
}

// T returns the transpose view.
func (p *Matrix) T() mat.Matrix {
	return mat.Transpose{Matrix: p}
}

// Coarse returns the coarse vertex count.
func (p *Matrix) Coarse() int { return p.coarse }

// Fine returns the fine vertex count.
func (p *Matrix) Fine() int { return len(p.columns) }

// Column returns the parents of fine vertex j.
func (p *Matrix) Column(j int) []Entry {
	return p.columns[j]
}

// NNZ returns the number of stored weights.
func (p *Matrix) NNZ() int {
	n := 0
	for _, col := range p.columns {
		n += len(col)
	}
	return n
}

// FineWeightSum returns the sum of fine vertex j's parent weights.
func (p *Matrix) FineWeightSum(j int) float64 {
	var s float64
	for _, e := range p.columns[j] {
		s += e.Weight
	}
	return s
}

// RowSums returns, for each coarse vertex, the total weight it receives.
func (p *Matrix) RowSums() []float64 {
	sums := make([]float64, p.coarse)
	for _, col := range p.columns {
		for _, e := range col {
			sums[e.Row] += e.Weight
		}
	}
	return sums
}

// Check verifies the partition of unity for every fine vertex.
func (p *Matrix) Check(tol float64) error {
	for j := range p.columns {
		if s := p.FineWeightSum(j); gomath.Abs(s-1) > tol {
			return &SubdivisionMappingError{Vertex: j, Reason: fmt.Sprintf("weights sum to %g", s)}
		}
	}
	return nil
}

// Dense returns the operator as a dense (coarse x fine) matrix.
func (p *Matrix) Dense() *mat.Dense {
	d := mat.NewDense(p.coarse, len(p.columns), nil)
	for j, col := range p.columns {
		for _, e := range col {
			d.Set(e.Row, j, e.Weight)
		}
	}
	return d
}

// Pool maps fine features (fine x d) to coarse features (coarse x d). Each
// coarse row is the weighted average of the fine vertices it parents.
func (p *Matrix) Pool(fine mat.Matrix) (*mat.Dense, error) {
	r, d := fine.Dims()
	if r != len(p.columns) {
		return nil, fmt.Errorf("%w: pool expects %d rows, got %d", ErrShape, len(p.columns), r)
	}

	out := mat.NewDense(p.coarse, d, nil)
	for j, col := range p.columns {
		for _, e := range col {
			for k := 0; k < d; k++ {
				out.Set(e.Row, k, out.At(e.Row, k)+e.Weight*fine.At(j, k))
			}
		}
	}

	for i, s := range p.RowSums() {
		if s == 0 {
			continue
		}
		row := out.RawRowView(i)
		for k := range row {
			row[k] /= s
		}
	}
	return out, nil
}

// Interpolate maps coarse features (coarse x d) to fine features
// (fine x d) by applying each fine vertex's parent weights. With positions
// as features this reproduces the midpoint subdivision rule.
func (p *Matrix) Interpolate(coarse mat.Matrix) (*mat.Dense, error) {
	r, d := coarse.Dims()
	if r != p.coarse {
		return nil, fmt.Errorf("%w: interpolate expects %d rows, got %d", ErrShape, p.coarse, r)
	}

	out := mat.NewDense(len(p.columns), d, nil)
	for j, col := range p.columns {
		row := out.RawRowView(j)
		for _, e := range col {
			for k := 0; k < d; k++ {
				row[k] += e.Weight * coarse.At(e.Row, k)
			}
		}
	}
	return out, nil
}
