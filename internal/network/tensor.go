package network

import (
	"fmt"
	gomath "math"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/math"
)

// PositionsMatrix packs vertex positions into an (n x 3) matrix.
func PositionsMatrix(vs []math.Vec3) *mat.Dense {
	if len(vs) == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(len(vs), 3, nil)
	for i, v := range vs {
		row := d.RawRowView(i)
		row[0], row[1], row[2] = v.X, v.Y, v.Z
	}
	return d
}

// Vectors unpacks the first three columns of d as positions.
func Vectors(d mat.Matrix) ([]math.Vec3, error) {
	r, c := d.Dims()
	if c < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 columns, got %d", ErrInference, c)
	}
	out := make([]math.Vec3, r)
	for i := range out {
		out[i] = math.Vec3{X: d.At(i, 0), Y: d.At(i, 1), Z: d.At(i, 2)}
	}
	return out, nil
}

// flapGeometry returns one row per flap: x_j-x_i, x_k-x_i and x_l-x_i, the
// last being zero where mask is 0.
func flapGeometry(x mat.Matrix, flaps []halfflap.Flap, mask []float64) *mat.Dense {
	g := mat.NewDense(len(flaps), InputDim, nil)
	for r, f := range flaps {
		row := g.RawRowView(r)
		for s := 1; s < 4; s++ {
			if s == 3 && mask[r] == 0 {
				continue
			}
			for k := 0; k < 3; k++ {
				row[(s-1)*3+k] = x.At(f[s], k) - x.At(f[0], k)
			}
		}
	}
	return g
}

// gatherFlapColumn returns rows of feat selected by flap slot s. The far
// slot (3) gives a zero row where mask is 0.
func gatherFlapColumn(feat *mat.Dense, flaps []halfflap.Flap, s int, mask []float64) *mat.Dense {
	_, c := feat.Dims()
	out := mat.NewDense(len(flaps), c, nil)
	for r, f := range flaps {
		if s == 3 && mask[r] == 0 {
			continue
		}
		copy(out.RawRowView(r), feat.RawRowView(f[s]))
	}
	return out
}

// scatterMean averages flap rows into their origin vertex.
func scatterMean(h *mat.Dense, flaps []halfflap.Flap, numVertices int) *mat.Dense {
	_, c := h.Dims()
	out := mat.NewDense(numVertices, c, nil)
	count := make([]float64, numVertices)
	for r, f := range flaps {
		dst := out.RawRowView(f[0])
		for k, v := range h.RawRowView(r) {
			dst[k] += v
		}
		count[f[0]]++
	}
	for i, n := range count {
		if n == 0 {
			continue
		}
		row := out.RawRowView(i)
		for k := range row {
			row[k] /= n
		}
	}
	return out
}

// hconcat places the blocks side by side.
func hconcat(blocks ...*mat.Dense) *mat.Dense {
	out := blocks[0]
	for _, b := range blocks[1:] {
		var next mat.Dense
		next.Augment(out, b)
		out = &next
	}
	return out
}

func allFinite(d *mat.Dense) bool {
	r, _ := d.Dims()
	for i := 0; i < r; i++ {
		for _, v := range d.RawRowView(i) {
			if gomath.IsNaN(v) || gomath.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
