package network

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/hierarchy"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/pooling"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

// Input is the per-level data the network consumes, already placed on a
// device. Pools[0] and Lineage[0] are nil; Pools[l] maps level l to level
// l-1.
type Input struct {
	Positions []*mat.Dense
	Flaps     [][]halfflap.Flap
	// Masks[l][r] is 0 when flap r of level l has no far vertex.
	Masks [][]float64
	Pools []*pooling.Matrix
	Faces [][3]int // finest level

	// Rule places the base positions of each finer level. Nil or Midpoint
	// interpolates through Pools; any other rule needs the fields below.
	Rule       subdiv.Rule
	LevelFaces [][][3]int
	HalfFlaps  []*halfflap.Set
	Lineage    [][]subdiv.Lineage
}

// NewInput gathers positions, half-flaps and pooling matrices from a fully
// built hierarchy and uploads the positions to dev.
func NewInput(h *hierarchy.Hierarchy, dev Device) (*Input, error) {
	if h == nil || !h.Ready() {
		return nil, hierarchy.ErrNotReady
	}
	if dev == nil {
		dev = CPU{}
	}

	in := &Input{Rule: h.Rule()}
	for i := 0; i < h.NumLevels(); i++ {
		lv := h.Level(i)
		pos, err := dev.Upload(PositionsMatrix(lv.Mesh.Vertices))
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
		in.Positions = append(in.Positions, pos)
		in.Flaps = append(in.Flaps, lv.HalfFlaps.Flaps())
		in.Masks = append(in.Masks, lv.HalfFlaps.Mask())
		in.Pools = append(in.Pools, lv.Pool)
		in.LevelFaces = append(in.LevelFaces, lv.Mesh.Faces)
		in.HalfFlaps = append(in.HalfFlaps, lv.HalfFlaps)
		in.Lineage = append(in.Lineage, lv.Lineage)
	}
	in.Faces = h.Finest().Mesh.Faces
	return in, nil
}

// NumLevels returns the number of levels including the input.
func (in *Input) NumLevels() int {
	return len(in.Positions)
}

func (in *Input) interpolatesMidpoints() bool {
	if in.Rule == nil {
		return true
	}
	_, ok := in.Rule.(subdiv.Midpoint)
	return ok
}

// basePositions places level l from the network's output prev at level l-1.
func (in *Input) basePositions(l int, prev *mat.Dense) (*mat.Dense, error) {
	if in.interpolatesMidpoints() {
		return in.Pools[l].Interpolate(prev)
	}
	verts, err := Vectors(prev)
	if err != nil {
		return nil, err
	}
	coarse := &mesh.Mesh{Vertices: verts, Faces: in.LevelFaces[l-1]}
	var flaps *halfflap.Set
	if len(in.HalfFlaps) > l-1 {
		flaps = in.HalfFlaps[l-1]
	}
	pos, err := in.Rule.Positions(coarse, flaps, in.Lineage[l])
	if err != nil {
		return nil, fmt.Errorf("%s rule: %w", in.Rule.Name(), err)
	}
	return PositionsMatrix(pos), nil
}

func (in *Input) check() error {
	n := len(in.Positions)
	if n < 2 || len(in.Flaps) != n || len(in.Masks) != n || len(in.Pools) != n {
		return fmt.Errorf("%w: inconsistent input with %d levels", ErrInference, n)
	}
	ruled := !in.interpolatesMidpoints()
	if ruled && (len(in.LevelFaces) != n || len(in.Lineage) != n) {
		return fmt.Errorf("%w: %s rule needs faces and lineage for all %d levels", ErrInference, in.Rule.Name(), n)
	}
	for l, x := range in.Positions {
		rows, cols := x.Dims()
		if cols != 3 {
			return fmt.Errorf("%w: level %d positions have %d columns", ErrInference, l, cols)
		}
		if len(in.Masks[l]) != len(in.Flaps[l]) {
			return fmt.Errorf("%w: level %d has %d masks for %d flaps", ErrInference, l, len(in.Masks[l]), len(in.Flaps[l]))
		}
		for fi, f := range in.Flaps[l] {
			for s, v := range f {
				if s == 3 && in.Masks[l][fi] == 0 {
					continue
				}
				if v < 0 || v >= rows {
					return fmt.Errorf("%w: level %d flap %d references vertex %d of %d", ErrInference, l, fi, v, rows)
				}
			}
		}
		if l == 0 {
			continue
		}
		p := in.Pools[l]
		if p == nil {
			return fmt.Errorf("%w: level %d has no pooling matrix", ErrInference, l)
		}
		prevRows, _ := in.Positions[l-1].Dims()
		if p.Fine() != rows || p.Coarse() != prevRows {
			return fmt.Errorf("%w: level %d pooling matrix is %dx%d, positions are %d and %d",
				ErrInference, l, p.Coarse(), p.Fine(), prevRows, rows)
		}
		if ruled && len(in.Lineage[l]) != rows {
			return fmt.Errorf("%w: level %d has %d lineage entries for %d vertices", ErrInference, l, len(in.Lineage[l]), rows)
		}
	}
	return nil
}
