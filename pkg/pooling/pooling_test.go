package pooling

import (
	"errors"
	gomath "math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

func subdivide(t *testing.T, m *mesh.Mesh) *subdiv.Result {
	t.Helper()
	res, err := subdiv.Subdivide(m, nil, subdiv.Midpoint{})
	if err != nil {
		t.Fatalf("Subdivide failed: %v", err)
	}
	return res
}

func positions(m *mesh.Mesh) *mat.Dense {
	d := mat.NewDense(m.NumVertices(), 3, nil)
	for i, v := range m.Vertices {
		d.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	return d
}

func TestBuild_SingleTriangle(t *testing.T) {
	coarse := mesh.Triangle()
	res := subdivide(t, coarse)

	p, err := Build(coarse, res.Mesh, res.Lineage)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	r, c := p.Dims()
	if r != 3 || c != 6 {
		t.Fatalf("expected 3x6, got %dx%d", r, c)
	}

	copies, mids := 0, 0
	for j := 0; j < c; j++ {
		col := p.Column(j)
		switch len(col) {
		case 1:
			copies++
			if col[0].Weight != 1 || col[0].Row != j {
				t.Errorf("fine vertex %d: expected weight 1 at %d, got %+v", j, j, col)
			}
		case 2:
			mids++
			if col[0].Weight != 0.5 || col[1].Weight != 0.5 {
				t.Errorf("fine vertex %d: expected 0.5/0.5, got %+v", j, col)
			}
		default:
			t.Errorf("fine vertex %d: unexpected column %+v", j, col)
		}
	}
	if copies != 3 || mids != 3 {
		t.Errorf("expected 3 copies and 3 midpoints, got %d and %d", copies, mids)
	}
	if p.NNZ() != 9 {
		t.Errorf("expected 9 non-zeros, got %d", p.NNZ())
	}

	d := p.Dense()
	if d.At(0, 3) != 0.5 || d.At(1, 3) != 0.5 || d.At(2, 3) != 0 {
		t.Errorf("dense column 3 = %v", mat.Col(nil, 3, d))
	}
	if p.At(2, 2) != 1 || p.T().At(2, 2) != 1 {
		t.Error("At/T mismatch on the diagonal")
	}
}

func TestBuild_WeightsSumToOne(t *testing.T) {
	for name, m := range map[string]*mesh.Mesh{
		"cube":        mesh.Cube(),
		"tetrahedron": mesh.Tetrahedron(),
		"grid":        mesh.Grid(4),
	} {
		t.Run(name, func(t *testing.T) {
			res := subdivide(t, m)
			p, err := Build(m, res.Mesh, res.Lineage)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			for j := 0; j < p.Fine(); j++ {
				if s := p.FineWeightSum(j); gomath.Abs(s-1) > Tolerance {
					t.Errorf("fine vertex %d weights sum to %v", j, s)
				}
			}
			if err := p.Check(Tolerance); err != nil {
				t.Errorf("Check failed: %v", err)
			}
		})
	}
}

func TestBuild_MappingErrors(t *testing.T) {
	coarse := mesh.Triangle()

	tests := []struct {
		name   string
		mutate func([]subdiv.Lineage) []subdiv.Lineage
	}{
		{"missing lineage", func(l []subdiv.Lineage) []subdiv.Lineage { return l[:5] }},
		{"copy out of range", func(l []subdiv.Lineage) []subdiv.Lineage { l[1] = subdiv.Copy(9); return l }},
		{"copied twice", func(l []subdiv.Lineage) []subdiv.Lineage { l[1] = subdiv.Copy(0); return l }},
		{"not an edge", func(l []subdiv.Lineage) []subdiv.Lineage {
			l[3] = subdiv.Lineage{Parents: [2]int{0, 0}, Midpoint: true}
			return l
		}},
		{"split twice", func(l []subdiv.Lineage) []subdiv.Lineage { l[4] = subdiv.Mid(0, 1); return l }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := subdivide(t, coarse)
			lineage := tt.mutate(append([]subdiv.Lineage(nil), res.Lineage...))

			_, err := Build(coarse, res.Mesh, lineage)
			var me *SubdivisionMappingError
			if !errors.As(err, &me) {
				t.Fatalf("expected *SubdivisionMappingError, got %v", err)
			}
		})
	}

	t.Run("not a coarse edge", func(t *testing.T) {
		quad := mesh.Grid(1)
		res := subdivide(t, quad)
		lineage := append([]subdiv.Lineage(nil), res.Lineage...)
		// (1,2) is the missing diagonal of the square.
		lineage[len(lineage)-1] = subdiv.Mid(1, 2)
		if _, err := Build(quad, res.Mesh, lineage); err == nil {
			t.Fatal("expected error for a non-edge parent pair")
		}
	})
}

func TestInterpolateReproducesMidpointRule(t *testing.T) {
	coarse := mesh.Cube()
	res := subdivide(t, coarse)
	p, err := Build(coarse, res.Mesh, res.Lineage)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got, err := p.Interpolate(positions(coarse))
	if err != nil {
		t.Fatalf("Interpolate failed: %v", err)
	}
	if !mat.EqualApprox(got, positions(res.Mesh), 1e-12) {
		t.Error("interpolated positions differ from subdivided mesh")
	}
}

func TestPoolAveragesConstantFeatures(t *testing.T) {
	coarse := mesh.Grid(2)
	res := subdivide(t, coarse)
	p, err := Build(coarse, res.Mesh, res.Lineage)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	fine := mat.NewDense(p.Fine(), 2, nil)
	for j := 0; j < p.Fine(); j++ {
		fine.SetRow(j, []float64{7, -1})
	}
	coarseFeat, err := p.Pool(fine)
	if err != nil {
		t.Fatalf("Pool failed: %v", err)
	}
	rows, cols := coarseFeat.Dims()
	if rows != p.Coarse() || cols != 2 {
		t.Fatalf("unexpected shape %dx%d", rows, cols)
	}
	for i := 0; i < rows; i++ {
		if gomath.Abs(coarseFeat.At(i, 0)-7) > 1e-12 || gomath.Abs(coarseFeat.At(i, 1)+1) > 1e-12 {
			t.Errorf("row %d = %v, want [7 -1]", i, coarseFeat.RawRowView(i))
		}
	}
}

func TestShapeErrors(t *testing.T) {
	coarse := mesh.Triangle()
	res := subdivide(t, coarse)
	p, err := Build(coarse, res.Mesh, res.Lineage)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := p.Pool(mat.NewDense(3, 1, nil)); !errors.Is(err, ErrShape) {
		t.Errorf("Pool: expected ErrShape, got %v", err)
	}
	if _, err := p.Interpolate(mat.NewDense(6, 1, nil)); !errors.Is(err, ErrShape) {
		t.Errorf("Interpolate: expected ErrShape, got %v", err)
	}
}
