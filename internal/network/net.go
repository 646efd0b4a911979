package network

import (
	"fmt"
	gomath "math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
)

// ParamShape names one learnable tensor and its expected shape.
type ParamShape struct {
	Name  string
	Shape []int
}

// linear is a fully connected layer y = x·Wᵀ + b.
type linear struct {
	in, out int
	weight  *mat.Dense // out x in
	bias    []float64
}

// mlp is a stack of linear layers with ReLU between them.
type mlp struct {
	name   string
	layers []*linear
}

func newMLP(name string, in int, hidden []int, out int) *mlp {
	dims := append(append([]int{in}, hidden...), out)
	m := &mlp{name: name}
	for i := 0; i+1 < len(dims); i++ {
		m.layers = append(m.layers, &linear{in: dims[i], out: dims[i+1]})
	}
	return m
}

func (m *mlp) weightName(i int) string { return fmt.Sprintf("%s.layers.%d.weight", m.name, i) }
func (m *mlp) biasName(i int) string   { return fmt.Sprintf("%s.layers.%d.bias", m.name, i) }

func (m *mlp) shapes() []ParamShape {
	var out []ParamShape
	for i, l := range m.layers {
		out = append(out,
			ParamShape{Name: m.weightName(i), Shape: []int{l.out, l.in}},
			ParamShape{Name: m.biasName(i), Shape: []int{l.out}},
		)
	}
	return out
}

func (m *mlp) forward(x *mat.Dense) (*mat.Dense, error) {
	n, c := x.Dims()
	if n == 0 {
		return nil, fmt.Errorf("%w: %s got no rows", ErrInference, m.name)
	}
	if c != m.layers[0].in {
		return nil, fmt.Errorf("%w: %s expects %d inputs, got %d", ErrInference, m.name, m.layers[0].in, c)
	}

	h := x
	for i, l := range m.layers {
		if l.weight == nil {
			return nil, fmt.Errorf("%w: %s has no weights", ErrInference, m.weightName(i))
		}
		y := mat.NewDense(n, l.out, nil)
		y.Mul(h, l.weight.T())
		last := i == len(m.layers)-1
		for r := 0; r < n; r++ {
			row := y.RawRowView(r)
			for k := range row {
				row[k] += l.bias[k]
				if !last && row[k] < 0 {
					row[k] = 0
				}
			}
		}
		h = y
	}
	return h, nil
}

// Net is the subdivision network: initNet embeds the coarse half-flaps,
// then per level edgeNet predicts odd-vertex features and vertexNet updates
// the even vertices. edgeNet and vertexNet are shared by all levels.
type Net struct {
	hp     *HyperParameters
	dev    Device
	init   *mlp
	edge   *mlp
	vertex *mlp
	loaded bool
}

// New builds an unloaded network for hp on dev.
func New(hp *HyperParameters, dev Device) (*Net, error) {
	if err := hp.ValidateArchitecture(); err != nil {
		return nil, err
	}
	if dev == nil {
		dev = CPU{}
	}
	d := hp.Dout
	return &Net{
		hp:     hp,
		dev:    dev,
		init:   newMLP("initNet", hp.Din, hp.InitNet, d),
		edge:   newMLP("edgeNet", 4*d+hp.Din, hp.EdgeNet, d),
		vertex: newMLP("vertexNet", 2*d, hp.VertexNet, d),
	}, nil
}

// Device returns the device the parameters live on.
func (n *Net) Device() Device {
	return n.dev
}

// ParameterShapes lists every tensor LoadWeights expects, in a stable order.
func (n *Net) ParameterShapes() []ParamShape {
	var out []ParamShape
	for _, m := range n.nets() {
		out = append(out, m.shapes()...)
	}
	return out
}

func (n *Net) nets() []*mlp {
	return []*mlp{n.init, n.edge, n.vertex}
}

// LoadWeights installs w. Every expected tensor must be present with the
// exact shape and no extra tensors are allowed; otherwise the network stays
// unloaded and the error wraps ErrShapeMismatch.
func (n *Net) LoadWeights(w *Weights) error {
	want := n.ParameterShapes()
	expected := make(map[string]bool, len(want))
	for _, p := range want {
		expected[p.Name] = true
		t, ok := w.Get(p.Name)
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrShapeMismatch, p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape) {
			return fmt.Errorf("%w: %s has shape %v, expected %v", ErrShapeMismatch, p.Name, t.Shape, p.Shape)
		}
	}
	for _, name := range w.Names() {
		if !expected[name] {
			return fmt.Errorf("%w: unexpected tensor %s", ErrShapeMismatch, name)
		}
	}

	type staged struct {
		l      *linear
		weight *mat.Dense
		bias   []float64
	}
	var pending []staged
	for _, m := range n.nets() {
		for i, l := range m.layers {
			wt, _ := w.Get(m.weightName(i))
			bt, _ := w.Get(m.biasName(i))
			weight, err := n.dev.Upload(mat.NewDense(l.out, l.in, toFloat64(wt.Data)))
			if err != nil {
				return err
			}
			pending = append(pending, staged{l: l, weight: weight, bias: toFloat64(bt.Data)})
		}
	}
	for _, s := range pending {
		s.l.weight, s.l.bias = s.weight, s.bias
	}
	n.loaded = true
	return nil
}

// Loaded reports whether weights are installed.
func (n *Net) Loaded() bool {
	return n.loaded
}

// Forward runs the network over every level of in. The result has one
// (vertices x 3) position matrix per level; entry 0 is the input mesh and
// the last entry the finest level.
func (n *Net) Forward(in *Input) ([]*mat.Dense, error) {
	if !n.loaded {
		return nil, fmt.Errorf("%w: weights not loaded", ErrInference)
	}
	if err := in.check(); err != nil {
		return nil, err
	}

	x0 := in.Positions[0]
	nv, _ := x0.Dims()
	h, err := n.init.forward(flapGeometry(x0, in.Flaps[0], in.Masks[0]))
	if err != nil {
		return nil, err
	}
	feat := scatterMean(h, in.Flaps[0], nv)

	outputs := []*mat.Dense{mat.DenseCopyOf(x0)}
	for l := 1; l < len(in.Positions); l++ {
		prev := outputs[l-1]
		flaps, mask := in.Flaps[l-1], in.Masks[l-1]
		pool := in.Pools[l]

		edgeIn := hconcat(
			gatherFlapColumn(feat, flaps, 0, mask),
			gatherFlapColumn(feat, flaps, 1, mask),
			gatherFlapColumn(feat, flaps, 2, mask),
			gatherFlapColumn(feat, flaps, 3, mask),
			flapGeometry(prev, flaps, mask),
		)
		edgeOut, err := n.edge.forward(edgeIn)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		edgeFeat := edgeMean(edgeOut, flaps)

		// Even vertices start from their parent, odd ones from their edge.
		fine := mat.NewDense(pool.Fine(), n.hp.Dout, nil)
		for j := 0; j < pool.Fine(); j++ {
			col := pool.Column(j)
			switch len(col) {
			case 1:
				copy(fine.RawRowView(j), feat.RawRowView(col[0].Row))
			case 2:
				f, ok := edgeFeat[mesh.MakeEdge(col[0].Row, col[1].Row)]
				if !ok {
					return nil, fmt.Errorf("%w: level %d vertex %d has no edge features", ErrInference, l, j)
				}
				copy(fine.RawRowView(j), f)
			default:
				return nil, fmt.Errorf("%w: level %d vertex %d has %d parents", ErrInference, l, j, len(col))
			}
		}

		pooled, err := pool.Pool(fine)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d: %w", ErrInference, l, err)
		}
		vertexOut, err := n.vertex.forward(hconcat(feat, pooled))
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		for j := 0; j < pool.Fine(); j++ {
			if col := pool.Column(j); len(col) == 1 {
				copy(fine.RawRowView(j), vertexOut.RawRowView(col[0].Row))
			}
		}

		base, err := in.basePositions(l, prev)
		if err != nil {
			return nil, fmt.Errorf("%w: level %d: %w", ErrInference, l, err)
		}
		rows, _ := base.Dims()
		for r := 0; r < rows; r++ {
			pos := base.RawRowView(r)
			delta := fine.RawRowView(r)
			for k := 0; k < 3; k++ {
				pos[k] += delta[k]
			}
		}
		if !allFinite(base) {
			return nil, fmt.Errorf("%w: level %d produced non-finite positions", ErrInference, l)
		}

		outputs = append(outputs, base)
		feat = fine
	}
	return outputs, nil
}

// edgeMean averages the flap outputs of each undirected edge.
func edgeMean(h *mat.Dense, flaps []halfflap.Flap) map[mesh.Edge][]float64 {
	sums := make(map[mesh.Edge][]float64, len(flaps))
	counts := make(map[mesh.Edge]float64, len(flaps))
	_, c := h.Dims()
	for r, f := range flaps {
		e := mesh.MakeEdge(f[0], f[1])
		s, ok := sums[e]
		if !ok {
			s = make([]float64, c)
			sums[e] = s
		}
		for k, v := range h.RawRowView(r) {
			s[k] += v
		}
		counts[e]++
	}
	for e, s := range sums {
		for k := range s {
			s[k] /= counts[e]
		}
	}
	return sums
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// InitWeights returns randomly initialized weights for hp, uniform in
// ±1/sqrt(fan_in). The output layer of every sub-network is scaled down so
// an untrained network stays close to the interpolated mesh.
func InitWeights(hp *HyperParameters, seed uint64) (*Weights, error) {
	n, err := New(hp, CPU{})
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var tensors []Tensor
	for _, m := range n.nets() {
		for i, l := range m.layers {
			bound := 1 / gomath.Sqrt(float64(l.in))
			if i == len(m.layers)-1 {
				bound *= 0.01
			}
			w := make([]float32, l.out*l.in)
			for k := range w {
				w[k] = float32((rng.Float64()*2 - 1) * bound)
			}
			b := make([]float32, l.out)
			for k := range b {
				b[k] = float32((rng.Float64()*2 - 1) * bound)
			}
			tensors = append(tensors,
				Tensor{Name: m.weightName(i), Shape: []int{l.out, l.in}, Data: w},
				Tensor{Name: m.biasName(i), Shape: []int{l.out}, Data: b},
			)
		}
	}
	return NewWeights(tensors)
}
