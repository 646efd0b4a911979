// Package hierarchy drives repeated subdivision of an input mesh and keeps,
// per level, the mesh, its half-flaps and the pooling matrix to the level
// below.
package hierarchy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/pooling"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

// Hierarchy errors.
var (
	ErrInvalidSubd = errors.New("subdivision count must be at least 1")
	ErrNotReady    = errors.New("hierarchy is not fully built")
)

// Phase is the coarse state of a hierarchy.
type Phase int

const (
	Uninitialized Phase = iota
	Built
)

// State is Uninitialized, or Built up to Level.
type State struct {
	Phase Phase
	Level int
}

// String returns e.g. "Built(level=2)".
func (s State) String() string {
	if s.Phase == Uninitialized {
		return "Uninitialized"
	}
	return fmt.Sprintf("Built(level=%d)", s.Level)
}

// Level is one resolution of the hierarchy.
type Level struct {
	Index     int
	Mesh      *mesh.Mesh
	HalfFlaps *halfflap.Set
	// Pool maps this level's vertices to the previous level. Nil at level 0.
	Pool *pooling.Matrix
	// Lineage of this level's vertices in the previous level. Nil at level 0.
	Lineage []subdiv.Lineage
}

// Hierarchy is the ordered coarse-to-fine sequence of levels.
type Hierarchy struct {
	numSubd int
	rule    subdiv.Rule
	levels  []*Level
	state   State
	log     *zap.Logger
}

// Option configures Build.
type Option func(*Hierarchy)

// WithLogger records per-level sizes on log.
func WithLogger(log *zap.Logger) Option {
	return func(h *Hierarchy) {
		if log != nil {
			h.log = log
		}
	}
}

// WithRule selects the subdivision position rule. Defaults to midpoint.
func WithRule(rule subdiv.Rule) Option {
	return func(h *Hierarchy) {
		if rule != nil {
			h.rule = rule
		}
	}
}

// New returns an uninitialized hierarchy for numSubd subdivisions.
func New(numSubd int, opts ...Option) *Hierarchy {
	h := &Hierarchy{
		numSubd: numSubd,
		rule:    subdiv.Midpoint{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Build validates m and builds every level. The first builder error is
// returned and no hierarchy is produced.
func Build(m *mesh.Mesh, numSubd int, opts ...Option) (*Hierarchy, error) {
	h := New(numSubd, opts...)
	if err := h.Build(m); err != nil {
		return nil, err
	}
	return h, nil
}

// Build constructs all levels from m. On error the hierarchy is reset to
// Uninitialized.
func (h *Hierarchy) Build(m *mesh.Mesh) error {
	if h.numSubd < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidSubd, h.numSubd)
	}
	h.levels = nil
	h.state = State{Phase: Uninitialized}

	if err := m.Validate(); err != nil {
		return h.fail(0, err)
	}

	base := m.Clone()
	flaps, err := halfflap.Build(base)
	if err != nil {
		return h.fail(0, err)
	}
	h.push(&Level{Index: 0, Mesh: base, HalfFlaps: flaps})

	for l := 1; l <= h.numSubd; l++ {
		prev := h.levels[l-1]

		res, err := subdiv.Subdivide(prev.Mesh, prev.HalfFlaps, h.rule)
		if err != nil {
			return h.fail(l, err)
		}
		flaps, err := halfflap.Build(res.Mesh)
		if err != nil {
			return h.fail(l, err)
		}
		pool, err := pooling.Build(prev.Mesh, res.Mesh, res.Lineage)
		if err != nil {
			return h.fail(l, err)
		}
		if err := pool.Check(pooling.Tolerance); err != nil {
			return h.fail(l, err)
		}

		h.push(&Level{Index: l, Mesh: res.Mesh, HalfFlaps: flaps, Pool: pool, Lineage: res.Lineage})
	}

	return nil
}

func (h *Hierarchy) push(lv *Level) {
	h.levels = append(h.levels, lv)
	h.state = State{Phase: Built, Level: lv.Index}
	h.log.Debug("level built",
		zap.Int("level", lv.Index),
		zap.Int("vertices", lv.Mesh.NumVertices()),
		zap.Int("faces", lv.Mesh.NumFaces()),
		zap.Int("edges", lv.HalfFlaps.Len()),
	)
}

func (h *Hierarchy) fail(level int, err error) error {
	h.levels = nil
	h.state = State{Phase: Uninitialized}
	return fmt.Errorf("level %d: %w", level, err)
}

// State returns the current build state.
func (h *Hierarchy) State() State {
	return h.state
}

// Ready reports whether the hierarchy reached its finest level.
func (h *Hierarchy) Ready() bool {
	return h.state.Phase == Built && h.state.Level == h.numSubd
}

// NumSubd returns the configured subdivision count.
func (h *Hierarchy) NumSubd() int {
	return h.numSubd
}

// Rule returns the subdivision rule in use.
func (h *Hierarchy) Rule() subdiv.Rule {
	return h.rule
}

// NumLevels returns the number of built levels.
func (h *Hierarchy) NumLevels() int {
	return len(h.levels)
}

// Level returns level i, or nil when out of range.
func (h *Hierarchy) Level(i int) *Level {
	if i < 0 || i >= len(h.levels) {
		return nil
	}
	return h.levels[i]
}

// Coarsest returns level 0.
func (h *Hierarchy) Coarsest() *Level {
	return h.Level(0)
}

// Finest returns the last level.
func (h *Hierarchy) Finest() *Level {
	return h.Level(len(h.levels) - 1)
}

// Meshes returns each level's mesh.
func (h *Hierarchy) Meshes() []*mesh.Mesh {
	out := make([]*mesh.Mesh, len(h.levels))
	for i, lv := range h.levels {
		out[i] = lv.Mesh
	}
	return out
}

// HalfFlaps returns each level's half-flap set.
func (h *Hierarchy) HalfFlaps() []*halfflap.Set {
	out := make([]*halfflap.Set, len(h.levels))
	for i, lv := range h.levels {
		out[i] = lv.HalfFlaps
	}
	return out
}

// PoolMats returns the pooling matrix of levels 1..N; index 0 is nil.
func (h *Hierarchy) PoolMats() []*pooling.Matrix {
	out := make([]*pooling.Matrix, len(h.levels))
	for i, lv := range h.levels {
		out[i] = lv.Pool
	}
	return out
}

// VertexCounts returns each level's vertex count.
func (h *Hierarchy) VertexCounts() []int {
	out := make([]int, len(h.levels))
	for i, lv := range h.levels {
		out[i] = lv.Mesh.NumVertices()
	}
	return out
}
