package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/neuralsubd/internal/host"
	"github.com/Faultbox/neuralsubd/internal/logger"
	"github.com/Faultbox/neuralsubd/internal/network"
	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/hierarchy"
	"github.com/Faultbox/neuralsubd/pkg/math"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/pooling"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

func testHyperParameters(dout int) *network.HyperParameters {
	return &network.HyperParameters{
		Din:       network.InputDim,
		Dout:      dout,
		InitNet:   []int{8},
		EdgeNet:   []int{8},
		VertexNet: []int{8},
	}
}

// writeNetwork creates a network directory whose weights are all zero, so
// the network output is plain midpoint subdivision.
func writeNetwork(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	hp := testHyperParameters(4)
	if err := hp.Save(filepath.Join(dir, network.HyperParamsFile)); err != nil {
		t.Fatal(err)
	}

	n, err := network.New(hp, nil)
	if err != nil {
		t.Fatal(err)
	}
	var tensors []network.Tensor
	for _, p := range n.ParameterShapes() {
		size := 1
		for _, d := range p.Shape {
			size *= d
		}
		tensors = append(tensors, network.Tensor{Name: p.Name, Shape: p.Shape, Data: make([]float32, size)})
	}
	w, err := network.NewWeights(tensors)
	if err != nil {
		t.Fatal(err)
	}
	if err := network.WriteWeightsFile(filepath.Join(dir, network.WeightsFile), w); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testOptions(t *testing.T, netDir string, rec *logger.Recorder) Options {
	opts := Options{
		NetworkDir: netDir,
		NumSubd:    2,
		Device:     "auto",
		TempDir:    t.TempDir(),
		Logger:     zap.NewNop(),
	}
	// A nil *Recorder must not become a non-nil Reporter.
	if rec != nil {
		opts.Reporter = rec
	}
	return opts
}

func cubeScene(t *testing.T) (*host.Scene, *host.Object) {
	t.Helper()
	s := host.NewScene()
	obj := host.NewObject("Cube", mesh.FromTriangles(mesh.Cube()))
	if err := s.Add(obj); err != nil {
		t.Fatal(err)
	}
	return s, obj
}

func finMesh() *mesh.PolyMesh {
	return &mesh.PolyMesh{
		Vertices: []math.Vec3{{}, {X: 1}, {Y: 1}, {Y: -1}, {Z: 1}},
		Polygons: [][]int{{0, 1, 2}, {1, 0, 3}, {0, 1, 4}},
	}
}

func TestRun_Cube(t *testing.T) {
	var rec logger.Recorder
	scene, obj := cubeScene(t)
	opts := testOptions(t, writeNetwork(t), &rec)

	res, err := Run(context.Background(), scene, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []int{8, 26, 98}
	for i, n := range want {
		if res.Levels[i] != n {
			t.Errorf("level %d: %d vertices, want %d", i, res.Levels[i], n)
		}
	}
	if res.Mesh.NumFaces() != 12*16 {
		t.Errorf("expected 192 faces, got %d", res.Mesh.NumFaces())
	}
	if res.Device != "cpu" {
		t.Errorf("device = %s", res.Device)
	}

	got := obj.Mesh()
	if len(got.Vertices) != 98 || len(got.Polygons) != 192 {
		t.Errorf("object holds %d vertices, %d polygons", len(got.Vertices), len(got.Polygons))
	}
	// Coarse vertices come first and zero weights leave them in place.
	for i, v := range mesh.Cube().Vertices {
		if got.Vertices[i].Distance(v) > 1e-12 {
			t.Errorf("vertex %d moved: %v -> %v", i, v, got.Vertices[i])
		}
	}

	if !rec.Has(logger.SeverityInfo, CompleteMessage) {
		t.Errorf("missing completion report, got %v", rec.Messages())
	}
	if entries, _ := os.ReadDir(opts.TempDir); len(entries) != 0 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestRun_QuadIsTriangulated(t *testing.T) {
	quad := &mesh.PolyMesh{
		Vertices: []math.Vec3{{}, {X: 1}, {X: 1, Y: 1}, {Y: 1}},
		Polygons: [][]int{{0, 1, 2, 3}},
	}
	obj := host.NewObject("Plane", quad)
	opts := testOptions(t, writeNetwork(t), nil)
	opts.NumSubd = 1

	res, err := RunObject(context.Background(), obj, opts)
	if err != nil {
		t.Fatalf("RunObject failed: %v", err)
	}
	// 2 triangles, 5 edges
	if res.Mesh.NumVertices() != 9 || res.Mesh.NumFaces() != 8 {
		t.Errorf("got %d vertices, %d faces", res.Mesh.NumVertices(), res.Mesh.NumFaces())
	}
	if !obj.Mesh().IsTriangulated() {
		t.Error("written back mesh should be triangles")
	}
}

func TestRun_LoopRule(t *testing.T) {
	_, obj := cubeScene(t)
	opts := testOptions(t, writeNetwork(t), nil)
	opts.Rule = "loop"

	res, err := RunObject(context.Background(), obj, opts)
	if err != nil {
		t.Fatalf("RunObject failed: %v", err)
	}

	h, err := hierarchy.Build(mesh.Cube(), 2, hierarchy.WithRule(subdiv.Loop{}))
	if err != nil {
		t.Fatal(err)
	}
	want := h.Finest().Mesh.Vertices
	got := obj.Mesh().Vertices
	if len(got) != len(want) {
		t.Fatalf("%d vertices, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Distance(want[i]) > 1e-12 {
			t.Fatalf("vertex %d: %v, want %v", i, got[i], want[i])
		}
	}
	// Loop pulls the cube corners inward.
	if got[0].Distance(mesh.Cube().Vertices[0]) < 1e-6 {
		t.Errorf("corner 0 did not move: %v", got[0])
	}
	if res.Mesh.NumFaces() != 192 {
		t.Errorf("expected 192 faces, got %d", res.Mesh.NumFaces())
	}
}

func TestRun_NumSubdPrecedence(t *testing.T) {
	dir := writeNetwork(t)
	path := filepath.Join(dir, network.HyperParamsFile)
	hp, err := network.LoadHyperParameters(path)
	if err != nil {
		t.Fatal(err)
	}
	hp.NumSubd = 1
	if err := hp.Save(path); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		numSubd int
		want    []int
	}{
		{"from hyperparameters", 0, []int{8, 26}},
		{"options override", 2, []int{8, 26, 98}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, obj := cubeScene(t)
			opts := testOptions(t, dir, nil)
			opts.NumSubd = tt.numSubd

			res, err := RunObject(context.Background(), obj, opts)
			if err != nil {
				t.Fatalf("RunObject failed: %v", err)
			}
			if len(res.Levels) != len(tt.want) {
				t.Fatalf("levels = %v, want %v", res.Levels, tt.want)
			}
			for i := range tt.want {
				if res.Levels[i] != tt.want[i] {
					t.Errorf("levels = %v, want %v", res.Levels, tt.want)
					break
				}
			}
		})
	}

	// Without a value in either place the default applies.
	hp.NumSubd = 0
	if err := hp.Save(path); err != nil {
		t.Fatal(err)
	}
	_, obj := cubeScene(t)
	opts := testOptions(t, dir, nil)
	opts.NumSubd = 0
	res, err := RunObject(context.Background(), obj, opts)
	if err != nil {
		t.Fatalf("RunObject failed: %v", err)
	}
	if len(res.Levels) != DefaultNumSubd+1 {
		t.Errorf("levels = %v, want %d subdivisions", res.Levels, DefaultNumSubd)
	}
}

func TestRun_KeepTemp(t *testing.T) {
	_, obj := cubeScene(t)
	opts := testOptions(t, writeNetwork(t), nil)
	opts.NumSubd = 1
	opts.KeepTemp = true

	res, err := RunObject(context.Background(), obj, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.TempFile == "" {
		t.Fatal("expected temp file path")
	}
	m, err := mesh.ParseFile(res.TempFile)
	if err != nil {
		t.Fatalf("kept file unreadable: %v", err)
	}
	if !m.Equal(mesh.Cube()) {
		t.Error("exported mesh differs from the triangulated input")
	}
}

func TestRun_FailuresLeaveObjectUntouched(t *testing.T) {
	good := writeNetwork(t)

	corrupt := writeNetwork(t)
	os.WriteFile(filepath.Join(corrupt, network.WeightsFile), []byte("NSWT\x01"), 0644)

	wrongShape := writeNetwork(t)
	wide, _ := network.InitWeights(testHyperParameters(6), 1)
	network.WriteWeightsFile(filepath.Join(wrongShape, network.WeightsFile), wide)

	badJSON := writeNetwork(t)
	os.WriteFile(filepath.Join(badJSON, network.HyperParamsFile), []byte("{"), 0644)

	tests := []struct {
		name   string
		mesh   *mesh.PolyMesh
		mutate func(*Options)
		stage  Stage
		kind   Kind
	}{
		{
			name:   "missing network",
			mutate: func(o *Options) { o.NetworkDir = filepath.Join(good, "missing") },
			stage:  StageHyperParameters,
			kind:   KindConfig,
		},
		{
			name:   "no network selected",
			mutate: func(o *Options) { o.NetworkDir = "" },
			stage:  StageHyperParameters,
			kind:   KindConfig,
		},
		{
			name:   "bad hyperparameters",
			mutate: func(o *Options) { o.NetworkDir = badJSON },
			stage:  StageHyperParameters,
			kind:   KindConfig,
		},
		{
			name:   "unknown rule",
			mutate: func(o *Options) { o.Rule = "sqrt3" },
			stage:  StageHyperParameters,
			kind:   KindConfig,
		},
		{
			name:   "corrupt weights",
			mutate: func(o *Options) { o.NetworkDir = corrupt },
			stage:  StageNetwork,
			kind:   KindArtifactLoad,
		},
		{
			name:   "weights for another architecture",
			mutate: func(o *Options) { o.NetworkDir = wrongShape },
			stage:  StageNetwork,
			kind:   KindArtifactLoad,
		},
		{
			name:   "device unavailable",
			mutate: func(o *Options) { o.Device = "cuda" },
			stage:  StageDevice,
			kind:   KindDevice,
		},
		{
			name:  "non-manifold",
			mesh:  finMesh(),
			stage: StageHierarchy,
			kind:  KindNonManifold,
		},
		{
			name: "degenerate polygon",
			mesh: &mesh.PolyMesh{
				Vertices: []math.Vec3{{}, {X: 1}, {Y: 1}},
				Polygons: [][]int{{0, 1, 2}, {0, 1}},
			},
			stage: StagePrepare,
			kind:  KindParse,
		},
		{
			name: "index out of range",
			mesh: &mesh.PolyMesh{
				Vertices: []math.Vec3{{}, {X: 1}, {Y: 1}},
				Polygons: [][]int{{0, 1, 7}},
			},
			stage: StagePrepare,
			kind:  KindIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.mesh
			if src == nil {
				src = mesh.FromTriangles(mesh.Cube())
			}
			obj := host.NewObject("Obj", src)

			var rec logger.Recorder
			opts := testOptions(t, good, &rec)
			if tt.mutate != nil {
				tt.mutate(&opts)
			}

			res, err := RunObject(context.Background(), obj, opts)
			if res != nil {
				t.Error("failed run returned a result")
			}
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StageError, got %v", err)
			}
			if se.Stage != tt.stage || se.Kind != tt.kind {
				t.Errorf("got %s/%s, want %s/%s: %v", se.Stage, se.Kind, tt.stage, tt.kind, err)
			}
			if obj.Mesh() != src {
				t.Error("object mesh was replaced")
			}
			if len(src.Vertices) == 8 && mesh.Cube().Vertices[0] != src.Vertices[0] {
				t.Error("object mesh was modified in place")
			}
			if rec.Has(logger.SeverityInfo, CompleteMessage) {
				t.Error("completion reported for a failed run")
			}
			if msgs := rec.Messages(); len(msgs) == 0 || msgs[len(msgs)-1].Severity != logger.SeverityError {
				t.Errorf("expected an error report, got %v", msgs)
			}
			if entries, _ := os.ReadDir(opts.TempDir); len(entries) != 0 {
				t.Errorf("temporary files left behind: %v", entries)
			}
		})
	}
}

func TestRun_Selection(t *testing.T) {
	opts := testOptions(t, writeNetwork(t), nil)

	empty := host.NewScene()
	_, err := Run(context.Background(), empty, opts)
	if Classify(err) != KindSelection {
		t.Errorf("empty scene: got %v", err)
	}

	s := host.NewScene()
	s.Add(host.NewEmpty("Camera", host.ObjectCamera))
	_, err = Run(context.Background(), s, opts)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageSelect || se.Kind != KindSelection {
		t.Errorf("camera: got %v", err)
	}
}

func TestRun_Busy(t *testing.T) {
	_, obj := cubeScene(t)
	opts := testOptions(t, writeNetwork(t), nil)

	if !obj.TryLock() {
		t.Fatal("TryLock failed")
	}
	_, err := RunObject(context.Background(), obj, opts)
	obj.Unlock()

	if !errors.Is(err, ErrBusy) || Classify(err) != KindBusy {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestRun_Canceled(t *testing.T) {
	_, obj := cubeScene(t)
	before := obj.Mesh()
	opts := testOptions(t, writeNetwork(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunObject(ctx, obj, opts)
	if !errors.Is(err, context.Canceled) || Classify(err) != KindCanceled {
		t.Errorf("expected cancellation, got %v", err)
	}
	if obj.Mesh() != before {
		t.Error("canceled run replaced the mesh")
	}
}

func TestCleanup_WarnsOnFailure(t *testing.T) {
	// A non-empty directory cannot be removed with os.Remove.
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0644)

	var rec logger.Recorder
	r := &run{tmpPath: dir, opts: Options{Reporter: &rec}, log: zap.NewNop()}
	r.cleanup()

	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].Severity != logger.SeverityWarning {
		t.Errorf("expected one warning, got %v", msgs)
	}
}

func TestBatch(t *testing.T) {
	objs := []*host.Object{
		host.NewObject("Cube", mesh.FromTriangles(mesh.Cube())),
		host.NewObject("Fin", finMesh()),
		host.NewObject("Tetra", mesh.FromTriangles(mesh.Tetrahedron())),
		host.NewObject("Grid", mesh.FromTriangles(mesh.Grid(3))),
	}
	opts := testOptions(t, writeNetwork(t), &logger.Recorder{})
	opts.NumSubd = 1

	results, err := Batch(context.Background(), objs, opts, 3)
	if len(results) != len(objs) {
		t.Fatalf("expected %d results, got %d", len(objs), len(results))
	}
	for i, r := range results {
		if r.Object != objs[i].Name {
			t.Errorf("result %d is for %s, want %s", i, r.Object, objs[i].Name)
		}
	}
	if results[1].Err == nil || Classify(results[1].Err) != KindNonManifold {
		t.Errorf("Fin: expected non-manifold failure, got %v", results[1].Err)
	}
	if results[2].Err != nil || results[2].Result.Levels[1] != 10 {
		t.Errorf("Tetra: %+v", results[2])
	}
	if errs := multierr.Errors(err); len(errs) != 1 {
		t.Errorf("expected 1 combined error, got %v", err)
	}
}

func TestCommand(t *testing.T) {
	reg := host.NewRegistry(nil)
	defer reg.Close()

	opts := testOptions(t, writeNetwork(t), nil)
	opts.NumSubd = 1
	if err := reg.Register(Command(opts)); err != nil {
		t.Fatal(err)
	}

	cmd, ok := reg.LookupShortcut(host.Shortcut{Key: "N", Shift: true, Mode: host.ModeObject})
	if !ok || cmd.Label != CommandLabel || cmd.Panel != PanelName {
		t.Fatalf("command not bound: %+v", cmd)
	}

	scene, obj := cubeScene(t)
	if err := reg.Execute(context.Background(), CommandName, scene); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(obj.Mesh().Vertices) != 26 {
		t.Errorf("expected 26 vertices, got %d", len(obj.Mesh().Vertices))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{host.ErrSelection, KindSelection},
		{&mesh.ParseError{Line: 3, Err: mesh.ErrMalformedVertex}, KindParse},
		{&mesh.IndexError{Face: 0, Index: 9, Count: 3}, KindIndex},
		{&halfflap.NonManifoldError{U: 0, V: 1, Faces: []int{0, 1, 2}}, KindNonManifold},
		{&pooling.SubdivisionMappingError{Vertex: 4, Reason: "no lineage"}, KindSubdivisionMapping},
		{network.ErrConfig, KindConfig},
		{network.ErrShapeMismatch, KindArtifactLoad},
		{network.ErrInference, KindInference},
		{network.ErrDeviceUnavailable, KindDevice},
		{context.DeadlineExceeded, KindCanceled},
		{&StageError{Stage: StageExport, Kind: KindIO, Err: os.ErrPermission}, KindIO},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
