// Package pipeline drives one neural subdivision run: it takes the active
// mesh object, builds the level hierarchy, runs the network and writes the
// finest level back to the object. Runs are all-or-nothing; the object is
// only touched by the final write-back.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/neuralsubd/internal/host"
	"github.com/Faultbox/neuralsubd/internal/logger"
	"github.com/Faultbox/neuralsubd/internal/network"
	"github.com/Faultbox/neuralsubd/pkg/hierarchy"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

// CompleteMessage is reported after a successful write-back.
const CompleteMessage = "Neural subdivision complete."

// DefaultNumSubd is used when neither Options nor the hyperparameter file
// set a subdivision count.
const DefaultNumSubd = 2

// Options configures a run.
type Options struct {
	NetworkDir string // holds hyperparameters.json and netparams.dat
	NumSubd    int    // 0 keeps the value from the hyperparameter file
	Device     string
	Rule       string
	TempDir    string // empty means os.TempDir()
	KeepTemp   bool
	Reporter   logger.Reporter
	Logger     *zap.Logger
}

func (o *Options) log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Result describes a completed run.
type Result struct {
	Object   string
	Mesh     *mesh.Mesh // finest level as written back
	Levels   []int      // vertex count per level
	Device   string
	Network  string
	TempFile string // set only when KeepTemp is true
	Duration time.Duration
}

// Run subdivides the active mesh object of scene.
func Run(ctx context.Context, scene *host.Scene, opts Options) (*Result, error) {
	obj, err := scene.ActiveMesh()
	if err != nil {
		se := stageError(StageSelect, err)
		report(opts, logger.SeverityError, se)
		return nil, se
	}
	return RunObject(ctx, obj, opts)
}

// RunObject subdivides obj. A second concurrent run on the same object fails
// with ErrBusy.
func RunObject(ctx context.Context, obj *host.Object, opts Options) (*Result, error) {
	if !obj.TryLock() {
		se := stageError(StageSelect, fmt.Errorf("%w: %q", ErrBusy, obj.Name))
		report(opts, logger.SeverityError, se)
		return nil, se
	}
	defer obj.Unlock()

	r := &run{
		ctx:   ctx,
		obj:   obj,
		opts:  opts,
		log:   opts.log().With(zap.String("object", obj.Name)),
		start: time.Now(),
	}
	res, err := r.execute()
	if err != nil {
		report(opts, logger.SeverityError, err)
		return nil, err
	}
	return res, nil
}

func report(opts Options, sev logger.Severity, err error) {
	logger.Report(opts.log(), opts.Reporter, sev, err.Error())
}

type run struct {
	ctx   context.Context
	obj   *host.Object
	opts  Options
	log   *zap.Logger
	start time.Time

	tri     *mesh.Mesh
	tmpPath string
	hp      *network.HyperParameters
	rule    subdiv.Rule
	h       *hierarchy.Hierarchy
	dev     network.Device
	net     *network.Net
	result  *mesh.Mesh
}

func (r *run) execute() (*Result, error) {
	defer r.cleanup()

	steps := []struct {
		stage Stage
		fn    func() error
	}{
		{StagePrepare, r.prepare},
		{StageExport, r.export},
		{StageHyperParameters, r.loadHyperParameters},
		{StageHierarchy, r.buildHierarchy},
		{StageDevice, r.selectDevice},
		{StageNetwork, r.loadNetwork},
		{StageInference, r.infer},
	}
	for _, step := range steps {
		if err := r.ctx.Err(); err != nil {
			return nil, stageError(step.stage, err)
		}
		if err := step.fn(); err != nil {
			se := stageError(step.stage, err)
			if step.stage == StageExport && se.Kind == KindUnknown {
				se.Kind = KindIO
			}
			return nil, se
		}
		r.log.Debug("stage done", zap.String("stage", string(step.stage)))
	}

	// Last chance to abort before the object changes.
	if err := r.ctx.Err(); err != nil {
		return nil, stageError(StageWriteback, err)
	}
	r.obj.ReplaceMesh(mesh.FromTriangles(r.result))

	res := &Result{
		Object:   r.obj.Name,
		Mesh:     r.result,
		Levels:   r.h.VertexCounts(),
		Device:   r.dev.Name(),
		Network:  filepath.Base(r.opts.NetworkDir),
		Duration: time.Since(r.start),
	}
	if r.opts.KeepTemp {
		res.TempFile = r.tmpPath
	}
	r.log.Info("subdivided",
		zap.Ints("levels", res.Levels),
		zap.String("device", res.Device),
		zap.Duration("took", res.Duration),
	)
	logger.Report(nil, r.opts.Reporter, logger.SeverityInfo, CompleteMessage)
	return res, nil
}

// prepare triangulates a private copy of the object's mesh.
func (r *run) prepare() error {
	poly := r.obj.Mesh()
	if poly == nil {
		return fmt.Errorf("%w: %q has no mesh data", host.ErrSelection, r.obj.Name)
	}
	tri, err := poly.Clone().Triangulate()
	if err != nil {
		return err
	}
	if err := tri.Validate(); err != nil {
		return err
	}
	r.tri = tri
	return nil
}

// export writes the triangulated mesh to a temporary OBJ file. The hierarchy
// is built from what is read back so the run sees exactly the interchange
// data.
func (r *run) export() error {
	f, err := os.CreateTemp(r.opts.TempDir, "nsubd-*.obj")
	if err != nil {
		return err
	}
	r.tmpPath = f.Name()
	if err := mesh.Write(f, r.tri); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *run) cleanup() {
	if r.tmpPath == "" || r.opts.KeepTemp {
		return
	}
	if err := os.Remove(r.tmpPath); err != nil && !os.IsNotExist(err) {
		logger.Report(r.log, r.opts.Reporter, logger.SeverityWarning,
			fmt.Sprintf("could not remove temporary file %s: %v", r.tmpPath, err))
	}
}

func (r *run) loadHyperParameters() error {
	if r.opts.NetworkDir == "" {
		return fmt.Errorf("%w: no network selected", network.ErrConfig)
	}
	hp, err := network.LoadHyperParameters(filepath.Join(r.opts.NetworkDir, network.HyperParamsFile))
	if err != nil {
		return err
	}

	switch {
	case r.opts.NumSubd > 0:
		hp.NumSubd = r.opts.NumSubd
	case hp.NumSubd < 1:
		hp.NumSubd = DefaultNumSubd
	}
	hp.OutputPath = r.opts.NetworkDir
	hp.Device = r.opts.Device
	if err := hp.Validate(); err != nil {
		return err
	}

	rule, err := subdiv.ParseRule(r.opts.Rule)
	if err != nil {
		return err
	}
	r.hp, r.rule = hp, rule
	return nil
}

func (r *run) buildHierarchy() error {
	m, err := mesh.ParseFile(r.tmpPath)
	if err != nil {
		return err
	}
	h, err := hierarchy.Build(m, r.hp.NumSubd,
		hierarchy.WithLogger(r.log.Named("hierarchy")),
		hierarchy.WithRule(r.rule),
	)
	if err != nil {
		return err
	}
	r.h = h
	return nil
}

func (r *run) selectDevice() error {
	dev, err := network.SelectDevice(r.opts.Device)
	if err != nil {
		return err
	}
	r.dev = dev
	r.hp.Device = dev.Name()
	return nil
}

func (r *run) loadNetwork() error {
	net, err := network.New(r.hp, r.dev)
	if err != nil {
		return err
	}
	w, err := network.ParseWeightsFile(r.hp.WeightsPath())
	if err != nil {
		return err
	}
	if err := net.LoadWeights(w); err != nil {
		return err
	}
	r.net = net
	return nil
}

func (r *run) infer() error {
	in, err := network.NewInput(r.h, r.dev)
	if err != nil {
		return err
	}
	outputs, err := r.net.Forward(in)
	if err != nil {
		return err
	}
	if len(outputs) != r.h.NumLevels() {
		return fmt.Errorf("%w: %d outputs for %d levels", network.ErrInference, len(outputs), r.h.NumLevels())
	}

	verts, err := network.Vectors(outputs[len(outputs)-1])
	if err != nil {
		return err
	}
	faces := make([][3]int, len(in.Faces))
	copy(faces, in.Faces)
	result := mesh.New(verts, faces)
	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %w", network.ErrInference, err)
	}
	r.result = result
	return nil
}
