// nsubd subdivides triangle meshes with a trained neural subdivision network.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/neuralsubd/internal/config"
	"github.com/Faultbox/neuralsubd/internal/host"
	"github.com/Faultbox/neuralsubd/internal/logger"
	"github.com/Faultbox/neuralsubd/internal/network"
	"github.com/Faultbox/neuralsubd/internal/pipeline"
	"github.com/Faultbox/neuralsubd/pkg/hierarchy"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

func main() {
	config.ParseFlags()
	args := config.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	command := args[0]
	args = args[1:]

	var code int
	switch command {
	case "subdivide", "subd":
		code = cmdSubdivide(cfg, args)
	case "batch":
		code = cmdBatch(cfg, args)
	case "info":
		code = cmdInfo(cfg, args)
	case "networks":
		code = cmdNetworks(cfg)
	case "commands":
		code = cmdCommands(cfg)
	case "init-network":
		code = cmdInitNetwork(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		code = 1
	}

	logger.Sync()
	os.Exit(code)
}

func printUsage() {
	fmt.Println(`nsubd - neural mesh subdivision

Usage:
  nsubd [global options] <command> [options]

Commands:
  subdivide <in.obj> [out.obj]       Subdivide a mesh with the selected network
  batch <out-dir> <in.obj>...        Subdivide several meshes in parallel
  info <in.obj>                      Show mesh and hierarchy statistics
  networks                           List trained networks
  commands                           List registered commands
  init-network <dir>                 Write an untrained network for testing

Global options:
  -config <file>    Config file (default ./config.yaml or user config dir)
  -jobs <dir>       Directory holding trained networks
  -network <name>   Network to use
  -subd <n>         Number of subdivision levels (default: the network's)
  -device <name>    Compute device (auto, cpu)
  -rule <name>      Subdivision rule (midpoint, loop)
  -log <file>       Log file
  -debug            Debug logging

Examples:
  nsubd subdivide bunny.obj bunny_subd.obj
  nsubd -network net_bunny -subd 3 subdivide bunny.obj
  nsubd batch ./out *.obj`)
}

// pipelineOptions builds run options from the config.
func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		NetworkDir: cfg.NetworkDir(),
		NumSubd:    cfg.Network.NumSubd,
		Device:     cfg.Network.Device,
		Rule:       cfg.Subdivision.Rule,
		TempDir:    cfg.Pipeline.TempDir,
		KeepTemp:   cfg.Pipeline.KeepTemp,
		Reporter:   logger.ReporterFunc(printReport),
		Logger:     logger.Named("pipeline"),
	}
}

func printReport(sev logger.Severity, msg string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", sev, msg)
}

// runContext returns a context cancelled by Ctrl-C and by the configured
// per-run timeout.
func runContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if cfg.Pipeline.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Pipeline.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func objectName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func loadObject(path string) (*host.Object, error) {
	p, err := mesh.ParsePolygonsFile(path)
	if err != nil {
		return nil, err
	}
	return host.NewObject(objectName(path), p), nil
}

func newRegistry(cfg *config.Config) (*host.Registry, error) {
	reg := host.NewRegistry(logger.Named("host"))
	if err := reg.Register(pipeline.Command(pipelineOptions(cfg))); err != nil {
		return nil, err
	}
	return reg, nil
}

func cmdSubdivide(cfg *config.Config, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nsubd subdivide <in.obj> [out.obj]")
		return 1
	}
	in := args[0]
	out := strings.TrimSuffix(in, filepath.Ext(in)) + "_subd.obj"
	if len(args) > 1 {
		out = args[1]
	}

	obj, err := loadObject(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	scene := host.NewScene()
	if err := scene.Add(obj); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	reg, err := newRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("registry teardown", zap.Error(err))
		}
	}()

	ctx, cancel := runContext(cfg)
	defer cancel()

	// Errors were already reported by the pipeline.
	if err := reg.Execute(ctx, pipeline.CommandName, scene); err != nil {
		return 1
	}

	if err := writeObject(out, obj); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("%s -> %s (%d vertices, %d faces)\n", in, out, len(obj.Mesh().Vertices), len(obj.Mesh().Polygons))
	return 0
}

func writeObject(path string, obj *host.Object) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := mesh.WritePolygons(f, obj.Mesh()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cmdBatch(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	workers := fs.Int("workers", cfg.Batch.Workers, "Number of parallel workers")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: nsubd batch [-workers N] <out-dir> <in.obj>...")
		return 1
	}
	outDir := fs.Arg(0)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var objs []*host.Object
	for _, path := range fs.Args()[1:] {
		obj, err := loadObject(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)
			continue
		}
		objs = append(objs, obj)
	}
	if len(objs) == 0 {
		fmt.Fprintln(os.Stderr, "No meshes to process")
		return 1
	}

	ctx, cancel := runContext(cfg)
	defer cancel()

	opts := pipelineOptions(cfg)
	results, err := pipeline.Batch(ctx, objs, opts, *workers)

	ok := 0
	for i, r := range results {
		if r.Err != nil {
			fmt.Printf("  FAIL %-24s %v\n", r.Object, r.Err)
			continue
		}
		out := filepath.Join(outDir, r.Object+".obj")
		if werr := writeObject(out, objs[i]); werr != nil {
			fmt.Printf("  FAIL %-24s %v\n", r.Object, werr)
			continue
		}
		ok++
		fmt.Printf("  OK   %-24s %v vertices in %s\n", r.Object, r.Result.Levels, r.Result.Duration.Round(time.Millisecond))
	}
	fmt.Printf("\n%d/%d meshes subdivided\n", ok, len(results))

	if err != nil || ok != len(results) {
		return 1
	}
	return 0
}

func cmdInfo(cfg *config.Config, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nsubd info <in.obj>")
		return 1
	}

	p, err := mesh.ParsePolygonsFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	m, err := p.Triangulate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	b := m.Bounds()
	fmt.Printf("Mesh:      %s\n", args[0])
	fmt.Printf("Polygons:  %d (triangulated: %v)\n", len(p.Polygons), p.IsTriangulated())
	fmt.Printf("Vertices:  %d\n", m.NumVertices())
	fmt.Printf("Triangles: %d\n", m.NumFaces())
	fmt.Printf("Bounds:    %v - %v\n", b.Min.Array(), b.Max.Array())
	fmt.Printf("Area:      %.6g\n", m.SurfaceArea())

	rule, err := subdiv.ParseRule(cfg.Subdivision.Rule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	h, err := hierarchy.Build(m, numSubd(cfg),
		hierarchy.WithRule(rule),
		hierarchy.WithLogger(logger.Named("hierarchy")),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Hierarchy: %v\n", err)
		return 1
	}

	fmt.Println()
	fmt.Printf("Hierarchy (%s rule):\n", rule.Name())
	fmt.Printf("  %-6s %10s %10s %10s %10s\n", "level", "vertices", "faces", "edges", "boundary")
	for i := 0; i < h.NumLevels(); i++ {
		lv := h.Level(i)
		fmt.Printf("  %-6d %10d %10d %10d %10d\n", i,
			lv.Mesh.NumVertices(), lv.Mesh.NumFaces(), lv.HalfFlaps.Len(), len(lv.HalfFlaps.BoundaryEdges()))
	}
	return 0
}

// numSubd resolves the level count the way a pipeline run does: config or
// flag first, then the network's hyperparameters, then the default.
func numSubd(cfg *config.Config) int {
	if cfg.Network.NumSubd > 0 {
		return cfg.Network.NumSubd
	}
	hp, err := network.LoadHyperParameters(filepath.Join(cfg.NetworkDir(), network.HyperParamsFile))
	if err == nil && hp.NumSubd > 0 {
		return hp.NumSubd
	}
	return pipeline.DefaultNumSubd
}

func cmdNetworks(cfg *config.Config) int {
	names := host.DiscoverNetworks(cfg.Network.JobsDir, cfg.Network.Default)
	fmt.Printf("Networks in %s:\n", cfg.Network.JobsDir)
	for _, n := range names {
		marker := " "
		if n == cfg.Network.Default {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, n)
	}
	return 0
}

func cmdCommands(cfg *config.Config) int {
	reg, err := newRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer reg.Close()

	for _, c := range reg.Commands() {
		fmt.Printf("%-24s %-28s %-20s %s\n", c.Name, c.Label, c.Shortcut, c.Panel)
	}
	return 0
}

func cmdInitNetwork(args []string) int {
	fs := flag.NewFlagSet("init-network", flag.ExitOnError)
	dout := fs.Int("dout", 32, "Feature width")
	width := fs.Int("width", 32, "Hidden layer width")
	seed := fs.Uint64("seed", 1, "Random seed")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nsubd init-network [-dout N] [-width N] [-seed N] <dir>")
		return 1
	}
	dir := fs.Arg(0)

	hp := &network.HyperParameters{
		Din:       network.InputDim,
		Dout:      *dout,
		InitNet:   []int{*width, *width},
		EdgeNet:   []int{*width, *width},
		VertexNet: []int{*width, *width},
	}
	w, err := network.InitWeights(hp, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := hp.Save(filepath.Join(dir, network.HyperParamsFile)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := network.WriteWeightsFile(filepath.Join(dir, network.WeightsFile), w); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote untrained network to %s (%d tensors)\n", dir, len(w.Tensors))
	return 0
}
