package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Faultbox/neuralsubd/internal/host"
	"github.com/Faultbox/neuralsubd/internal/network"
	"github.com/Faultbox/neuralsubd/pkg/halfflap"
	"github.com/Faultbox/neuralsubd/pkg/hierarchy"
	"github.com/Faultbox/neuralsubd/pkg/mesh"
	"github.com/Faultbox/neuralsubd/pkg/pooling"
	"github.com/Faultbox/neuralsubd/pkg/subdiv"
)

// ErrBusy is returned when another run already holds the object.
var ErrBusy = errors.New("object is being processed")

// Stage names one step of a run.
type Stage string

const (
	StageSelect          Stage = "select"
	StagePrepare         Stage = "prepare"
	StageExport          Stage = "export"
	StageHyperParameters Stage = "hyperparameters"
	StageHierarchy       Stage = "hierarchy"
	StageDevice          Stage = "device"
	StageNetwork         Stage = "network"
	StageInference       Stage = "inference"
	StageWriteback       Stage = "writeback"
)

// Kind is the user-facing failure category.
type Kind int

const (
	KindUnknown Kind = iota
	KindSelection
	KindParse
	KindIndex
	KindConfig
	KindNonManifold
	KindSubdivisionMapping
	KindArtifactLoad
	KindInference
	KindDevice
	KindBusy
	KindCanceled
	KindIO
)

var kindNames = map[Kind]string{
	KindUnknown:            "Error",
	KindSelection:          "SelectionError",
	KindParse:              "ParseError",
	KindIndex:              "IndexError",
	KindConfig:             "ConfigError",
	KindNonManifold:        "NonManifoldError",
	KindSubdivisionMapping: "SubdivisionMappingError",
	KindArtifactLoad:       "ArtifactLoadError",
	KindInference:          "InferenceError",
	KindDevice:             "DeviceUnavailable",
	KindBusy:               "Busy",
	KindCanceled:           "Canceled",
	KindIO:                 "IOError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// StageError is the first failure of a run. The object is never modified
// when a run returns a StageError.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: Classify(err), Err: err}
}

// Classify maps an error from any stage to its Kind.
func Classify(err error) Kind {
	var (
		parseErr    *mesh.ParseError
		indexErr    *mesh.IndexError
		nonManifold *halfflap.NonManifoldError
		mappingErr  *pooling.SubdivisionMappingError
		stageErr    *StageError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &stageErr):
		return stageErr.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, host.ErrSelection):
		return KindSelection
	case errors.As(err, &indexErr):
		return KindIndex
	case errors.As(err, &parseErr),
		errors.Is(err, mesh.ErrDegenerateFace),
		errors.Is(err, mesh.ErrEmptyMesh):
		return KindParse
	case errors.Is(err, network.ErrConfig),
		errors.Is(err, subdiv.ErrUnknownRule),
		errors.Is(err, hierarchy.ErrInvalidSubd):
		return KindConfig
	case errors.As(err, &nonManifold):
		return KindNonManifold
	case errors.As(err, &mappingErr):
		return KindSubdivisionMapping
	case errors.Is(err, network.ErrDeviceUnavailable):
		return KindDevice
	case errors.Is(err, network.ErrArtifact):
		return KindArtifactLoad
	case errors.Is(err, network.ErrInference),
		errors.Is(err, hierarchy.ErrNotReady),
		errors.Is(err, pooling.ErrShape):
		return KindInference
	default:
		return KindUnknown
	}
}
