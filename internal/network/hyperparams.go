// Package network loads a pretrained subdivision network and runs its
// forward pass over a mesh hierarchy.
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Error categories surfaced to the inference driver.
var (
	ErrConfig            = errors.New("invalid hyperparameters")
	ErrArtifact          = errors.New("weights artifact")
	ErrInference         = errors.New("inference failed")
	ErrDeviceUnavailable = errors.New("compute device unavailable")
)

// File names inside a network directory.
const (
	HyperParamsFile = "hyperparameters.json"
	WeightsFile     = "netparams.dat"
)

// InputDim is the width of a half-flap geometry feature: three edge vectors
// relative to the flap origin.
const InputDim = 9

// HyperParameters describes the network architecture and run options.
// Fields the driver does not use are kept in Extra and written back
// unchanged.
type HyperParameters struct {
	Din       int   `json:"Din"`
	Dout      int   `json:"Dout"`
	InitNet   []int `json:"h_initNet"`
	EdgeNet   []int `json:"h_edgeNet"`
	VertexNet []int `json:"h_vertexNet"`

	// Set at call time.
	NumSubd    int    `json:"numSubd,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	Device     string `json:"device,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownKeys = []string{"Din", "Dout", "h_initNet", "h_edgeNet", "h_vertexNet", "numSubd", "output_path", "device"}

// UnmarshalJSON decodes known fields and stashes the rest in Extra.
func (hp *HyperParameters) UnmarshalJSON(data []byte) error {
	type plain HyperParameters
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	*hp = HyperParameters(p)
	if len(all) > 0 {
		hp.Extra = all
	}
	return nil
}

// MarshalJSON encodes known fields merged with Extra.
func (hp HyperParameters) MarshalJSON() ([]byte, error) {
	type plain HyperParameters
	known, err := json.Marshal(plain(hp))
	if err != nil {
		return nil, err
	}
	if len(hp.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(hp.Extra)+len(knownKeys))
	for k, v := range hp.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// LoadHyperParameters reads and checks the architecture part of a
// hyperparameter file. Every failure wraps ErrConfig.
func LoadHyperParameters(path string) (*HyperParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	var hp HyperParameters
	if err := json.Unmarshal(data, &hp); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrConfig, filepath.Base(path), err)
	}
	if err := hp.ValidateArchitecture(); err != nil {
		return nil, err
	}
	return &hp, nil
}

// Save writes the hyperparameters as indented JSON.
func (hp *HyperParameters) Save(path string) error {
	data, err := json.MarshalIndent(hp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// ValidateArchitecture checks the fields that shape the network.
func (hp *HyperParameters) ValidateArchitecture() error {
	if hp.Din != InputDim {
		return fmt.Errorf("%w: Din must be %d, got %d", ErrConfig, InputDim, hp.Din)
	}
	if hp.Dout < 3 {
		return fmt.Errorf("%w: Dout must be at least 3, got %d", ErrConfig, hp.Dout)
	}
	for _, sub := range []struct {
		name   string
		layers []int
	}{
		{"h_initNet", hp.InitNet},
		{"h_edgeNet", hp.EdgeNet},
		{"h_vertexNet", hp.VertexNet},
	} {
		name, layers := sub.name, sub.layers
		if len(layers) == 0 {
			return fmt.Errorf("%w: %s needs at least one hidden layer", ErrConfig, name)
		}
		for i, width := range layers {
			if width < 1 {
				return fmt.Errorf("%w: %s[%d] = %d", ErrConfig, name, i, width)
			}
		}
	}
	return nil
}

// Validate checks the architecture and the call-time fields.
func (hp *HyperParameters) Validate() error {
	if err := hp.ValidateArchitecture(); err != nil {
		return err
	}
	if hp.NumSubd < 1 {
		return fmt.Errorf("%w: numSubd must be at least 1, got %d", ErrConfig, hp.NumSubd)
	}
	if hp.OutputPath == "" {
		return fmt.Errorf("%w: output_path is empty", ErrConfig)
	}
	return nil
}

// WeightsPath returns the weights artifact location under OutputPath.
func (hp *HyperParameters) WeightsPath() string {
	return filepath.Join(hp.OutputPath, WeightsFile)
}
