package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	gomath "math"
	"os"
	"sort"
)

const (
	weightsMagic   = "NSWT"
	weightsVersion = 1
	maxTensorRank  = 4
)

// Weights artifact errors. All of them match ErrArtifact with errors.Is.
var (
	ErrInvalidWeightsMagic       = fmt.Errorf("%w: invalid magic, expected '%s'", ErrArtifact, weightsMagic)
	ErrUnsupportedWeightsVersion = fmt.Errorf("%w: unsupported version", ErrArtifact)
	ErrTruncatedWeights          = fmt.Errorf("%w: truncated data", ErrArtifact)
	ErrDuplicateTensor           = fmt.Errorf("%w: duplicate tensor", ErrArtifact)
	ErrShapeMismatch             = fmt.Errorf("%w: parameter shape mismatch", ErrArtifact)
)

// Tensor is a named float32 array with a row-major shape.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// Size returns the element count implied by Shape.
func (t *Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Weights is the parsed content of a weights artifact.
type Weights struct {
	Version uint16
	Tensors []Tensor
	index   map[string]int
}

// NewWeights builds a weights set from tensors. Names must be unique.
func NewWeights(tensors []Tensor) (*Weights, error) {
	w := &Weights{Version: weightsVersion, index: make(map[string]int, len(tensors))}
	for _, t := range tensors {
		if err := w.add(t); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Weights) add(t Tensor) error {
	if _, ok := w.index[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTensor, t.Name)
	}
	if t.Size() != len(t.Data) {
		return fmt.Errorf("%w: %s has %d values for shape %v", ErrShapeMismatch, t.Name, len(t.Data), t.Shape)
	}
	w.index[t.Name] = len(w.Tensors)
	w.Tensors = append(w.Tensors, t)
	return nil
}

// Get returns the tensor called name.
func (w *Weights) Get(name string) (*Tensor, bool) {
	i, ok := w.index[name]
	if !ok {
		return nil, false
	}
	return &w.Tensors[i], true
}

// Names returns the tensor names in sorted order.
func (w *Weights) Names() []string {
	names := make([]string, 0, len(w.Tensors))
	for _, t := range w.Tensors {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// ParseWeights parses a weights artifact from raw bytes.
//
// Layout (little-endian): magic "NSWT", uint16 version, uint32 tensor count,
// then per tensor: uint16 name length, name, uint8 rank, rank x uint32 dims,
// float32 values.
func ParseWeights(data []byte) (*Weights, error) {
	if len(data) < 10 {
		return nil, ErrTruncatedWeights
	}
	if string(data[0:4]) != weightsMagic {
		return nil, ErrInvalidWeightsMagic
	}

	r := bytes.NewReader(data[4:])

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: reading version", ErrTruncatedWeights)
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWeightsVersion, version)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading tensor count", ErrTruncatedWeights)
	}

	w := &Weights{Version: version, index: make(map[string]int, count)}
	for i := uint32(0); i < count; i++ {
		t, err := parseTensor(r)
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		if err := w.add(t); err != nil {
			return nil, err
		}
	}

	return w, nil
}

func parseTensor(r *bytes.Reader) (Tensor, error) {
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return Tensor{}, fmt.Errorf("%w: reading name length", ErrTruncatedWeights)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Tensor{}, fmt.Errorf("%w: reading name", ErrTruncatedWeights)
	}

	rank, err := r.ReadByte()
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: reading rank", ErrTruncatedWeights)
	}
	if rank == 0 || rank > maxTensorRank {
		return Tensor{}, fmt.Errorf("%w: %s has rank %d", ErrShapeMismatch, name, rank)
	}

	t := Tensor{Name: string(name), Shape: make([]int, rank)}
	size := 1
	for d := 0; d < int(rank); d++ {
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return Tensor{}, fmt.Errorf("%w: reading dims of %s", ErrTruncatedWeights, t.Name)
		}
		t.Shape[d] = int(dim)
		size *= int(dim)
		if size > r.Len() {
			return Tensor{}, fmt.Errorf("%w: %s shape %v exceeds remaining data", ErrTruncatedWeights, t.Name, t.Shape[:d+1])
		}
	}

	// Bound the allocation by what is actually left in the buffer.
	if size*4 > r.Len() {
		return Tensor{}, fmt.Errorf("%w: %s needs %d bytes, %d left", ErrTruncatedWeights, t.Name, size*4, r.Len())
	}
	t.Data = make([]float32, size)
	if err := binary.Read(r, binary.LittleEndian, t.Data); err != nil {
		return Tensor{}, fmt.Errorf("%w: reading values of %s", ErrTruncatedWeights, t.Name)
	}
	for _, v := range t.Data {
		if gomath.IsNaN(float64(v)) || gomath.IsInf(float64(v), 0) {
			return Tensor{}, fmt.Errorf("%w: %s contains non-finite values", ErrArtifact, t.Name)
		}
	}

	return t, nil
}

// ParseWeightsFile parses a weights artifact from disk.
func ParseWeightsFile(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	return ParseWeights(data)
}

// EncodeWeights serializes w in the artifact layout read by ParseWeights.
func EncodeWeights(w *Weights) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(weightsMagic)
	binary.Write(buf, binary.LittleEndian, uint16(weightsVersion))
	binary.Write(buf, binary.LittleEndian, uint32(len(w.Tensors)))
	for _, t := range w.Tensors {
		binary.Write(buf, binary.LittleEndian, uint16(len(t.Name)))
		buf.WriteString(t.Name)
		buf.WriteByte(byte(len(t.Shape)))
		for _, d := range t.Shape {
			binary.Write(buf, binary.LittleEndian, uint32(d))
		}
		binary.Write(buf, binary.LittleEndian, t.Data)
	}
	return buf.Bytes()
}

// WriteWeightsFile writes w to path.
func WriteWeightsFile(path string, w *Weights) error {
	return os.WriteFile(path, EncodeWeights(w), 0644)
}
