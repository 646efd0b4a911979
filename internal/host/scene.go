// Package host models the editor surface the subdivision tool plugs into:
// a scene of named objects, one of them active, and a registry of commands
// bound to shortcuts and panels.
package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Faultbox/neuralsubd/pkg/mesh"
)

// Selection errors.
var (
	ErrSelection     = errors.New("no mesh object selected")
	ErrUnknownObject = errors.New("unknown object")
	ErrDuplicateName = errors.New("object name already in use")
)

// ObjectType is the kind of data an object carries.
type ObjectType int

const (
	ObjectMesh ObjectType = iota
	ObjectCurve
	ObjectEmpty
	ObjectCamera
)

func (t ObjectType) String() string {
	switch t {
	case ObjectMesh:
		return "MESH"
	case ObjectCurve:
		return "CURVE"
	case ObjectEmpty:
		return "EMPTY"
	case ObjectCamera:
		return "CAMERA"
	default:
		return fmt.Sprintf("ObjectType(%d)", int(t))
	}
}

// Object is a scene object. Only mesh objects carry geometry.
type Object struct {
	Name string
	Type ObjectType

	mu   sync.RWMutex
	mesh *mesh.PolyMesh

	// run serializes operators on this object.
	run sync.Mutex
}

// NewObject returns a mesh object holding p.
func NewObject(name string, p *mesh.PolyMesh) *Object {
	return &Object{Name: name, Type: ObjectMesh, mesh: p}
}

// NewEmpty returns an object without geometry.
func NewEmpty(name string, typ ObjectType) *Object {
	return &Object{Name: name, Type: typ}
}

// Mesh returns the object's current mesh data. Callers must not modify it;
// use ReplaceMesh to change geometry.
func (o *Object) Mesh() *mesh.PolyMesh {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mesh
}

// ReplaceMesh swaps the object's mesh data in one step.
func (o *Object) ReplaceMesh(p *mesh.PolyMesh) {
	o.mu.Lock()
	o.mesh = p
	o.mu.Unlock()
}

// TryLock claims the object for an operator run. It reports false when
// another run holds it.
func (o *Object) TryLock() bool {
	return o.run.TryLock()
}

// Unlock releases a claim taken with TryLock.
func (o *Object) Unlock() {
	o.run.Unlock()
}

// Scene holds objects in insertion order and tracks the active one.
type Scene struct {
	mu      sync.RWMutex
	objects []*Object
	byName  map[string]*Object
	active  *Object
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{byName: make(map[string]*Object)}
}

// Add inserts obj. The first object added becomes active.
func (s *Scene) Add(obj *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[obj.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, obj.Name)
	}
	s.objects = append(s.objects, obj)
	s.byName[obj.Name] = obj
	if s.active == nil {
		s.active = obj
	}
	return nil
}

// Object returns the object called name.
func (s *Scene) Object(name string) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.byName[name]
	return obj, ok
}

// Objects returns the objects in insertion order.
func (s *Scene) Objects() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Object(nil), s.objects...)
}

// SetActive makes name the active object. An empty name clears it.
func (s *Scene) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		s.active = nil
		return nil
	}
	obj, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownObject, name)
	}
	s.active = obj
	return nil
}

// Active returns the active object, or nil.
func (s *Scene) Active() *Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ActiveMesh returns the active object if it is a mesh object with
// geometry, and an error wrapping ErrSelection otherwise.
func (s *Scene) ActiveMesh() (*Object, error) {
	obj := s.Active()
	if obj == nil {
		return nil, ErrSelection
	}
	if obj.Type != ObjectMesh {
		return nil, fmt.Errorf("%w: %q is a %s object", ErrSelection, obj.Name, obj.Type)
	}
	if obj.Mesh() == nil {
		return nil, fmt.Errorf("%w: %q has no mesh data", ErrSelection, obj.Name)
	}
	return obj, nil
}
