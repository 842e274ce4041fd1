package entity

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Presenter is the external state-presentation layer
type Presenter interface {
	// Register announces a new entity together with its current state
	Register(e *Entity) error
	// UpdateState publishes a changed value
	UpdateState(e *Entity) error
	// UpdateAttributes publishes the attribute bag
	UpdateAttributes(e *Entity) error
}

// PublishError wraps a presenter failure. It never disables the entity.
type PublishError struct {
	ID  string
	Op  string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Registry owns every published entity, keyed by id.
// Membership only grows. Not safe for concurrent use.
type Registry struct {
	presenter Presenter
	entities  map[string]*Entity
}

// NewRegistry creates an empty registry publishing through p
func NewRegistry(p Presenter) *Registry {
	return &Registry{
		presenter: p,
		entities:  make(map[string]*Entity),
	}
}

// Upsert creates the entity for r.ID or updates its value.
//
// Unit, class and name are fixed when the entity is created; later readings
// for the same id only change the value. An unchanged value is a no-op.
func (r *Registry) Upsert(rd Reading) error {
	if e, ok := r.entities[rd.ID]; ok {
		return r.setValue(e, rd.Value)
	}

	e := &Entity{
		ID:    rd.ID,
		Name:  rd.Name,
		Unit:  rd.Unit,
		Class: rd.Class,
		Value: rd.Value,
		Attributes: map[string]any{
			"unit_of_measurement": rd.Unit,
			"device_class":        rd.Class,
			"friendly_name":       rd.Name,
			"state_class":         StateClassMeasurement,
		},
	}
	r.entities[e.ID] = e
	return r.register(e)
}

// Add stores a prepared entity and registers it
func (r *Registry) Add(e *Entity) error {
	if _, ok := r.entities[e.ID]; ok {
		return fmt.Errorf("entity %s already exists", e.ID)
	}
	r.entities[e.ID] = e
	return r.register(e)
}

// SetState changes the value of an existing entity
func (r *Registry) SetState(id string, value any) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("unknown entity %s", id)
	}
	return r.setValue(e, value)
}

// SetAttributes replaces the attribute bag and always publishes it
func (r *Registry) SetAttributes(id string, attrs map[string]any) error {
	e, ok := r.entities[id]
	if !ok {
		return fmt.Errorf("unknown entity %s", id)
	}
	e.Attributes = attrs
	if !e.Registered {
		return r.register(e)
	}
	if err := r.presenter.UpdateAttributes(e); err != nil {
		return &PublishError{ID: e.ID, Op: "update attributes", Err: err}
	}
	return nil
}

// Get returns the entity stored under id
func (r *Registry) Get(id string) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// Len returns the number of known entities
func (r *Registry) Len() int {
	return len(r.entities)
}

// IDs returns all entity ids in sorted order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) setValue(e *Entity, value any) error {
	if e.Registered && reflect.DeepEqual(e.Value, value) {
		return nil
	}
	e.Value = value
	if !e.Registered {
		// an earlier registration failed, announce it again
		return r.register(e)
	}
	if err := r.presenter.UpdateState(e); err != nil {
		return &PublishError{ID: e.ID, Op: "update state", Err: err}
	}
	return nil
}

func (r *Registry) register(e *Entity) error {
	if err := r.presenter.Register(e); err != nil {
		return &PublishError{ID: e.ID, Op: "register", Err: err}
	}
	e.Registered = true
	return nil
}

// MultiPresenter fans every call out to all presenters
type MultiPresenter []Presenter

func (m MultiPresenter) Register(e *Entity) error {
	return m.each(func(p Presenter) error { return p.Register(e) })
}

func (m MultiPresenter) UpdateState(e *Entity) error {
	return m.each(func(p Presenter) error { return p.UpdateState(e) })
}

func (m MultiPresenter) UpdateAttributes(e *Entity) error {
	return m.each(func(p Presenter) error { return p.UpdateAttributes(e) })
}

func (m MultiPresenter) each(fn func(Presenter) error) error {
	var errs []error
	for _, p := range m {
		if err := fn(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
