// Package zoo implements model discovery sources. A zoo's catalog is a pure,
// idempotent read; the core treats descriptors as immutable.
package zoo

import (
	"modelzoo/pkg/types"
)

// Zoo produces an ordered sequence of model descriptors for display and
// launch.
type Zoo interface {
	Name() string
	Catalog() ([]types.ModelDescriptor, error)
}

// StaticZoo serves a fixed catalog from configuration.
type StaticZoo struct {
	name   string
	models []types.ModelDescriptor
}

// NewStatic builds a zoo over a fixed descriptor list. The zoo name is
// stamped onto every descriptor.
func NewStatic(name string, models []types.ModelDescriptor) *StaticZoo {
	out := make([]types.ModelDescriptor, len(models))
	copy(out, models)
	for i := range out {
		out[i].ZooName = name
	}
	return &StaticZoo{name: name, models: out}
}

func (z *StaticZoo) Name() string { return z.name }

func (z *StaticZoo) Catalog() ([]types.ModelDescriptor, error) {
	out := make([]types.ModelDescriptor, len(z.models))
	copy(out, z.models)
	return out, nil
}
