package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// MaxInstancesPerClient bounds the registry list of a single client.
const MaxInstancesPerClient = 1000

// ErrRegistryFull is returned when appending to a client list that is at capacity.
var ErrRegistryFull = errors.New("instance registry is full")

// Registry maps each client identity to the ordered list of instances it provisioned.
type Registry struct {
	state *State
}

// Registry returns the instance registry of s.
func (s *State) Registry() *Registry {
	return &Registry{state: s}
}

// Upsert replaces the client's entry with the same handle in place, or appends
// the instance if no entry has that handle.
func (r *Registry) Upsert(ctx context.Context, client interfaces.Identity, instance interfaces.ProvisionedInstance) error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	key := registrySlot(client)

	var instances []interfaces.ProvisionedInstance
	if _, err := r.state.read(ctx, key, &instances); err != nil {
		return err
	}

	replaced := false
	for i := range instances {
		if instances[i].Handle == instance.Handle {
			instances[i] = instance
			replaced = true
			break
		}
	}

	if !replaced {
		if len(instances) >= MaxInstancesPerClient {
			return fmt.Errorf("%w: client %s has %d instances", ErrRegistryFull, client, len(instances))
		}
		instances = append(instances, instance)
	}

	return r.state.write(ctx, key, instances)
}

// List returns the client's instances in the order they were first recorded.
func (r *Registry) List(ctx context.Context, client interfaces.Identity) ([]interfaces.ProvisionedInstance, error) {
	var instances []interfaces.ProvisionedInstance
	if _, err := r.state.read(ctx, registrySlot(client), &instances); err != nil {
		return nil, err
	}
	return instances, nil
}
