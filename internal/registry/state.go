package registry

import (
	"context"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
)

// Phase is the configuration state of this service.
type Phase string

const (
	Unconfigured Phase = "unconfigured"
	Configured   Phase = "configured"
)

// BootstrapState summarizes what the registry knows about itself.
type BootstrapState struct {
	Phase            Phase
	ThisUUID         string
	ConnectorPresent bool
}

// Configured reports whether a "this" record exists.
func (s BootstrapState) Configured() bool {
	return s.Phase == Configured
}

// State reports the bootstrap state. Store failures are returned as errors;
// missing records are not.
func (r *Registry) State(ctx context.Context) (BootstrapState, error) {
	state := BootstrapState{Phase: Unconfigured}

	this, err := r.This(ctx)
	switch {
	case err == nil:
		state.Phase = Configured
		state.ThisUUID = this.UUID
	case !domain.IsConfigurationError(err):
		return state, err
	}

	_, err = r.Connector(ctx)
	switch {
	case err == nil:
		state.ConnectorPresent = true
	case !domain.IsConfigurationError(err):
		return state, err
	}
	return state, nil
}
