package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/jobqueue"
)

// MetaIntegrationID routes a job to the adapter serving that integration.
const MetaIntegrationID = "integration_id"

// Registry routes sync and fetch jobs to the adapter registered for the
// job's integration. One adapter per integration ID.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty adapter registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]*Adapter),
		logger:   logger.With("component", "fetch"),
	}
}

// Register adds an adapter under its integration ID, replacing any previous
// registration.
func (r *Registry) Register(a *Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.integrationID] = a
	r.logger.Info("adapter registered",
		"integration_id", a.integrationID,
		"integration_type", a.integrationType)
}

// HandleJob dispatches one job to the adapter for its integration. Jobs for
// unknown integrations are invalid and will not be retried.
func (r *Registry) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	integrationID := metaString(job.Metadata, MetaIntegrationID)

	r.mu.RLock()
	adapter, ok := r.adapters[integrationID]
	r.mu.RUnlock()
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("no adapter for integration %q", integrationID),
			"Registry", "HandleJob", "dispatch")
	}
	return adapter.HandleJob(ctx, job)
}
