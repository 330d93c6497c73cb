package analysis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/jobqueue"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
)

// Trigger turns analyze jobs into linked events so an analysis pass can be
// requested on demand, outside the normal post-sync flow. The orchestrator
// analyzes the whole (tenant, dataSource) graph regardless of which entity
// batch triggered it, so a synthetic event with no records is enough.
type Trigger struct {
	bus    Publisher
	logger *slog.Logger
}

// NewTrigger builds the analyze-job handler.
func NewTrigger(bus Publisher, logger *slog.Logger) *Trigger {
	return &Trigger{bus: bus, logger: logger.With("component", "analysis")}
}

// HandleJob publishes one synthetic linked event for the job's key.
func (t *Trigger) HandleJob(_ context.Context, job *jobqueue.Job) error {
	ev := stage.Event{
		ID:           uuid.NewString(),
		Stage:        stageflow.StageLinked,
		EntityType:   entity.TypeIdentity,
		TenantID:     job.TenantID,
		DataSourceID: job.DataSourceID,
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		return errors.WrapInvalid(err, "Trigger", "HandleJob", "encode event")
	}
	if err := t.bus.Publish(ev.Subject(), data); err != nil {
		return errors.WrapTransient(err, "Trigger", "HandleJob", "publish event")
	}
	t.logger.Info("analysis pass requested",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"data_source_id", job.DataSourceID)
	return nil
}
