package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/jobqueue"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
)

// Job metadata keys the adapter reads and writes.
const (
	MetaEntityType     = "entity_type"
	MetaCursor         = "cursor"
	MetaBatchNumber    = "batch_number"
	MetaTotalProcessed = "total_processed"
	MetaSubtype        = "data_source_subtype"
)

// Publisher is the bus surface the adapter publishes fetched and failed
// events on.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Scheduler schedules continuation jobs. *jobqueue.Queue satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, job jobqueue.Job) (string, error)
}

// Adapter drives one provider connector through resumable, rate-limited,
// cursor-paginated fetches. One adapter instance serves one integration.
type Adapter struct {
	connector Connector
	bus       Publisher
	scheduler Scheduler
	limiter   *rate.Limiter
	logger    *slog.Logger

	integrationID   string
	integrationType stageflow.IntegrationType
	pageSize        int
	volatileFields  []string
}

// AdapterConfig configures one adapter instance.
type AdapterConfig struct {
	IntegrationID   string
	IntegrationType stageflow.IntegrationType
	PageSize        int
	RateLimit       rate.Limit
	Burst           int
	// VolatileFields overrides DefaultVolatileFields when non-nil.
	VolatileFields []string
}

// NewAdapter builds an adapter around a connector.
func NewAdapter(c Connector, bus Publisher, s Scheduler, cfg AdapterConfig, logger *slog.Logger) *Adapter {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	volatile := cfg.VolatileFields
	if volatile == nil {
		volatile = DefaultVolatileFields
	}
	return &Adapter{
		connector:       c,
		bus:             bus,
		scheduler:       s,
		limiter:         rate.NewLimiter(limit, burst),
		logger:          logger.With("component", "fetch", "integration_id", cfg.IntegrationID),
		integrationID:   cfg.IntegrationID,
		integrationType: cfg.IntegrationType,
		pageSize:        pageSize,
		volatileFields:  volatile,
	}
}

// HandleJob fetches one page for one sync or continuation job. A page with
// more data behind it schedules exactly one high-priority continuation job;
// the final page schedules none.
func (a *Adapter) HandleJob(ctx context.Context, job *jobqueue.Job) error {
	entityType := entity.Type(metaString(job.Metadata, MetaEntityType))
	cursor := cursorFromJob(job)
	base := a.eventBase(job, entityType)

	log := a.logger.With(
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"data_source_id", job.DataSourceID,
		"entity_type", entityType,
		"batch", cursor.BatchNumber,
	)

	if !entityType.Valid() || !a.connector.Supports(entityType) {
		err := errors.WrapInvalid(errors.ErrUnsupportedEntityType, "Adapter", "HandleJob",
			fmt.Sprintf("fetch %s", entityType))
		a.publishFailure(base, err, log)
		return err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(err, "Adapter", "HandleJob", "rate limit wait")
	}

	if !a.connector.CheckHealth(ctx) {
		err := errors.WrapTransient(errors.ErrProviderUnavailable, "Adapter", "HandleJob", "health check")
		a.publishFailure(base, err, log)
		return err
	}

	page, err := a.connector.FetchPage(ctx, PageRequest{
		EntityType: entityType,
		Cursor:     cursor.Cursor,
		PageSize:   a.pageSize,
	})
	if err != nil {
		wrapped := errors.WrapTransient(err, "Adapter", "HandleJob", "fetch page")
		a.publishFailure(base, wrapped, log)
		return wrapped
	}

	records := make([]json.RawMessage, 0, len(page.Records))
	for _, rec := range page.Records {
		hash, err := RecordHash(rec.Raw, a.volatileFields...)
		if err != nil {
			log.Warn("skipping unhashable record", "external_id", rec.ExternalID, "error", err)
			continue
		}
		data, err := json.Marshal(&stage.Record{
			ExternalID: rec.ExternalID,
			SiteID:     rec.SiteID,
			DataHash:   hash,
			Raw:        rec.Raw,
		})
		if err != nil {
			log.Warn("skipping unencodable record", "external_id", rec.ExternalID, "error", err)
			continue
		}
		records = append(records, data)
	}

	ev := base
	ev.Stage = stageflow.StageFetched
	ev.Records = records
	ev.Batch = &entity.SyncCursor{
		Cursor:         cursor.Cursor,
		BatchNumber:    cursor.BatchNumber,
		TotalProcessed: cursor.TotalProcessed + len(records),
	}
	if err := a.publish(&ev); err != nil {
		return errors.WrapTransient(err, "Adapter", "HandleJob", "publish fetched event")
	}

	log.Info("page fetched", "records", len(records), "has_more", page.HasMore)

	if page.HasMore && page.NextCursor != "" {
		continuation := jobqueue.Job{
			Action:       job.Action,
			TenantID:     job.TenantID,
			DataSourceID: job.DataSourceID,
			Priority:     jobqueue.PriorityHigh,
			Metadata: map[string]any{
				MetaIntegrationID:  a.integrationID,
				MetaEntityType:     string(entityType),
				MetaCursor:         page.NextCursor,
				MetaBatchNumber:    cursor.BatchNumber + 1,
				MetaTotalProcessed: cursor.TotalProcessed + len(records),
			},
		}
		if subtype := metaString(job.Metadata, MetaSubtype); subtype != "" {
			continuation.Metadata[MetaSubtype] = subtype
		}
		if _, err := a.scheduler.Schedule(ctx, continuation); err != nil {
			return errors.WrapTransient(err, "Adapter", "HandleJob", "schedule continuation")
		}
	}
	return nil
}

func (a *Adapter) eventBase(job *jobqueue.Job, t entity.Type) stage.Event {
	ev := stage.Event{
		ID:              uuid.NewString(),
		EntityType:      t,
		TenantID:        job.TenantID,
		IntegrationID:   a.integrationID,
		IntegrationType: a.integrationType,
		DataSourceID:    job.DataSourceID,
	}
	if subtype := metaString(job.Metadata, MetaSubtype); subtype != "" {
		ev.Metadata = &stageflow.Metadata{DataSourceSubtype: subtype}
	}
	return ev
}

func (a *Adapter) publishFailure(base stage.Event, err error, log *slog.Logger) {
	code := errors.CodeFor(err)
	base.ID = uuid.NewString()
	base.Stage = stageflow.StageFailed
	base.Failure = &stage.Failure{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: errors.Retryable(err),
	}
	log.Error("fetch failed", "code", code, "retryable", base.Failure.Retryable, "error", err)
	if pubErr := a.publish(&base); pubErr != nil {
		log.Error("failure event publish failed", "error", pubErr)
	}
}

func (a *Adapter) publish(ev *stage.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "Adapter", "publish", "encode event")
	}
	return a.bus.Publish(ev.Subject(), data)
}

func cursorFromJob(job *jobqueue.Job) entity.SyncCursor {
	return entity.SyncCursor{
		Cursor:         metaString(job.Metadata, MetaCursor),
		BatchNumber:    metaInt(job.Metadata, MetaBatchNumber),
		TotalProcessed: metaInt(job.Metadata, MetaTotalProcessed),
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

// metaInt tolerates float64 because job metadata round-trips through JSON.
func metaInt(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
