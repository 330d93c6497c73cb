package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/tenantsync/config"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/metric"
	"github.com/c360/tenantsync/pkg/worker"
	"github.com/c360/tenantsync/stageflow"
)

// Handler is one concrete pipeline stage. The runner owns everything else:
// subscriptions, decoding, concurrency, metrics, logging and failure events.
type Handler interface {
	Name() string
	Subjects() []string
	Handle(ctx context.Context, ev *Event) (*Outcome, error)
}

// Publisher is the bus surface the runner needs. *natsclient.Client satisfies
// it; tests substitute a recorder.
type Publisher interface {
	Publish(subject string, data []byte) error
	Subscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// Runner drives one Handler as a bounded-concurrency bus consumer.
type Runner struct {
	handler Handler
	bus     Publisher
	metrics *metric.Metrics
	logger  *slog.Logger

	pool *worker.Pool[*Event]
	subs []*nats.Subscription
}

// RunnerDeps carries the runner's collaborators.
type RunnerDeps struct {
	Bus      Publisher
	Metrics  *metric.Metrics
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// NewRunner builds a runner for one handler with the stage's concurrency
// bounds.
func NewRunner(h Handler, cfg config.StageConfig, deps RunnerDeps) *Runner {
	r := &Runner{
		handler: h,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("stage", h.Name()),
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	var opts []worker.Option[*Event]
	if deps.Registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*Event](deps.Registry, "stage_"+h.Name()))
	}
	r.pool = worker.NewPool(workers, queueSize, r.process, opts...)
	return r
}

// Start subscribes on the handler's subjects and starts the worker pool.
// Each subject uses a queue group named after the stage so multiple instances
// share the load.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return errors.WrapTransient(err, "Runner", "Start", "start worker pool")
	}

	for _, subject := range r.handler.Subjects() {
		sub, err := r.bus.Subscribe(subject, r.handler.Name(), r.onMsg)
		if err != nil {
			return errors.WrapTransient(err, "Runner", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
		r.subs = append(r.subs, sub)
	}

	r.logger.Info("stage started", "subjects", r.handler.Subjects())
	return nil
}

func (r *Runner) onMsg(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.logger.Error("dropping undecodable event", "subject", msg.Subject, "error", err)
		return
	}
	if err := ev.Validate(); err != nil {
		r.logger.Error("dropping invalid event", "subject", msg.Subject, "error", err)
		return
	}
	if err := r.pool.Submit(&ev); err != nil {
		// Queue full. The event is lost at this hop; the originating job's
		// at-least-once redelivery recovers the batch. The counter makes a
		// sustained stall visible before the next full sync.
		if r.metrics != nil {
			r.metrics.StageDropped.WithLabelValues(r.handler.Name()).Inc()
		}
		r.logger.Warn("stage queue full, dropping event",
			"event_id", ev.ID, "subject", msg.Subject)
	}
}

func (r *Runner) process(ctx context.Context, ev *Event) error {
	start := time.Now()
	log := r.logger.With(
		"event_id", ev.ID,
		"tenant_id", ev.TenantID,
		"data_source_id", ev.DataSourceID,
		"entity_type", ev.EntityType,
	)

	outcome, err := r.handler.Handle(ctx, ev)
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.StageMessages.WithLabelValues(r.handler.Name(), string(ev.EntityType)).Inc()
		r.metrics.StageDuration.WithLabelValues(r.handler.Name()).Observe(duration.Seconds())
	}

	if err != nil {
		r.fail(ev, err, log)
		return err
	}

	if outcome != nil {
		for _, out := range outcome.Events {
			if err := r.publish(out); err != nil {
				log.Error("event publish failed", "subject", out.Subject(), "error", err)
				return err
			}
		}
	}

	log.Debug("event handled", "duration_ms", duration.Milliseconds())
	return nil
}

// failureCode maps an error to its taxonomy code. Errors no sentinel claims
// are attributed to the stage they escaped from, so an analyzer blowing up on
// unexpected data surfaces as ANALYZER_FAILED rather than UNKNOWN.
func failureCode(stage string, err error) errors.Code {
	if code := errors.CodeFor(err); code != errors.CodeUnknown {
		return code
	}
	switch stage {
	case "process":
		return errors.CodeProcessorFailed
	case "link":
		return errors.CodeResolverFailed
	case "analyze":
		return errors.CodeAnalyzerFailed
	}
	return errors.CodeUnknown
}

// fail publishes a failed.<entityType> event carrying the error taxonomy so
// the data source's job history shows the failure.
func (r *Runner) fail(ev *Event, err error, log *slog.Logger) {
	code := failureCode(r.handler.Name(), err)
	failed := NewEvent(ev, stageflow.StageFailed)
	failed.EntityIDs = ev.EntityIDs
	failed.Batch = ev.Batch
	failed.Failure = &Failure{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: errors.Retryable(err),
	}

	log.Error("stage failed",
		"code", code, "retryable", failed.Failure.Retryable, "error", err)

	if r.metrics != nil {
		r.metrics.StageFailures.WithLabelValues(r.handler.Name(), string(code)).Inc()
	}

	if pubErr := r.publish(failed); pubErr != nil {
		log.Error("failure event publish failed", "error", pubErr)
	}
}

func (r *Runner) publish(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "Runner", "publish", "encode event")
	}
	return r.bus.Publish(ev.Subject(), data)
}

// Stop unsubscribes and drains the worker pool.
func (r *Runner) Stop(timeout time.Duration) error {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("unsubscribe failed", "error", err)
		}
	}
	r.subs = nil
	return r.pool.Stop(timeout)
}
