package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tenantsync/config"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/natsclient"
)

const statusBucket = "JOB_STATUS"

// statusTTL bounds the job-history surface; finished jobs age out.
const statusTTL = 7 * 24 * time.Hour

// Handler executes one job. Returning a retryable error (see errors.Retryable)
// causes redelivery with backoff; a non-retryable error terminates the job.
type Handler func(ctx context.Context, job *Job) error

// Queue is the durable job queue. Producers call Schedule; consumers register
// per-action handlers before Start.
type Queue struct {
	client *natsclient.Client
	cfg    config.JobQueueConfig
	logger *slog.Logger

	status   *natsclient.KVStore
	handlers map[Action]Handler

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
	started   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewQueue creates an uninitialized queue.
func NewQueue(client *natsclient.Client, cfg config.JobQueueConfig, logger *slog.Logger) *Queue {
	return &Queue{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("component", "jobqueue"),
		handlers: make(map[Action]Handler),
		done:     make(chan struct{}),
	}
}

// Initialize ensures the work-queue stream and the job-status bucket exist.
func (q *Queue) Initialize(ctx context.Context) error {
	_, err := q.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      q.cfg.StreamName,
		Subjects:  []string{"jobs.>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return errors.WrapTransient(err, "Queue", "Initialize", "ensure stream")
	}

	q.status, err = q.client.EnsureBucket(ctx, jetstream.KeyValueConfig{
		Bucket: statusBucket,
		TTL:    statusTTL,
	})
	if err != nil {
		return errors.WrapTransient(err, "Queue", "Initialize", "ensure status bucket")
	}
	return nil
}

// Register binds a handler to an action family. Must be called before Start.
func (q *Queue) Register(action Action, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[action] = h
}

// Schedule enqueues one job and returns its ID. A job with Delay > 0 is
// published after the delay elapses; the delay timer is abandoned if the
// queue stops first, which is safe because callers that need the work done
// re-schedule on their next cycle.
func (q *Queue) Schedule(ctx context.Context, job Job) (string, error) {
	if job.Action == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "Queue", "Schedule", "missing action")
	}
	if job.Priority == "" {
		job.Priority = PriorityNormal
	}
	if !job.Priority.valid() {
		return "", errors.WrapInvalid(
			fmt.Errorf("unknown priority %q", job.Priority),
			"Queue", "Schedule", "validate job")
	}
	job.ID = uuid.NewString()
	job.ScheduledAt = time.Now().UTC()

	data, err := json.Marshal(&job)
	if err != nil {
		return "", errors.WrapInvalid(err, "Queue", "Schedule", "encode job")
	}

	if err := q.putStatus(ctx, &Status{
		JobID:        job.ID,
		Action:       job.Action,
		TenantID:     job.TenantID,
		DataSourceID: job.DataSourceID,
		Value:        StatusScheduled,
		ScheduledAt:  job.ScheduledAt,
	}); err != nil {
		return "", err
	}

	subject := job.subject("jobs")
	if job.Delay > 0 {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			timer := time.NewTimer(job.Delay)
			defer timer.Stop()
			select {
			case <-q.done:
				return
			case <-timer.C:
			}
			if err := q.publish(subject, data); err != nil {
				q.logger.Error("delayed job publish failed",
					"job_id", job.ID, "action", job.Action, "error", err)
			}
		}()
		return job.ID, nil
	}

	if err := q.publish(subject, data); err != nil {
		return "", errors.WrapTransient(err, "Queue", "Schedule", "publish job")
	}
	return job.ID, nil
}

func (q *Queue) publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := q.client.JetStream().Publish(ctx, subject, data)
	return err
}

// Status returns the job-history record for one job ID.
func (q *Queue) Status(ctx context.Context, jobID string) (*Status, error) {
	entry, err := q.status.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(entry.Value, &st); err != nil {
		return nil, errors.WrapInvalid(err, "Queue", "Status", "decode status")
	}
	return &st, nil
}

// Start creates one consumer per registered action and priority. High-priority
// consumers get their own ack budget so a backlog of normal jobs cannot starve
// continuation jobs.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	for action, handler := range q.handlers {
		for _, prio := range []Priority{PriorityHigh, PriorityNormal} {
			cc, err := q.startConsumer(ctx, action, prio, handler)
			if err != nil {
				return err
			}
			q.consumers = append(q.consumers, cc)
		}
	}
	q.started = true
	q.logger.Info("job queue started", "actions", len(q.handlers))
	return nil
}

func (q *Queue) startConsumer(ctx context.Context, action Action, prio Priority, handler Handler) (jetstream.ConsumeContext, error) {
	name := fmt.Sprintf("jobs-%s-%s", action, prio)
	consumer, err := q.client.JetStream().CreateOrUpdateConsumer(ctx, q.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: fmt.Sprintf("jobs.%s.%s", action, prio),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait.Std(),
		MaxDeliver:    q.cfg.MaxDeliver,
		MaxAckPending: q.cfg.Concurrency,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Queue", "Start", "create consumer "+name)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handleMsg(msg, handler)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Queue", "Start", "consume "+name)
	}
	return cc, nil
}

func (q *Queue) handleMsg(msg jetstream.Msg, handler Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.AckWait.Std())
	defer cancel()

	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		q.logger.Error("dropping undecodable job", "error", err)
		msg.Term()
		return
	}

	attempts := 1
	if meta, err := msg.Metadata(); err == nil {
		attempts = int(meta.NumDelivered)
	}
	lastAttempt := q.cfg.MaxDeliver > 0 && attempts >= q.cfg.MaxDeliver

	started := time.Now().UTC()
	st := &Status{
		JobID:        job.ID,
		Action:       job.Action,
		TenantID:     job.TenantID,
		DataSourceID: job.DataSourceID,
		Value:        StatusRunning,
		Attempts:     attempts,
		ScheduledAt:  job.ScheduledAt,
		StartedAt:    &started,
	}
	if err := q.putStatus(ctx, st); err != nil {
		q.logger.Warn("job status write failed", "job_id", job.ID, "error", err)
	}

	err := handler(ctx, &job)
	finished := time.Now().UTC()
	st.FinishedAt = &finished

	switch {
	case err == nil:
		st.Value = StatusCompleted
		msg.Ack()
	case errors.Retryable(err) && !lastAttempt:
		st.Value = StatusFailed
		st.Error = err.Error()
		q.logger.Warn("job failed, will retry",
			"job_id", job.ID, "action", job.Action, "attempt", attempts, "error", err)
		msg.NakWithDelay(retryDelay(attempts))
	default:
		st.Value = StatusFailed
		st.Error = err.Error()
		q.logger.Error("job failed permanently",
			"job_id", job.ID, "action", job.Action, "attempt", attempts, "error", err)
		msg.Term()
	}

	if err := q.putStatus(ctx, st); err != nil {
		q.logger.Warn("job status write failed", "job_id", job.ID, "error", err)
	}
}

// retryDelay backs off 5s, 10s, 20s... capped at 2 minutes.
func retryDelay(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 2*time.Minute {
			return 2 * time.Minute
		}
	}
	return d
}

func (q *Queue) putStatus(ctx context.Context, st *Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.WrapInvalid(err, "Queue", "putStatus", "encode status")
	}
	if _, err := q.status.Put(ctx, st.JobID, data); err != nil {
		return errors.WrapTransient(err, "Queue", "putStatus", "write status")
	}
	return nil
}

// Stop drains consumers and waits for delayed publishers up to timeout.
// Safe to call more than once.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	for _, cc := range q.consumers {
		cc.Stop()
	}
	q.consumers = nil
	q.started = false
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	q.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("timed out after %s", timeout),
			"Queue", "Stop", "wait for delayed jobs")
	}
}
