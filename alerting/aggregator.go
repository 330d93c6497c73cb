package alerting

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/tenantsync/config"
	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/metric"
	"github.com/c360/tenantsync/store"
)

// TagsMessage is one producer's latest tag contribution for a key, debounced
// separately from findings.
type TagsMessage struct {
	TenantID     string              `json:"tenant_id"`
	DataSourceID string              `json:"data_source_id"`
	Producer     string              `json:"producer"`
	Tags         map[string][]string `json:"tags"` // entityID → tags
}

// Subject returns the bus subject tag contributions are published on.
func (m *TagsMessage) Subject() string {
	return "tag." + subjectToken(m.TenantID) + "." + subjectToken(m.DataSourceID)
}

// Subscriber is the bus surface the aggregator consumes on.
type Subscriber interface {
	Subscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// keyEntry is the per-(tenant, dataSource) aggregation state. All access goes
// through the aggregator's mutex: producers write their own slot, the timer
// callback reads and clears the whole entry. The timer is reset on every
// message, so reconciliation runs once per quiescent period.
type keyEntry struct {
	tenantID     string
	dataSourceID string
	findings     map[string][]entity.Finding // producer → latest contribution
	tags         map[string]map[string][]string
	timer        *time.Timer
}

// Aggregator coalesces findings from many producers and reconciles them into
// persisted alerts and derived entity health states once a key goes quiet.
type Aggregator struct {
	store   store.Store
	metrics *metric.Metrics
	logger  *slog.Logger

	alertWindow time.Duration
	tagWindow   time.Duration

	mu      sync.Mutex
	cache   map[string]*keyEntry
	stopped bool

	subs []*nats.Subscription
	wg   sync.WaitGroup
}

// NewAggregator builds the aggregator with the configured debounce windows.
func NewAggregator(s store.Store, cfg config.AggregatorConfig, metrics *metric.Metrics, logger *slog.Logger) *Aggregator {
	alertWindow := cfg.AlertWindow.Std()
	if alertWindow <= 0 {
		alertWindow = 30 * time.Second
	}
	tagWindow := cfg.TagWindow.Std()
	if tagWindow <= 0 {
		tagWindow = 30 * time.Second
	}
	return &Aggregator{
		store:       s,
		metrics:     metrics,
		logger:      logger.With("component", "alerting"),
		alertWindow: alertWindow,
		tagWindow:   tagWindow,
		cache:       make(map[string]*keyEntry),
	}
}

// Start subscribes to the findings and tag subjects.
func (a *Aggregator) Start(_ context.Context, bus Subscriber) error {
	findingsSub, err := bus.Subscribe("analysis.findings.>", "alerting", a.onFindingsMsg)
	if err != nil {
		return err
	}
	tagsSub, err := bus.Subscribe("tag.>", "alerting", a.onTagsMsg)
	if err != nil {
		return err
	}
	a.subs = append(a.subs, findingsSub, tagsSub)
	a.logger.Info("aggregator started",
		"alert_window", a.alertWindow, "tag_window", a.tagWindow)
	return nil
}

func (a *Aggregator) onFindingsMsg(msg *nats.Msg) {
	var fm FindingsMessage
	if err := json.Unmarshal(msg.Data, &fm); err != nil {
		a.logger.Error("dropping undecodable findings message", "error", err)
		return
	}
	a.SubmitFindings(&fm)
}

func (a *Aggregator) onTagsMsg(msg *nats.Msg) {
	var tm TagsMessage
	if err := json.Unmarshal(msg.Data, &tm); err != nil {
		a.logger.Error("dropping undecodable tags message", "error", err)
		return
	}
	a.SubmitTags(&tm)
}

func cacheKey(tenantID, dataSourceID string) string {
	return tenantID + "|" + dataSourceID
}

// SubmitFindings records one producer's latest findings for a key and resets
// the key's debounce timer.
func (a *Aggregator) SubmitFindings(msg *FindingsMessage) {
	a.submit(msg.TenantID, msg.DataSourceID, a.alertWindow, func(entry *keyEntry) {
		entry.findings[msg.Producer] = msg.Findings
	})
}

// SubmitTags records one producer's latest tag contribution for a key.
func (a *Aggregator) SubmitTags(msg *TagsMessage) {
	a.submit(msg.TenantID, msg.DataSourceID, a.tagWindow, func(entry *keyEntry) {
		entry.tags[msg.Producer] = msg.Tags
	})
}

func (a *Aggregator) submit(tenantID, dataSourceID string, window time.Duration, apply func(*keyEntry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	key := cacheKey(tenantID, dataSourceID)
	entry, ok := a.cache[key]
	if !ok {
		entry = &keyEntry{
			tenantID:     tenantID,
			dataSourceID: dataSourceID,
			findings:     make(map[string][]entity.Finding),
			tags:         make(map[string]map[string][]string),
		}
		a.cache[key] = entry
	}
	apply(entry)

	// Every message resets the single timer for the key; reconciliation runs
	// only after a full quiet window.
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(window, func() { a.flush(key) })
}

// flush removes the key's cache entry and reconciles it. The entry is cleared
// unconditionally before reconciliation so a failed pass cannot grow the
// cache; the next inbound finding for the key retries naturally.
func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	entry, ok := a.cache[key]
	delete(a.cache, key)
	if ok {
		a.wg.Add(1)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := a.reconcile(ctx, entry); err != nil {
		if a.metrics != nil {
			a.metrics.ReconcilePasses.WithLabelValues("error").Inc()
		}
		a.logger.Error("reconciliation failed",
			"tenant_id", entry.tenantID,
			"data_source_id", entry.dataSourceID,
			"error", err)
		return
	}
	if a.metrics != nil {
		a.metrics.ReconcilePasses.WithLabelValues("ok").Inc()
	}
}

// Flush synchronously reconciles one key's pending contributions. Tests and
// shutdown paths use it to avoid waiting for timers.
func (a *Aggregator) Flush(tenantID, dataSourceID string) {
	key := cacheKey(tenantID, dataSourceID)
	a.mu.Lock()
	if entry, ok := a.cache[key]; ok && entry.timer != nil {
		entry.timer.Stop()
	}
	a.mu.Unlock()
	a.flush(key)
}

// Stop unsubscribes, cancels pending windows and waits for in-flight
// reconciliation. Pending contributions are dropped; the next analysis pass
// regenerates them.
func (a *Aggregator) Stop(timeout time.Duration) error {
	for _, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn("unsubscribe failed", "error", err)
		}
	}
	a.subs = nil

	a.mu.Lock()
	a.stopped = true
	for key, entry := range a.cache {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(a.cache, key)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
