package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gameforge/forgeq/ext"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.JobEnqueued  = (*Broker)(nil)
	_ ext.JobStarted   = (*Broker)(nil)
	_ ext.JobCompleted = (*Broker)(nil)
	_ ext.JobFailed    = (*Broker)(nil)
	_ ext.JobRetrying  = (*Broker)(nil)
	_ ext.JobCancelled = (*Broker)(nil)
	_ ext.JobDLQ       = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// hook interfaces to receive job lifecycle events and fans them out to
// subscribers via topic-based pub/sub. Handlers can additionally push
// fine-grained progress updates through PublishProgress.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithLogger sets a custom logger for the broker.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a new stream broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         slog.Default(),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// PublishProgress pushes a progress update for a running job. Handlers
// call this alongside queue progress updates so watchers see generation
// progress without polling.
func (b *Broker) PublishProgress(jobID id.JobID, userID string, progress float64) {
	b.publish(&Event{
		Type:      EventJobProgress,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(jobID.String()),
		UserID:    userID,
		Data: mustMarshal(JobEventData{
			JobID:    jobID.String(),
			UserID:   userID,
			Progress: progress,
		}),
	})
}

// publish creates an event and broadcasts it to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// jobEvent builds the common lifecycle event envelope for a job.
func jobEvent(typ EventType, j *job.Job, data JobEventData) *Event {
	data.JobID = j.ID.String()
	data.JobType = j.Type
	data.UserID = j.UserID
	data.Priority = j.Priority.String()
	return &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		UserID:    j.UserID,
		Data:      mustMarshal(data),
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publish(jobEvent(EventJobEnqueued, j, JobEventData{}))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(jobEvent(EventJobStarted, j, JobEventData{}))
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publish(jobEvent(EventJobCompleted, j, JobEventData{
		ElapsedMs: elapsed.Milliseconds(),
	}))
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publish(jobEvent(EventJobFailed, j, JobEventData{
		Error: jobErr.Error(),
	}))
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, retryJob *job.Job, nextRunAt time.Time) error {
	b.publish(jobEvent(EventJobRetrying, j, JobEventData{
		Error:     j.ErrorMessage,
		RetryID:   retryJob.ID.String(),
		NextRunAt: nextRunAt.Format(time.RFC3339),
	}))
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publish(jobEvent(EventJobCancelled, j, JobEventData{}))
	return nil
}

func (b *Broker) OnJobDLQ(_ context.Context, j *job.Job, jobErr error) error {
	b.publish(jobEvent(EventJobDLQ, j, JobEventData{
		Error: jobErr.Error(),
	}))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
