// Package pubsub implements the task queue on Google Cloud Pub/Sub. Work
// items are published as JSON and consumed through a streaming pull
// subscription; Ack and Nack map directly onto message acknowledgement.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/target-scraper/internal/queue"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Config identifies the topic and subscription backing the queue.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// MaxOutstanding bounds messages held by the client before they are settled.
	MaxOutstanding int
}

// Queue publishes and receives work items over Pub/Sub.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger
	owned  bool

	deliveries chan scraper.Delivery
	startOnce  sync.Once
	closeOnce  sync.Once
	cancel     context.CancelFunc
	recvCtx    context.Context
	recvDone   chan struct{}
	recvErr    error
}

var _ scraper.Queue = (*Queue)(nil)

// New creates a Pub/Sub client and verifies the topic and subscription exist.
// It authenticates using Application Default Credentials unless opts override.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub project, topic and subscription are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	q, err := newQueue(ctx, client, cfg, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after setup failure", zap.Error(closeErr))
		}
		return nil, err
	}
	q.owned = true
	return q, nil
}

// NewWithClient builds a queue on an existing client. The caller keeps
// ownership of the client.
func NewWithClient(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return newQueue(ctx, client, cfg, logger)
}

func newQueue(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}
	sub := client.Subscription(cfg.SubscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub subscription %q: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.SubscriptionID, cfg.ProjectID)
	}
	maxOutstanding := cfg.MaxOutstanding
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding

	recvCtx, cancel := context.WithCancel(context.Background())
	return &Queue{
		client:     client,
		topic:      topic,
		sub:        sub,
		logger:     logger.Named("pubsub_queue"),
		deliveries: make(chan scraper.Delivery),
		cancel:     cancel,
		recvCtx:    recvCtx,
		recvDone:   make(chan struct{}),
	}, nil
}

// Enqueue publishes the item and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, item scraper.WorkItem) error {
	if q.recvCtx.Err() != nil {
		return queue.ErrClosed
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":      strconv.FormatInt(item.JobID, 10),
			"delivery_id": item.DeliveryID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish work item %d: %w", item.JobID, err)
	}
	return nil
}

// Dequeue returns the next received item. The streaming pull starts on the
// first call and runs until Close.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Delivery, error) {
	q.startOnce.Do(q.startReceiving)
	select {
	case <-ctx.Done():
		return scraper.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		return d, nil
	case <-q.recvDone:
		if q.recvErr != nil {
			return scraper.Delivery{}, fmt.Errorf("pubsub receive: %w", q.recvErr)
		}
		return scraper.Delivery{}, queue.ErrClosed
	}
}

func (q *Queue) startReceiving() {
	go func() {
		defer close(q.recvDone)
		err := q.sub.Receive(q.recvCtx, q.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.recvErr = err
		}
	}()
}

func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	var item scraper.WorkItem
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		// Redelivering a malformed payload would loop forever.
		q.logger.Warn("dropping undecodable work item", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	d := scraper.NewDelivery(item, msg.Ack, msg.Nack)
	select {
	case q.deliveries <- d:
	case <-ctx.Done():
		msg.Nack()
	}
}

// Close stops receiving, flushes pending publishes and releases the client
// when the queue created it.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.cancel()
		q.startOnce.Do(func() { close(q.recvDone) })
		<-q.recvDone
		q.topic.Stop()
		if q.owned {
			if closeErr := q.client.Close(); closeErr != nil {
				err = fmt.Errorf("close pubsub client: %w", closeErr)
			}
		}
	})
	return err
}
