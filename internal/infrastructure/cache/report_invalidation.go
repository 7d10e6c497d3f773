package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultInvalidationChannel = "treasury:report:invalidate"
	defaultCloseTimeout        = 5 * time.Second
)

// ReportInvalidationMessage tells other instances to drop a tenant's local reports
type ReportInvalidationMessage struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Origin    string    `json:"origin"`
	Timestamp int64     `json:"timestamp"`
}

// ReportCacheInvalidator broadcasts tenant invalidations over Redis Pub/Sub
type ReportCacheInvalidator struct {
	client   redis.UniversalClient
	channel  string
	origin   string
	logger   *zap.Logger
	cancelFn context.CancelFunc
	doneCh   chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
	running  bool
}

// ReportCacheInvalidatorOption is a functional option for configuring the invalidator
type ReportCacheInvalidatorOption func(*ReportCacheInvalidator)

// WithInvalidatorChannel sets the Pub/Sub channel name
func WithInvalidatorChannel(channel string) ReportCacheInvalidatorOption {
	return func(i *ReportCacheInvalidator) {
		i.channel = channel
	}
}

// WithInvalidatorLogger sets the logger for the invalidator
func WithInvalidatorLogger(logger *zap.Logger) ReportCacheInvalidatorOption {
	return func(i *ReportCacheInvalidator) {
		i.logger = logger
	}
}

// NewReportCacheInvalidator creates an invalidator on a shared client.
// The caller retains ownership of the client.
func NewReportCacheInvalidator(client redis.UniversalClient, opts ...ReportCacheInvalidatorOption) *ReportCacheInvalidator {
	i := &ReportCacheInvalidator{
		client:  client,
		channel: defaultInvalidationChannel,
		origin:  uuid.NewString(),
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Publish announces that the tenant's reports are stale
func (i *ReportCacheInvalidator) Publish(ctx context.Context, tenantID uuid.UUID) error {
	data, err := json.Marshal(ReportInvalidationMessage{
		TenantID:  tenantID,
		Origin:    i.origin,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		i.logger.Error("Failed to publish report invalidation",
			zap.String("channel", i.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish invalidation message: %w", err)
	}
	return nil
}

// Subscribe invokes callback for every invalidation published by another
// instance. It blocks until ctx is cancelled or Close is called.
func (i *ReportCacheInvalidator) Subscribe(ctx context.Context, callback func(tenantID uuid.UUID)) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	i.running = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.running = false
		i.mu.Unlock()
		i.doneOnce.Do(func() { close(i.doneCh) })
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("Subscribed to report invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				i.logger.Warn("Report invalidation channel closed")
				return nil
			}

			var m ReportInvalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				i.logger.Error("Failed to unmarshal invalidation message",
					zap.String("payload", msg.Payload),
					zap.Error(err))
				continue
			}
			if m.Origin == i.origin {
				continue
			}
			callback(m.TenantID)
		}
	}
}

// Close stops the subscription
func (i *ReportCacheInvalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn == nil {
		return nil
	}
	cancelFn()
	select {
	case <-i.doneCh:
	case <-time.After(defaultCloseTimeout):
		i.logger.Warn("Timeout waiting for subscription to stop")
	}
	return nil
}
