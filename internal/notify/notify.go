// Package notify delivers approval events to interested participants.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultChannel = "cashflow_events"

// Event types.
const (
	EventCreated   = "request.created"
	EventDecision  = "request.decision"
	EventFinalized = "request.finalized"
	EventRetry     = "request.retry"
)

// Event is the payload published for every notification.
type Event struct {
	Type       string          `json:"event_type"`
	RequestID  int64           `json:"request_id"`
	Account    domain.Account  `json:"account"`
	OpType     domain.OpType   `json:"op_type"`
	Amount     decimal.Decimal `json:"amount"`
	Status     domain.Status   `json:"status"`
	Attempt    int             `json:"attempt"`
	Recipients []int64         `json:"recipients"`
	ActorID    int64           `json:"actor_id,omitempty"`
	Decision   domain.Decision `json:"decision,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Comment    string          `json:"comment,omitempty"`
	At         time.Time       `json:"at"`
}

// NewEvent fills the request fields of an event.
func NewEvent(typ string, r *domain.CashRequest, recipients []int64) Event {
	return Event{
		Type:       typ,
		RequestID:  r.ID,
		Account:    r.Account,
		OpType:     r.OpType,
		Amount:     r.Amount,
		Status:     r.Status,
		Attempt:    r.Attempt,
		Recipients: recipients,
	}
}

// Notifier delivers an event. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// RedisPublisher publishes events as JSON on a Redis channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel, logger: logger}
}

func (p *RedisPublisher) Notify(ctx context.Context, e Event) error {
	if len(e.Recipients) == 0 {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	p.logger.Debug("event published",
		zap.String("type", e.Type),
		zap.Int64("request_id", e.RequestID),
		zap.Int64s("recipients", e.Recipients),
	)
	return nil
}
