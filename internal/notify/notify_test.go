package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisPublisher_Notify(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, "test_events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(rdb, "test_events", zap.NewNop())
	r := &domain.CashRequest{
		ID: 42, Account: domain.AccountMain, OpType: domain.OpWithdraw,
		Amount: decimal.RequireFromString("150.50"), Status: domain.StatusPendingSigners, Attempt: 1,
	}
	require.NoError(t, p.Notify(ctx, NewEvent(EventCreated, r, []int64{101, 102})))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test_events", msg.Channel)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, EventCreated, got.Type)
	assert.Equal(t, int64(42), got.RequestID)
	assert.Equal(t, []int64{101, 102}, got.Recipients)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("150.50")))
	assert.False(t, got.At.IsZero())
}

func TestRedisPublisher_SkipsEventsWithoutRecipients(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewRedisPublisher(rdb, "", zap.NewNop())
	require.NoError(t, p.Notify(context.Background(), Event{Type: EventDecision, RequestID: 1}))
	assert.Equal(t, DefaultChannel, p.channel)
}

func TestRedisPublisher_ReportsConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	p := NewRedisPublisher(rdb, "", zap.NewNop())
	err := p.Notify(context.Background(), Event{Type: EventRetry, Recipients: []int64{1}})
	assert.Error(t, err)
}
