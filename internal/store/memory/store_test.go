package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRequest(t *testing.T, s *Store, account domain.Account, at time.Time) int64 {
	t.Helper()
	var id int64
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		id, err = tx.InsertRequest(context.Background(), &domain.CashRequest{
			Account: account, OpType: domain.OpWithdraw, Amount: decimal.NewFromInt(10),
			Status: domain.StatusPendingSigners, Attempt: 1, AdminID: 9, CreatedAt: at, UpdatedAt: at,
		})
		if err != nil {
			return err
		}
		return tx.InsertParticipants(context.Background(), []domain.Participant{
			{RequestID: id, UserID: 9, IsAdmin: true},
			{RequestID: id, UserID: 1},
		})
	})
	require.NoError(t, err)
	return id
}

func TestStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seedRequest(t, s, domain.AccountMain, time.Now())

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.SetStatus(ctx, id, domain.StatusCancelled, time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	r, err := s.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSigners, r.Status)
}

func TestStore_DuplicateSignature(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seedRequest(t, s, domain.AccountMain, time.Now())

	sig := func() *domain.Signature {
		return &domain.Signature{RequestID: id, UserID: 1, Attempt: 1, Decision: domain.DecisionSigned, ArtifactRef: "a"}
	}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertSignature(ctx, sig()) }))
	err := s.InTx(ctx, func(tx store.Tx) error { return tx.InsertSignature(ctx, sig()) })
	assert.ErrorIs(t, err, store.ErrDuplicate)

	sigs, err := s.Signatures(ctx, id)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestStore_Listing(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := seedRequest(t, s, domain.AccountMain, base)
	second := seedRequest(t, s, domain.AccountAlpha, base.Add(24*time.Hour))
	third := seedRequest(t, s, domain.AccountMain, base.Add(48*time.Hour))

	all, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{third, second, first}, []int64{all[0].ID, all[1].ID, all[2].ID})

	mainOnly, err := s.ListRequests(ctx, store.RequestFilter{Account: domain.AccountMain, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, mainOnly, 1)
	assert.Equal(t, first, mainOnly[0].ID)

	to := base.Add(36 * time.Hour)
	bundles, err := s.Bundles(ctx, store.RequestFilter{CreatedTo: &to})
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	assert.Equal(t, second, bundles[0].Request.ID)
	require.Len(t, bundles[0].Participants, 2)
	assert.False(t, bundles[0].Participants[0].IsAdmin)

	mine, err := s.ListForParticipant(ctx, 1, store.RequestFilter{Statuses: domain.OpenStatuses})
	require.NoError(t, err)
	assert.Len(t, mine, 3)
	none, err := s.ListForParticipant(ctx, 77, store.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
