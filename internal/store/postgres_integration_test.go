//go:build integration

package store_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/cashflow/internal/artifact"
	"github.com/punchamoorthee/cashflow/internal/directory"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/service"
	"github.com/punchamoorthee/cashflow/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("cashflow"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(dsn, zap.NewNop()))
	require.NoError(t, store.Migrate(dsn, zap.NewNop()), "second run is a no-op")

	pool, err := store.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func insertRequest(t *testing.T, s *store.PostgresStore) int64 {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	var id int64
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.InsertRequest(ctx, &domain.CashRequest{
			Account: domain.AccountMain, OpType: domain.OpWithdraw, Amount: decimal.RequireFromString("100.50"),
			Status: domain.StatusPendingSigners, Attempt: 1, AdminID: 1, CreatedAt: now, UpdatedAt: now,
			SourcePayload: []byte(`{"k":"v"}`),
		})
		if err != nil {
			return err
		}
		return tx.InsertParticipants(ctx, []domain.Participant{
			{RequestID: id, UserID: 1, Name: "Admin", Role: domain.RoleAdmin, IsAdmin: true, CreatedAt: now},
			{RequestID: id, UserID: 10, Name: "Signer", Role: domain.RoleSigner, CreatedAt: now},
		})
	}))
	return id
}

func TestIntegration_PostgresStore(t *testing.T) {
	pool := setupPostgres(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := insertRequest(t, s)

	r, err := s.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "100.50", r.Amount.StringFixed(2))
	assert.JSONEq(t, `{"k":"v"}`, string(r.SourcePayload))

	ps, err := s.Participants(ctx, id)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.False(t, ps[0].IsAdmin, "non-admins first")

	sig := func() *domain.Signature {
		return &domain.Signature{RequestID: id, UserID: 10, Attempt: 1, Decision: domain.DecisionSigned, ArtifactRef: "req/x.png", DecidedAt: time.Now()}
	}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertSignature(ctx, sig()) }))
	err = s.InTx(ctx, func(tx store.Tx) error { return tx.InsertSignature(ctx, sig()) })
	assert.ErrorIs(t, err, store.ErrDuplicate)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetStatus(ctx, id, domain.StatusCancelled, time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	r, err = s.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingSigners, r.Status)

	bundles, err := s.Bundles(ctx, store.RequestFilter{Account: domain.AccountMain})
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Len(t, bundles[0].Signatures, 1)

	mine, err := s.ListForParticipant(ctx, 10, store.RequestFilter{Statuses: domain.OpenStatuses})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = s.GetRequest(ctx, id+100)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIntegration_SchemaRejectsInvalidRows(t *testing.T) {
	pool := setupPostgres(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := insertRequest(t, s)

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertSignature(ctx, &domain.Signature{RequestID: id, UserID: 10, Attempt: 1, Decision: domain.DecisionRefused, DecidedAt: time.Now()})
	})
	assert.Error(t, err, "refusal without reason")

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertParticipants(ctx, []domain.Participant{{RequestID: id, UserID: 2, Role: domain.RoleAdmin, IsAdmin: true}})
	})
	assert.Error(t, err, "second admin")
}

func TestIntegration_ConcurrentSignaturesOneWinner(t *testing.T) {
	pool := setupPostgres(t)
	arts, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := service.NewCashflowService(store.NewPostgresStore(pool), directory.Static{
		1:  {Active: true, Role: domain.RoleAdmin, Name: "Admin"},
		10: {Active: true, Role: domain.RoleSigner, Name: "Signer"},
	}, arts, nil, zap.NewNop())
	ctx := context.Background()

	v, err := svc.Create(ctx, service.CreateInput{Account: "alpha", OpType: "collect", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(4, 4, color.Black), imaging.PNG))

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		decided int
	)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Sign(ctx, v.Request.ID, 10, buf.Bytes())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrAlreadyDecided):
				decided++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, decided)

	view, err := svc.View(ctx, v.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingAdmin, view.Request.Status)
}
