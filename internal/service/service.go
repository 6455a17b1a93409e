// Package service runs the cash-approval workflow: request creation, the
// signature ledger, status resolution, retries and act reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/cashflow/internal/directory"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/notify"
	"github.com/punchamoorthee/cashflow/internal/store"
	"go.uber.org/zap"
)

// ArtifactStore keeps signature images.
type ArtifactStore interface {
	Save(requestID, userID int64, attempt int, data []byte) (string, error)
	Resolve(ref string) (string, error)
	Remove(ref string) error
}

type CashflowService struct {
	store     store.Store
	directory directory.Loader
	artifacts ArtifactStore
	notifier  notify.Notifier
	logger    *zap.Logger
	now       func() time.Time
	loc       *time.Location
}

type Option func(*CashflowService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *CashflowService) { s.now = now }
}

// WithLocation sets the zone act report dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *CashflowService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewCashflowService(st store.Store, dir directory.Loader, artifacts ArtifactStore, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *CashflowService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CashflowService{
		store:     st,
		directory: dir,
		artifacts: artifacts,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CashflowService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// notFound translates store misses into the workflow error.
func notFound(err error, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	return err
}

// lockOpen locks the request and loads its roster and ledger.
func lockOpen(ctx context.Context, tx store.Tx, id int64) (*domain.CashRequest, []domain.Participant, []domain.Signature, error) {
	r, err := tx.LockRequest(ctx, id)
	if err != nil {
		return nil, nil, nil, notFound(err, id)
	}
	ps, err := tx.Participants(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load participants: %w", err)
	}
	sigs, err := tx.Signatures(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load signatures: %w", err)
	}
	return r, ps, sigs, nil
}

func findParticipant(ps []domain.Participant, userID int64) *domain.Participant {
	for i := range ps {
		if ps[i].UserID == userID {
			return &ps[i]
		}
	}
	return nil
}

func signerIDs(ps []domain.Participant) []int64 {
	ids := make([]int64, 0, len(ps))
	for _, p := range ps {
		if !p.IsAdmin {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// publish sends events after commit. Delivery failures are logged only.
func (s *CashflowService) publish(ctx context.Context, events ...notify.Event) {
	for _, e := range events {
		if len(e.Recipients) == 0 {
			continue
		}
		if e.At.IsZero() {
			e.At = s.clock()
		}
		if err := s.notifier.Notify(ctx, e); err != nil {
			notificationFailures.WithLabelValues(e.Type).Inc()
			s.logger.Warn("notification failed",
				zap.String("type", e.Type),
				zap.Int64("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}
}
