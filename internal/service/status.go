package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/cashflow/internal/approval"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/store"
	"go.uber.org/zap"
)

// Recompute re-derives the request status from its ledger and persists it
// only when it differs. Calling it again without a ledger change is a no-op.
func (s *CashflowService) Recompute(ctx context.Context, id int64) (domain.Status, error) {
	var prev, next domain.Status
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r, ps, sigs, err := lockOpen(ctx, tx, id)
		if err != nil {
			return err
		}
		prev = r.Status
		next = approval.Resolve(r.Status, ps, approval.Ledger(sigs))
		if next == prev {
			return nil
		}
		if err := tx.SetStatus(ctx, id, next, s.clock()); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if next != prev {
		statusTransitions.WithLabelValues(string(next)).Inc()
		s.logger.Info("status recomputed",
			zap.Int64("request_id", id),
			zap.String("from", string(prev)),
			zap.String("status", string(next)),
		)
	}
	return next, nil
}
