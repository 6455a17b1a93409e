package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/punchamoorthee/cashflow/internal/approval"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/notify"
	"github.com/punchamoorthee/cashflow/internal/store"
	"go.uber.org/zap"
)

// Resend opens the second attempt for participants whose first-round refusal
// is still open. With no targets every such participant is retried; otherwise
// targets are narrowed to that set. The attempt counter is request-wide.
// Returns the retried ids in ascending order.
func (s *CashflowService) Resend(ctx context.Context, id, adminID int64, targets []int64, comment string) ([]int64, error) {
	var (
		req      domain.CashRequest
		selected []int64
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r, ps, sigs, err := lockOpen(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.AdminID != adminID {
			return fmt.Errorf("%w: only the admin of record may resend", domain.ErrForbidden)
		}
		if r.Status.IsTerminal() {
			return fmt.Errorf("%w: request %d is %s", domain.ErrRequestClosed, r.ID, r.Status)
		}

		ledger := approval.Ledger(sigs)
		refused := map[int64]bool{}
		for _, p := range ps {
			if ledger.For(p.UserID).State == domain.StateRefusedNeedsRetry {
				refused[p.UserID] = true
			}
		}
		if len(refused) == 0 {
			return domain.ErrNoRefusalsToRetry
		}

		selected = pickTargets(refused, targets)
		if len(selected) == 0 {
			return domain.ErrNoValidTargets
		}

		now := s.clock()
		if err := tx.SetAttempt(ctx, id, domain.FinalAttempt, now); err != nil {
			return fmt.Errorf("set attempt: %w", err)
		}
		r.Attempt, r.UpdatedAt = domain.FinalAttempt, now
		if c := strings.TrimSpace(comment); c != "" {
			if err := tx.SetAdminComment(ctx, id, &c, now); err != nil {
				return fmt.Errorf("set comment: %w", err)
			}
			r.AdminComment = &c
		}
		req = *r
		return nil
	})
	if err != nil {
		return nil, err
	}

	retriesIssued.Inc()
	s.logger.Info("retry opened",
		zap.Int64("request_id", id),
		zap.Int64s("targets", selected),
		zap.Int("attempt", req.Attempt),
	)
	e := notify.NewEvent(notify.EventRetry, &req, selected)
	e.ActorID = adminID
	if req.AdminComment != nil {
		e.Comment = *req.AdminComment
	}
	s.publish(ctx, e)
	return selected, nil
}

func pickTargets(refused map[int64]bool, targets []int64) []int64 {
	seen := map[int64]bool{}
	var out []int64
	if len(targets) == 0 {
		for id := range refused {
			out = append(out, id)
		}
	} else {
		for _, id := range targets {
			if refused[id] && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
