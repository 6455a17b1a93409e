package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/punchamoorthee/cashflow/internal/approval"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/notify"
	"github.com/punchamoorthee/cashflow/internal/store"
	"go.uber.org/zap"
)

type decision struct {
	requestID int64
	userID    int64
	kind      domain.Decision
	reason    string
	image     []byte
	asAdmin   bool
}

// Sign records a signature on the request's current attempt.
func (s *CashflowService) Sign(ctx context.Context, requestID, userID int64, image []byte) (*domain.RequestView, error) {
	return s.decide(ctx, decision{requestID: requestID, userID: userID, kind: domain.DecisionSigned, image: image})
}

// AdminSign is Sign restricted to the admin participant.
func (s *CashflowService) AdminSign(ctx context.Context, requestID, userID int64, image []byte) (*domain.RequestView, error) {
	return s.decide(ctx, decision{requestID: requestID, userID: userID, kind: domain.DecisionSigned, image: image, asAdmin: true})
}

// Refuse records a refusal on the request's current attempt.
func (s *CashflowService) Refuse(ctx context.Context, requestID, userID int64, reason string) (*domain.RequestView, error) {
	return s.decide(ctx, decision{requestID: requestID, userID: userID, kind: domain.DecisionRefused, reason: reason})
}

func (s *CashflowService) decide(ctx context.Context, d decision) (*domain.RequestView, error) {
	var (
		req    domain.CashRequest
		prev   domain.Status
		actor  domain.Participant
		sig    domain.Signature
		stored string
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r, ps, sigs, err := lockOpen(ctx, tx, d.requestID)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() {
			return fmt.Errorf("%w: request %d is %s", domain.ErrRequestClosed, r.ID, r.Status)
		}
		p := findParticipant(ps, d.userID)
		if p == nil {
			return fmt.Errorf("%w: user %d on request %d", domain.ErrNotParticipant, d.userID, r.ID)
		}
		if d.asAdmin && !p.IsAdmin {
			return fmt.Errorf("%w: user %d is not the admin participant", domain.ErrForbidden, d.userID)
		}
		if d.kind == domain.DecisionRefused && p.IsAdmin {
			return domain.ErrAdminCannotRefuse
		}
		ledger := approval.Ledger(sigs)
		if ledger.Decided(d.userID, r.Attempt) {
			return fmt.Errorf("%w: user %d attempt %d", domain.ErrAlreadyDecided, d.userID, r.Attempt)
		}

		now := s.clock()
		sig = domain.Signature{
			RequestID: r.ID,
			UserID:    d.userID,
			Attempt:   r.Attempt,
			Decision:  d.kind,
			DecidedAt: now,
		}
		switch d.kind {
		case domain.DecisionRefused:
			reason := strings.TrimSpace(d.reason)
			if reason == "" {
				return domain.ErrReasonRequired
			}
			sig.RefuseReason = reason
		case domain.DecisionSigned:
			if len(d.image) == 0 {
				return fmt.Errorf("%w: signature image is required", domain.ErrInvalidArtifact)
			}
			ref, err := s.artifacts.Save(r.ID, d.userID, r.Attempt, d.image)
			if err != nil {
				return err
			}
			stored, sig.ArtifactRef = ref, ref
		}

		if err := tx.InsertSignature(ctx, &sig); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: user %d attempt %d", domain.ErrAlreadyDecided, d.userID, r.Attempt)
			}
			return fmt.Errorf("insert signature: %w", err)
		}
		if err := tx.TouchRequest(ctx, r.ID, now); err != nil {
			return fmt.Errorf("touch request: %w", err)
		}
		prev = r.Status
		next := approval.Resolve(r.Status, ps, append(ledger, sig))
		if next != r.Status {
			if err := tx.SetStatus(ctx, r.ID, next, now); err != nil {
				return fmt.Errorf("set status: %w", err)
			}
		}
		r.Status, r.UpdatedAt = next, now
		req, actor = *r, *p
		return nil
	})
	if err != nil {
		if stored != "" {
			if rmErr := s.artifacts.Remove(stored); rmErr != nil {
				s.logger.Warn("orphaned signature artifact", zap.String("ref", stored), zap.Error(rmErr))
			}
		}
		decisionsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	decisionsRecorded.WithLabelValues(string(sig.Decision), strconv.Itoa(sig.Attempt)).Inc()
	s.logger.Info("decision recorded",
		zap.Int64("request_id", req.ID),
		zap.Int64("user_id", d.userID),
		zap.Int("attempt", sig.Attempt),
		zap.String("decision", string(sig.Decision)),
		zap.String("status", string(req.Status)),
	)
	if req.Status != prev {
		statusTransitions.WithLabelValues(string(req.Status)).Inc()
	}

	var events []notify.Event
	if !actor.IsAdmin {
		e := notify.NewEvent(notify.EventDecision, &req, []int64{req.AdminID})
		e.ActorID, e.Decision, e.Reason = actor.UserID, sig.Decision, sig.RefuseReason
		events = append(events, e)
	}
	if req.Status == domain.StatusFinal && prev != domain.StatusFinal && req.InitiatorID != nil {
		events = append(events, notify.NewEvent(notify.EventFinalized, &req, []int64{*req.InitiatorID}))
	}
	s.publish(ctx, events...)

	return s.View(ctx, req.ID)
}

func rejectReason(err error) string {
	for _, c := range []struct {
		err  error
		name string
	}{
		{domain.ErrNotFound, "not_found"},
		{domain.ErrRequestClosed, "closed"},
		{domain.ErrNotParticipant, "not_participant"},
		{domain.ErrForbidden, "forbidden"},
		{domain.ErrAdminCannotRefuse, "admin_refuse"},
		{domain.ErrAlreadyDecided, "already_decided"},
		{domain.ErrReasonRequired, "reason_required"},
		{domain.ErrInvalidArtifact, "invalid_artifact"},
	} {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "internal"
}
