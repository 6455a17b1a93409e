package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/cashflow/internal/approval"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/notify"
	"github.com/punchamoorthee/cashflow/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxAmount is the first value that no longer fits NUMERIC(18,2).
var maxAmount = decimal.New(1, 16)

type CreateInput struct {
	Account     string
	OpType      string
	Amount      decimal.Decimal
	InitiatorID *int64
	Source      *domain.Source
}

// Create validates the input, fixes the roster from a fresh directory
// snapshot and persists request and roster together.
func (s *CashflowService) Create(ctx context.Context, in CreateInput) (*domain.RequestView, error) {
	account, err := domain.ParseAccount(in.Account)
	if err != nil {
		return nil, err
	}
	opType, err := domain.ParseOpType(in.OpType)
	if err != nil {
		return nil, err
	}
	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return nil, fmt.Errorf("%w: amount too large", domain.ErrInvalidArgument)
	}

	dir, err := s.directory.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	roster, err := approval.Select(account, opType, dir)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	req := domain.CashRequest{
		Account:     account,
		OpType:      opType,
		Amount:      amount,
		Status:      domain.StatusPendingSigners,
		Attempt:     domain.FirstAttempt,
		AdminID:     roster.AdminID,
		InitiatorID: in.InitiatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Source != nil {
		if kind := strings.TrimSpace(in.Source.Kind); kind != "" {
			req.SourceKind = &kind
		}
		req.SourceID = in.Source.ID
		req.SourcePayload = in.Source.Payload
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		id, err := tx.InsertRequest(ctx, &req)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		req.ID = id
		ps := make([]domain.Participant, len(roster.Participants))
		for i, p := range roster.Participants {
			p.RequestID = id
			p.CreatedAt = now
			ps[i] = p
		}
		if err := tx.InsertParticipants(ctx, ps); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		// A roster without signers goes straight to the admin.
		if next := approval.Resolve(req.Status, ps, nil); next != req.Status {
			if err := tx.SetStatus(ctx, id, next, now); err != nil {
				return fmt.Errorf("set status: %w", err)
			}
			req.Status = next
		}
		return nil
	})
	if err != nil {
		s.logger.Error("create request failed", zap.String("account", string(account)), zap.Error(err))
		return nil, err
	}

	requestsCreated.WithLabelValues(string(account), string(opType)).Inc()
	s.logger.Info("cash request created",
		zap.Int64("request_id", req.ID),
		zap.String("account", string(account)),
		zap.String("op_type", string(opType)),
		zap.String("amount", amount.StringFixed(2)),
		zap.Int64("admin_id", roster.AdminID),
		zap.Int("signers", len(roster.SignerIDs)),
	)

	recipients := roster.SignerIDs
	if req.Status == domain.StatusPendingAdmin {
		recipients = []int64{req.AdminID}
	}
	s.publish(ctx, notify.NewEvent(notify.EventCreated, &req, recipients))

	return s.View(ctx, req.ID)
}

func (s *CashflowService) Get(ctx context.Context, id int64) (*domain.CashRequest, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return r, nil
}

// View returns the request with every participant's effective state.
func (s *CashflowService) View(ctx context.Context, id int64) (*domain.RequestView, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ps, err := s.store.Participants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	sigs, err := s.store.Signatures(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load signatures: %w", err)
	}
	v := approval.View(domain.RequestBundle{Request: *r, Participants: ps, Signatures: sigs})
	return &v, nil
}

func (s *CashflowService) List(ctx context.Context, f store.RequestFilter) ([]domain.CashRequest, error) {
	rs, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return rs, nil
}

// ListForParticipant lists requests whose roster contains userID.
func (s *CashflowService) ListForParticipant(ctx context.Context, userID int64, f store.RequestFilter) ([]domain.CashRequest, error) {
	rs, err := s.store.ListForParticipant(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list requests for %d: %w", userID, err)
	}
	return rs, nil
}

// IsParticipant reports whether userID is on the request's roster.
func (s *CashflowService) IsParticipant(ctx context.Context, requestID, userID int64) (bool, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return false, err
	}
	ps, err := s.store.Participants(ctx, requestID)
	if err != nil {
		return false, fmt.Errorf("load participants: %w", err)
	}
	return findParticipant(ps, userID) != nil, nil
}

// Cancel closes an open request. Only the admin of record may cancel; a
// closed request is returned unchanged.
func (s *CashflowService) Cancel(ctx context.Context, id, adminID int64, comment string) (*domain.CashRequest, error) {
	var out domain.CashRequest
	changed := false
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		r, err := tx.LockRequest(ctx, id)
		if err != nil {
			return notFound(err, id)
		}
		if r.AdminID != adminID {
			return fmt.Errorf("%w: only the admin of record may cancel", domain.ErrForbidden)
		}
		if r.Status.IsTerminal() {
			out = *r
			return nil
		}
		now := s.clock()
		if err := tx.SetStatus(ctx, id, domain.StatusCancelled, now); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		r.Status, r.UpdatedAt = domain.StatusCancelled, now
		if c := strings.TrimSpace(comment); c != "" {
			if err := tx.SetAdminComment(ctx, id, &c, now); err != nil {
				return fmt.Errorf("set comment: %w", err)
			}
			r.AdminComment = &c
		}
		out, changed = *r, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		statusTransitions.WithLabelValues(string(domain.StatusCancelled)).Inc()
		s.logger.Info("cash request cancelled", zap.Int64("request_id", id), zap.Int64("admin_id", adminID))
	}
	return &out, nil
}
