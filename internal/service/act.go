package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/cashflow/internal/approval"
	"github.com/punchamoorthee/cashflow/internal/artifact"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/store"
)

// ActFilter selects act rows. From and To are calendar days, inclusive,
// interpreted in the service location.
type ActFilter struct {
	Account domain.Account
	From    *time.Time
	To      *time.Time
}

// ActRows projects reportable requests into one row per participant,
// newest request first, non-admins before the admin.
func (s *CashflowService) ActRows(ctx context.Context, f ActFilter) ([]domain.ActRow, error) {
	rf := store.RequestFilter{Account: f.Account, Statuses: domain.ReportableStatuses}
	if f.From != nil {
		from := s.startOfDay(*f.From)
		rf.CreatedFrom = &from
	}
	if f.To != nil {
		to := s.startOfDay(*f.To).AddDate(0, 0, 1).Add(-time.Microsecond)
		rf.CreatedTo = &to
	}
	bundles, err := s.store.Bundles(ctx, rf)
	if err != nil {
		return nil, fmt.Errorf("load act bundles: %w", err)
	}

	var rows []domain.ActRow
	for _, b := range bundles {
		ledger := approval.Ledger(b.Signatures)
		for _, p := range approval.OrderRoster(b.Participants) {
			rows = append(rows, s.actRow(b.Request, p, ledger.For(p.UserID)))
		}
	}
	return rows, nil
}

func (s *CashflowService) actRow(r domain.CashRequest, p domain.Participant, o approval.Outcome) domain.ActRow {
	row := domain.ActRow{
		RequestID: r.ID,
		Account:   r.Account,
		OpType:    r.OpType,
		Date:      r.CreatedAt.In(s.loc),
		Amount:    r.Amount,
		Name:      p.Name,
		Role:      p.Role,
		IsAdmin:   p.IsAdmin,
		State:     o.State,
		Mark:      domain.ActAwaiting,
	}
	switch o.State {
	case domain.StateRefusedFinal:
		row.Mark, row.Reason = domain.ActRefused, o.Reason()
	case domain.StateSigned:
		row.Mark, row.ArtifactRef = domain.ActSigned, o.Authoritative().ArtifactRef
	}
	return row
}

func (s *CashflowService) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// SignatureArtifact returns the file of the participant's authoritative signature.
func (s *CashflowService) SignatureArtifact(ctx context.Context, requestID, userID int64) (string, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return "", err
	}
	ps, err := s.store.Participants(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("load participants: %w", err)
	}
	if findParticipant(ps, userID) == nil {
		return "", fmt.Errorf("%w: user %d is not on request %d", domain.ErrNotFound, userID, requestID)
	}
	sigs, err := s.store.Signatures(ctx, requestID)
	if err != nil {
		return "", fmt.Errorf("load signatures: %w", err)
	}
	o := approval.Ledger(sigs).For(userID)
	if o.State != domain.StateSigned {
		return "", fmt.Errorf("%w: no signature for user %d", domain.ErrNotFound, userID)
	}
	path, err := s.artifacts.Resolve(o.Authoritative().ArtifactRef)
	if err != nil {
		if errors.Is(err, artifact.ErrOutsideRoot) {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidArtifact, err)
		}
		return "", err
	}
	return path, nil
}
