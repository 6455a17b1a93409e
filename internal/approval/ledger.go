// Package approval holds the pure approval rules: roster selection, the
// effective decision of a participant and the request status they imply.
package approval

import "github.com/punchamoorthee/cashflow/internal/domain"

// Outcome is a participant's effective decision.
type Outcome struct {
	State    domain.EffectiveState
	Attempt1 *domain.Signature
	Attempt2 *domain.Signature
}

// Authoritative is the row that decides the outcome: attempt 2 when present, else attempt 1.
func (o Outcome) Authoritative() *domain.Signature {
	if o.Attempt2 != nil {
		return o.Attempt2
	}
	return o.Attempt1
}

// Reason is the refusal reason of the authoritative row, if any.
func (o Outcome) Reason() string {
	if s := o.Authoritative(); s != nil && s.Decision == domain.DecisionRefused {
		return s.RefuseReason
	}
	return ""
}

// Ledger is the set of signature rows of one request.
type Ledger []domain.Signature

// Find returns the row for (userID, attempt).
func (l Ledger) Find(userID int64, attempt int) *domain.Signature {
	for i := range l {
		if l[i].UserID == userID && l[i].Attempt == attempt {
			return &l[i]
		}
	}
	return nil
}

// Decided reports whether userID already has a row on attempt.
func (l Ledger) Decided(userID int64, attempt int) bool {
	return l.Find(userID, attempt) != nil
}

// For folds userID's rows into its effective decision.
func (l Ledger) For(userID int64) Outcome {
	o := Outcome{
		Attempt1: l.Find(userID, domain.FirstAttempt),
		Attempt2: l.Find(userID, domain.FinalAttempt),
	}
	switch {
	case o.Attempt2 != nil:
		if o.Attempt2.Decision == domain.DecisionSigned {
			o.State = domain.StateSigned
		} else {
			o.State = domain.StateRefusedFinal
		}
	case o.Attempt1 != nil:
		if o.Attempt1.Decision == domain.DecisionSigned {
			o.State = domain.StateSigned
		} else {
			o.State = domain.StateRefusedNeedsRetry
		}
	default:
		o.State = domain.StatePending
	}
	return o
}

// View projects a request bundle into its read model.
func View(b domain.RequestBundle) domain.RequestView {
	ledger := Ledger(b.Signatures)
	view := domain.RequestView{
		Request:      b.Request,
		Participants: make([]domain.ParticipantView, 0, len(b.Participants)),
	}
	for _, p := range OrderRoster(b.Participants) {
		o := ledger.For(p.UserID)
		view.Participants = append(view.Participants, domain.ParticipantView{
			UserID:   p.UserID,
			Name:     p.Name,
			Role:     p.Role,
			IsAdmin:  p.IsAdmin,
			State:    o.State,
			Detail:   o.Reason(),
			Attempt1: o.Attempt1,
			Attempt2: o.Attempt2,
		})
	}
	return view
}

// OrderRoster returns participants with non-admins first, keeping insertion order.
func OrderRoster(ps []domain.Participant) []domain.Participant {
	out := make([]domain.Participant, 0, len(ps))
	var admins []domain.Participant
	for _, p := range ps {
		if p.IsAdmin {
			admins = append(admins, p)
			continue
		}
		out = append(out, p)
	}
	return append(out, admins...)
}
