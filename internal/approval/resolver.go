package approval

import "github.com/punchamoorthee/cashflow/internal/domain"

// Resolve derives the status implied by the roster and ledger.
//
// A non-admin is resolved once signed or finally refused; a first-round
// refusal keeps the request open. The admin gates FINAL: it is reached only
// when every non-admin is resolved and the admin has signed, in any order.
// Terminal statuses are returned unchanged and the result never ranks below
// the current status.
func Resolve(current domain.Status, participants []domain.Participant, ledger Ledger) domain.Status {
	if current.IsTerminal() {
		return current
	}

	allResolved, adminSigned := true, false
	for _, p := range participants {
		state := ledger.For(p.UserID).State
		if p.IsAdmin {
			adminSigned = state == domain.StateSigned
			continue
		}
		if state != domain.StateSigned && state != domain.StateRefusedFinal {
			allResolved = false
		}
	}

	next := domain.StatusPendingSigners
	switch {
	case allResolved && adminSigned:
		next = domain.StatusFinal
	case allResolved:
		next = domain.StatusPendingAdmin
	}
	if next.Rank() < current.Rank() {
		return current
	}
	return next
}
