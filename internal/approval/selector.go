package approval

import (
	"sort"
	"strconv"

	"github.com/punchamoorthee/cashflow/internal/directory"
	"github.com/punchamoorthee/cashflow/internal/domain"
)

// Roster is the fixed set of approvers of a new request.
type Roster struct {
	AdminID      int64
	SignerIDs    []int64
	Participants []domain.Participant
}

// Select computes the roster for account/opType from a directory snapshot.
//
// Every active cash signer is selected regardless of account or operation,
// so that an active signer can never be locked out of a request. The admin of
// record is the lowest active admin id.
func Select(account domain.Account, opType domain.OpType, dir directory.Directory) (Roster, error) {
	if _, err := domain.ParseAccount(string(account)); err != nil {
		return Roster{}, err
	}
	if _, err := domain.ParseOpType(string(opType)); err != nil {
		return Roster{}, err
	}

	var admins, signers []int64
	for id, e := range dir {
		if !e.Active {
			continue
		}
		switch e.Role {
		case domain.RoleAdmin:
			admins = append(admins, id)
		case domain.RoleSigner:
			signers = append(signers, id)
		}
	}
	if len(admins) == 0 {
		return Roster{}, domain.ErrNoAdminAvailable
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i] < admins[j] })
	sort.Slice(signers, func(i, j int) bool { return signers[i] < signers[j] })

	r := Roster{AdminID: admins[0], SignerIDs: signers}
	seen := make(map[int64]bool, len(signers)+1)
	for _, id := range append(append([]int64{}, signers...), r.AdminID) {
		if seen[id] {
			continue
		}
		seen[id] = true
		e := dir[id]
		name := e.Name
		if name == "" {
			name = strconv.FormatInt(id, 10)
		}
		r.Participants = append(r.Participants, domain.Participant{
			UserID:  id,
			Name:    name,
			Role:    e.Role,
			IsAdmin: id == r.AdminID,
		})
	}
	return r, nil
}
