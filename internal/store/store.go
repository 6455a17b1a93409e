package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/punchamoorthee/cashflow/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// RequestFilter narrows request listings. Zero values do not filter.
type RequestFilter struct {
	Account     domain.Account
	Statuses    []domain.Status
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// Page returns the clamped limit and offset.
func (f RequestFilter) Page() (limit, offset int) {
	limit, offset = f.Limit, f.Offset
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	GetRequest(ctx context.Context, id int64) (*domain.CashRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]domain.CashRequest, error)
	ListForParticipant(ctx context.Context, userID int64, f RequestFilter) ([]domain.CashRequest, error)
	Participants(ctx context.Context, requestID int64) ([]domain.Participant, error)
	Signatures(ctx context.Context, requestID int64) ([]domain.Signature, error)
	// Bundles loads matching requests with roster and ledger, unpaged.
	Bundles(ctx context.Context, f RequestFilter) ([]domain.RequestBundle, error)
}

// Tx is one unit of work. Writes become visible on commit only.
type Tx interface {
	Reader
	// LockRequest reads a request and holds it against concurrent writers until commit.
	LockRequest(ctx context.Context, id int64) (*domain.CashRequest, error)
	InsertRequest(ctx context.Context, r *domain.CashRequest) (int64, error)
	InsertParticipants(ctx context.Context, ps []domain.Participant) error
	// InsertSignature fails with ErrDuplicate when (request, user, attempt) exists.
	InsertSignature(ctx context.Context, s *domain.Signature) error
	TouchRequest(ctx context.Context, id int64, at time.Time) error
	SetStatus(ctx context.Context, id int64, status domain.Status, at time.Time) error
	SetAttempt(ctx context.Context, id int64, attempt int, at time.Time) error
	SetAdminComment(ctx context.Context, id int64, comment *string, at time.Time) error
}

// Store is the persistent home of requests, rosters and signatures.
type Store interface {
	Reader
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// OrderParticipants returns a copy of ps ordered non-admins first, then by row id.
func OrderParticipants(ps []domain.Participant) []domain.Participant {
	out := append([]domain.Participant(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsAdmin != out[j].IsAdmin {
			return !out[i].IsAdmin
		}
		return out[i].ID < out[j].ID
	})
	return out
}
