// Package memory is an in-process store with the same semantics as the Postgres one.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/store"
)

type state struct {
	lastRequestID int64
	lastRowID     int64
	requests      map[int64]domain.CashRequest
	participants  map[int64][]domain.Participant
	signatures    map[int64][]domain.Signature
}

func newState() *state {
	return &state{
		requests:     map[int64]domain.CashRequest{},
		participants: map[int64][]domain.Participant{},
		signatures:   map[int64][]domain.Signature{},
	}
}

func (s *state) clone() *state {
	c := &state{
		lastRequestID: s.lastRequestID,
		lastRowID:     s.lastRowID,
		requests:      make(map[int64]domain.CashRequest, len(s.requests)),
		participants:  make(map[int64][]domain.Participant, len(s.participants)),
		signatures:    make(map[int64][]domain.Signature, len(s.signatures)),
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = append([]domain.Participant(nil), v...)
	}
	for k, v := range s.signatures {
		c.signatures[k] = append([]domain.Signature(nil), v...)
	}
	return c
}

// Store serializes transactions behind one mutex; a failed transaction
// discards its working copy.
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id int64) (*domain.CashRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetRequest(ctx, id)
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]domain.CashRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListRequests(ctx, f)
}

func (s *Store) ListForParticipant(ctx context.Context, userID int64, f store.RequestFilter) ([]domain.CashRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListForParticipant(ctx, userID, f)
}

func (s *Store) Participants(ctx context.Context, requestID int64) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Participants(ctx, requestID)
}

func (s *Store) Signatures(ctx context.Context, requestID int64) ([]domain.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Signatures(ctx, requestID)
}

func (s *Store) Bundles(ctx context.Context, f store.RequestFilter) ([]domain.RequestBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Bundles(ctx, f)
}

func (s *state) GetRequest(_ context.Context, id int64) (*domain.CashRequest, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func matches(f store.RequestFilter, r domain.CashRequest) bool {
	if f.Account != "" && r.Account != f.Account {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if st == r.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}

func (s *state) filter(f store.RequestFilter, keep func(domain.CashRequest) bool) []domain.CashRequest {
	var out []domain.CashRequest
	for _, r := range s.requests {
		if matches(f, r) && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func page(rs []domain.CashRequest, f store.RequestFilter) []domain.CashRequest {
	limit, offset := f.Page()
	if offset >= len(rs) {
		return nil
	}
	rs = rs[offset:]
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return rs
}

func (s *state) ListRequests(_ context.Context, f store.RequestFilter) ([]domain.CashRequest, error) {
	return page(s.filter(f, func(domain.CashRequest) bool { return true }), f), nil
}

func (s *state) ListForParticipant(_ context.Context, userID int64, f store.RequestFilter) ([]domain.CashRequest, error) {
	onRoster := func(r domain.CashRequest) bool {
		for _, p := range s.participants[r.ID] {
			if p.UserID == userID {
				return true
			}
		}
		return false
	}
	return page(s.filter(f, onRoster), f), nil
}

func (s *state) Participants(_ context.Context, requestID int64) ([]domain.Participant, error) {
	return store.OrderParticipants(s.participants[requestID]), nil
}

func (s *state) Signatures(_ context.Context, requestID int64) ([]domain.Signature, error) {
	out := append([]domain.Signature(nil), s.signatures[requestID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (s *state) Bundles(ctx context.Context, f store.RequestFilter) ([]domain.RequestBundle, error) {
	reqs := s.filter(f, func(domain.CashRequest) bool { return true })
	out := make([]domain.RequestBundle, 0, len(reqs))
	for _, r := range reqs {
		ps, _ := s.Participants(ctx, r.ID)
		sigs, _ := s.Signatures(ctx, r.ID)
		out = append(out, domain.RequestBundle{Request: r, Participants: ps, Signatures: sigs})
	}
	return out, nil
}

type tx struct {
	*state
}

func (t *tx) LockRequest(ctx context.Context, id int64) (*domain.CashRequest, error) {
	return t.GetRequest(ctx, id)
}

func (t *tx) InsertRequest(_ context.Context, r *domain.CashRequest) (int64, error) {
	t.lastRequestID++
	stored := *r
	stored.ID = t.lastRequestID
	t.requests[stored.ID] = stored
	return stored.ID, nil
}

func (t *tx) InsertParticipants(_ context.Context, ps []domain.Participant) error {
	for _, p := range ps {
		if _, ok := t.requests[p.RequestID]; !ok {
			return store.ErrNotFound
		}
		for _, existing := range t.participants[p.RequestID] {
			if existing.UserID == p.UserID {
				return store.ErrDuplicate
			}
		}
		t.lastRowID++
		p.ID = t.lastRowID
		t.participants[p.RequestID] = append(t.participants[p.RequestID], p)
	}
	return nil
}

func (t *tx) InsertSignature(_ context.Context, s *domain.Signature) error {
	if _, ok := t.requests[s.RequestID]; !ok {
		return store.ErrNotFound
	}
	for _, existing := range t.signatures[s.RequestID] {
		if existing.UserID == s.UserID && existing.Attempt == s.Attempt {
			return store.ErrDuplicate
		}
	}
	t.lastRowID++
	s.ID = t.lastRowID
	t.signatures[s.RequestID] = append(t.signatures[s.RequestID], *s)
	return nil
}

func (t *tx) mutate(id int64, at time.Time, fn func(r *domain.CashRequest)) error {
	r, ok := t.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&r)
	r.UpdatedAt = at
	t.requests[id] = r
	return nil
}

func (t *tx) TouchRequest(_ context.Context, id int64, at time.Time) error {
	return t.mutate(id, at, func(*domain.CashRequest) {})
}

func (t *tx) SetStatus(_ context.Context, id int64, status domain.Status, at time.Time) error {
	return t.mutate(id, at, func(r *domain.CashRequest) { r.Status = status })
}

func (t *tx) SetAttempt(_ context.Context, id int64, attempt int, at time.Time) error {
	return t.mutate(id, at, func(r *domain.CashRequest) { r.Attempt = attempt })
}

func (t *tx) SetAdminComment(_ context.Context, id int64, comment *string, at time.Time) error {
	return t.mutate(id, at, func(r *domain.CashRequest) { r.AdminComment = comment })
}
