package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/cashflow/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	queries
	Db *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: queries{db: pool}, Db: pool}
}

// Connect parses connString, opens a pool and pings it.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// InTx runs fn under READ COMMITTED; LockRequest serializes writers per request.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{queries{db: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	queries
}

var requestFields = []string{
	"id", "account", "op_type", "amount", "status", "attempt", "admin_id", "initiator_id",
	"admin_comment", "source_kind", "source_id", "source_payload", "created_at", "updated_at",
}

var requestColumns = columns("", requestFields)

const participantColumns = `id, request_id, user_id, name_snapshot, role_snapshot, is_admin, created_at`

const signatureColumns = `id, request_id, user_id, attempt, decision, refuse_reason, artifact_ref, decided_at`

func columns(alias string, fields []string) string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = alias + f
	}
	return strings.Join(out, ", ")
}

type queries struct {
	db dbtx
}

func scanRequest(row pgx.Row) (*domain.CashRequest, error) {
	var (
		r                       domain.CashRequest
		account, opType, status string
		payload                 []byte
	)
	err := row.Scan(&r.ID, &account, &opType, &r.Amount, &status, &r.Attempt, &r.AdminID, &r.InitiatorID,
		&r.AdminComment, &r.SourceKind, &r.SourceID, &payload, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Account = domain.Account(account)
	r.OpType = domain.OpType(opType)
	r.Status = domain.Status(status)
	if len(payload) > 0 {
		r.SourcePayload = payload
	}
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]domain.CashRequest, error) {
	defer rows.Close()
	var out []domain.CashRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (q queries) GetRequest(ctx context.Context, id int64) (*domain.CashRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, "SELECT "+requestColumns+" FROM cash_requests WHERE id = $1", id))
}

func (q queries) LockRequest(ctx context.Context, id int64) (*domain.CashRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, "SELECT "+requestColumns+" FROM cash_requests WHERE id = $1 FOR UPDATE", id))
}

// filterClause renders f as SQL conditions on alias, appending to args.
func filterClause(alias string, f RequestFilter, conds []string, args []any) ([]string, []any) {
	col := func(name string) string { return alias + name }
	if f.Account != "" {
		args = append(args, string(f.Account))
		conds = append(conds, fmt.Sprintf("%s = $%d", col("account"), len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", col("status"), len(args)))
	}
	if f.CreatedFrom != nil {
		args = append(args, *f.CreatedFrom)
		conds = append(conds, fmt.Sprintf("%s >= $%d", col("created_at"), len(args)))
	}
	if f.CreatedTo != nil {
		args = append(args, *f.CreatedTo)
		conds = append(conds, fmt.Sprintf("%s <= $%d", col("created_at"), len(args)))
	}
	return conds, args
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (q queries) ListRequests(ctx context.Context, f RequestFilter) ([]domain.CashRequest, error) {
	conds, args := filterClause("", f, nil, nil)
	limit, offset := f.Page()
	args = append(args, limit, offset)
	sql := fmt.Sprintf("SELECT %s FROM cash_requests%s ORDER BY id DESC LIMIT $%d OFFSET $%d",
		requestColumns, where(conds), len(args)-1, len(args))

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return collectRequests(rows)
}

func (q queries) ListForParticipant(ctx context.Context, userID int64, f RequestFilter) ([]domain.CashRequest, error) {
	conds, args := filterClause("r.", f, []string{"p.user_id = $1"}, []any{userID})
	limit, offset := f.Page()
	args = append(args, limit, offset)
	sql := fmt.Sprintf(`SELECT %s FROM cash_requests r
		JOIN cash_request_participants p ON p.request_id = r.id%s
		ORDER BY r.id DESC LIMIT $%d OFFSET $%d`, columns("r.", requestFields), where(conds), len(args)-1, len(args))

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list participant requests: %w", err)
	}
	return collectRequests(rows)
}

func scanParticipants(rows pgx.Rows) ([]domain.Participant, error) {
	defer rows.Close()
	var out []domain.Participant
	for rows.Next() {
		var (
			p    domain.Participant
			role string
		)
		if err := rows.Scan(&p.ID, &p.RequestID, &p.UserID, &p.Name, &role, &p.IsAdmin, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Role = domain.Role(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSignatures(rows pgx.Rows) ([]domain.Signature, error) {
	defer rows.Close()
	var out []domain.Signature
	for rows.Next() {
		var (
			s              domain.Signature
			decision       string
			reason, artRef *string
		)
		if err := rows.Scan(&s.ID, &s.RequestID, &s.UserID, &s.Attempt, &decision, &reason, &artRef, &s.DecidedAt); err != nil {
			return nil, err
		}
		s.Decision = domain.Decision(decision)
		if reason != nil {
			s.RefuseReason = *reason
		}
		if artRef != nil {
			s.ArtifactRef = *artRef
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) Participants(ctx context.Context, requestID int64) ([]domain.Participant, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+participantColumns+" FROM cash_request_participants WHERE request_id = $1 ORDER BY is_admin ASC, id ASC",
		requestID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return scanParticipants(rows)
}

func (q queries) Signatures(ctx context.Context, requestID int64) ([]domain.Signature, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+signatureColumns+" FROM cash_signatures WHERE request_id = $1 ORDER BY attempt ASC, id ASC",
		requestID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return scanSignatures(rows)
}

func (q queries) Bundles(ctx context.Context, f RequestFilter) ([]domain.RequestBundle, error) {
	conds, args := filterClause("", f, nil, nil)
	rows, err := q.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM cash_requests%s ORDER BY id DESC", requestColumns, where(conds)), args...)
	if err != nil {
		return nil, fmt.Errorf("list act requests: %w", err)
	}
	reqs, err := collectRequests(rows)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}

	ids := make([]int64, len(reqs))
	index := make(map[int64]int, len(reqs))
	bundles := make([]domain.RequestBundle, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
		index[r.ID] = i
		bundles[i].Request = r
	}

	prows, err := q.db.Query(ctx,
		"SELECT "+participantColumns+" FROM cash_request_participants WHERE request_id = ANY($1) ORDER BY is_admin ASC, id ASC", ids)
	if err != nil {
		return nil, fmt.Errorf("list act participants: %w", err)
	}
	ps, err := scanParticipants(prows)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		b := &bundles[index[p.RequestID]]
		b.Participants = append(b.Participants, p)
	}

	srows, err := q.db.Query(ctx,
		"SELECT "+signatureColumns+" FROM cash_signatures WHERE request_id = ANY($1) ORDER BY attempt ASC, id ASC", ids)
	if err != nil {
		return nil, fmt.Errorf("list act signatures: %w", err)
	}
	sigs, err := scanSignatures(srows)
	if err != nil {
		return nil, err
	}
	for _, s := range sigs {
		b := &bundles[index[s.RequestID]]
		b.Signatures = append(b.Signatures, s)
	}
	return bundles, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (q queries) InsertRequest(ctx context.Context, r *domain.CashRequest) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO cash_requests (
			account, op_type, amount, status, attempt, admin_id, initiator_id,
			admin_comment, source_kind, source_id, source_payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		string(r.Account), string(r.OpType), r.Amount, string(r.Status), r.Attempt, r.AdminID, r.InitiatorID,
		r.AdminComment, r.SourceKind, r.SourceID, nullJSON(r.SourcePayload), r.CreatedAt, r.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("request insert failed: %w", err)
	}
	return id, nil
}

func (q queries) InsertParticipants(ctx context.Context, ps []domain.Participant) error {
	for _, p := range ps {
		_, err := q.db.Exec(ctx, `INSERT INTO cash_request_participants
				(request_id, user_id, name_snapshot, role_snapshot, is_admin, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.RequestID, p.UserID, p.Name, string(p.Role), p.IsAdmin, p.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("participant insert failed: %w", err)
		}
	}
	return nil
}

func (q queries) InsertSignature(ctx context.Context, s *domain.Signature) error {
	err := q.db.QueryRow(ctx, `INSERT INTO cash_signatures
			(request_id, user_id, attempt, decision, refuse_reason, artifact_ref, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		s.RequestID, s.UserID, s.Attempt, string(s.Decision), nullString(s.RefuseReason), nullString(s.ArtifactRef), s.DecidedAt,
	).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("signature insert failed: %w", err)
	}
	return nil
}

func (q queries) update(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := q.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("request update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) TouchRequest(ctx context.Context, id int64, at time.Time) error {
	return q.update(ctx, id, "UPDATE cash_requests SET updated_at = $2 WHERE id = $1", at)
}

func (q queries) SetStatus(ctx context.Context, id int64, status domain.Status, at time.Time) error {
	return q.update(ctx, id, "UPDATE cash_requests SET status = $2, updated_at = $3 WHERE id = $1", string(status), at)
}

func (q queries) SetAttempt(ctx context.Context, id int64, attempt int, at time.Time) error {
	return q.update(ctx, id, "UPDATE cash_requests SET attempt = $2, updated_at = $3 WHERE id = $1", attempt, at)
}

func (q queries) SetAdminComment(ctx context.Context, id int64, comment *string, at time.Time) error {
	return q.update(ctx, id, "UPDATE cash_requests SET admin_comment = $2, updated_at = $3 WHERE id = $1", comment, at)
}
