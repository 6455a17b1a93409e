package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is one of the fixed cash ledgers a request applies to.
type Account string

const (
	AccountMain   Account = "main"
	AccountPraise Account = "praise"
	AccountAlpha  Account = "alpha"
)

// Accounts lists every account in display order.
var Accounts = []Account{AccountMain, AccountPraise, AccountAlpha}

// ParseAccount normalizes s and validates it against the closed set of accounts.
func ParseAccount(s string) (Account, error) {
	a := Account(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case AccountMain, AccountPraise, AccountAlpha:
		return a, nil
	}
	return "", fmt.Errorf("%w: invalid account %q", ErrInvalidArgument, s)
}

// OpType is the direction of a cash movement.
type OpType string

const (
	OpCollect  OpType = "collect"
	OpWithdraw OpType = "withdraw"
)

// ParseOpType normalizes s and validates it against the closed set of operations.
func ParseOpType(s string) (OpType, error) {
	t := OpType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case OpCollect, OpWithdraw:
		return t, nil
	}
	return "", fmt.Errorf("%w: invalid op_type %q", ErrInvalidArgument, s)
}

// Status is the canonical state of a cash request.
type Status string

const (
	StatusPendingSigners Status = "PENDING_SIGNERS"
	StatusPendingAdmin   Status = "PENDING_ADMIN"
	StatusFinal          Status = "FINAL"
	StatusCancelled      Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinal || s == StatusCancelled
}

// Rank orders statuses along the forward path of the state machine.
func (s Status) Rank() int {
	switch s {
	case StatusPendingSigners:
		return 0
	case StatusPendingAdmin:
		return 1
	case StatusFinal, StatusCancelled:
		return 2
	}
	return -1
}

// OpenStatuses are the statuses that still accept decisions.
var OpenStatuses = []Status{StatusPendingSigners, StatusPendingAdmin}

// ReportableStatuses are the statuses included in act reports.
var ReportableStatuses = []Status{StatusPendingSigners, StatusPendingAdmin, StatusFinal}

// Decision is a participant's binding answer for one attempt.
type Decision string

const (
	DecisionSigned  Decision = "SIGNED"
	DecisionRefused Decision = "REFUSED"
)

// EffectiveState is a participant's decision after folding both attempts.
type EffectiveState string

const (
	StatePending           EffectiveState = "PENDING"
	StateSigned            EffectiveState = "SIGNED"
	StateRefusedNeedsRetry EffectiveState = "REFUSED_NEEDS_RETRY"
	StateRefusedFinal      EffectiveState = "REFUSED_FINAL"
)

// Role is a directory role. Only RoleAdmin and RoleSigner take part in approvals.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSigner     Role = "cash_signer"
	RoleAccountant Role = "accountant"
	RoleViewer     Role = "viewer"
	RoleUnknown    Role = "unknown"
)

// ParseRole maps a directory role string onto the closed role set.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleSigner, RoleAccountant, RoleViewer:
		return r
	}
	return RoleUnknown
}

const (
	FirstAttempt = 1
	FinalAttempt = 2
)

// Source links a request to the external entity that caused it.
type Source struct {
	Kind    string          `json:"kind,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CashRequest is a requested cash movement awaiting approval.
type CashRequest struct {
	ID            int64           `json:"id"`
	Account       Account         `json:"account"`
	OpType        OpType          `json:"op_type"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	Attempt       int             `json:"attempt"`
	AdminID       int64           `json:"admin_id"`
	InitiatorID   *int64          `json:"initiator_id,omitempty"`
	AdminComment  *string         `json:"admin_comment,omitempty"`
	SourceKind    *string         `json:"source_kind,omitempty"`
	SourceID      *int64          `json:"source_id,omitempty"`
	SourcePayload json.RawMessage `json:"source_payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Participant is a roster entry snapshotted at request creation.
type Participant struct {
	ID        int64     `json:"-"`
	RequestID int64     `json:"request_id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Signature is one ledger entry: a participant's decision on one attempt.
// A SIGNED entry always carries ArtifactRef, a REFUSED entry always carries RefuseReason.
type Signature struct {
	ID           int64     `json:"-"`
	RequestID    int64     `json:"request_id"`
	UserID       int64     `json:"user_id"`
	Attempt      int       `json:"attempt"`
	Decision     Decision  `json:"decision"`
	RefuseReason string    `json:"refuse_reason,omitempty"`
	ArtifactRef  string    `json:"artifact_ref,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// RequestBundle is a request together with its roster and ledger.
type RequestBundle struct {
	Request      CashRequest
	Participants []Participant
	Signatures   []Signature
}

// ParticipantView is a roster entry with its effective state.
type ParticipantView struct {
	UserID   int64          `json:"user_id"`
	Name     string         `json:"name"`
	Role     Role           `json:"role"`
	IsAdmin  bool           `json:"is_admin"`
	State    EffectiveState `json:"state"`
	Detail   string         `json:"detail,omitempty"`
	Attempt1 *Signature     `json:"attempt1,omitempty"`
	Attempt2 *Signature     `json:"attempt2,omitempty"`
}

// RequestView is the full read model of one request.
type RequestView struct {
	Request      CashRequest       `json:"request"`
	Participants []ParticipantView `json:"participants"`
}

// ActMark is the display value of an act row's signature column.
type ActMark string

const (
	ActSigned   ActMark = "signed"
	ActRefused  ActMark = "refused"
	ActAwaiting ActMark = "awaiting"
)

// ActRow is one participant line of an audit act.
type ActRow struct {
	RequestID   int64           `json:"request_id"`
	Account     Account         `json:"account"`
	OpType      OpType          `json:"op_type"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Name        string          `json:"name"`
	Role        Role            `json:"user_type"`
	IsAdmin     bool            `json:"is_admin"`
	State       EffectiveState  `json:"state"`
	Mark        ActMark         `json:"mark"`
	Reason      string          `json:"reason,omitempty"`
	ArtifactRef string          `json:"artifact_ref,omitempty"`
}
