package domain

import "errors"

// Workflow errors. Operations wrap them with detail; match with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("cash request not found")
	ErrNoAdminAvailable  = errors.New("no active admin available")
	ErrNotParticipant    = errors.New("user is not a participant")
	ErrRequestClosed     = errors.New("request is closed")
	ErrAlreadyDecided    = errors.New("already decided on this attempt")
	ErrAdminCannotRefuse = errors.New("admin cannot refuse")
	ErrReasonRequired    = errors.New("refuse reason is required")
	ErrInvalidArtifact   = errors.New("invalid signature artifact")
	ErrForbidden         = errors.New("forbidden")
	ErrNoRefusalsToRetry = errors.New("no refusals on attempt 1")
	ErrNoValidTargets    = errors.New("no valid targets among refused signers")
)
