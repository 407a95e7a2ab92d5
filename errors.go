package approvals

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("approvals: no store configured")
	ErrStoreClosed     = errors.New("approvals: store closed")
	ErrMigrationFailed = errors.New("approvals: migration failed")

	// Not found errors.
	ErrWorkflowNotFound    = errors.New("approvals: workflow not found")
	ErrRunNotFound         = errors.New("approvals: run not found")
	ErrEventNotFound       = errors.New("approvals: event not found")
	ErrCheckpointNotFound  = errors.New("approvals: checkpoint not found")
	ErrCorrelationNotFound = errors.New("approvals: correlation not found")
	ErrEntityNotFound      = errors.New("approvals: entity not found")
	ErrArtifactNotFound    = errors.New("approvals: artifact not found")

	// Conflict errors.
	ErrCorrelationExists = errors.New("approvals: correlation key already exists")

	// State errors.
	ErrRunNotRunning      = errors.New("approvals: run is not running")
	ErrInvalidState       = errors.New("approvals: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("approvals: max retries exceeded")
	ErrHistoryDiverged    = errors.New("approvals: history diverged during replay")

	// Input errors.
	ErrMissingEntityID = errors.New("approvals: entity id is required")
	ErrInvalidSignal   = errors.New("approvals: invalid signal payload")
	ErrInvalidRequest  = errors.New("approvals: invalid approval request")
	ErrInvalidToken    = errors.New("approvals: invalid callback token")
)
