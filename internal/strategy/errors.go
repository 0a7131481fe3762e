package strategy

import "errors"

var (
	ErrCallerNotOperator        = errors.New("caller is not the operator")
	ErrCallerNotVault           = errors.New("caller is not the vault")
	ErrCallerNotPositionManager = errors.New("caller is not the position manager")
	ErrCallerNotOwner           = errors.New("caller is not the owner")
	ErrUnauthorizedForwarder    = errors.New("unauthorized forwarder")

	// ErrStatusNotIdle wraps the current status; callers recover by waiting
	// for the outstanding adjustment to reconcile.
	ErrStatusNotIdle   = errors.New("strategy status is not idle")
	ErrStatusNotPaused = errors.New("strategy status is not paused")

	ErrZeroPendingUtilization = errors.New("zero pending utilization")
	ErrZeroAmount             = errors.New("amount resolves to zero after clamping")
	ErrCallbackNotAllowed     = errors.New("callback not allowed")
	ErrNoUpkeepNeeded         = errors.New("no upkeep needed")

	ErrRequestNotFound        = errors.New("withdraw request not found")
	ErrRequestNotExecuted     = errors.New("withdraw request not executed")
	ErrRequestAlreadyClaimed  = errors.New("withdraw request already claimed")
	ErrUnauthorizedClaimer    = errors.New("unauthorized claimer")
)
