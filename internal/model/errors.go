package model

import "errors"

// Sentinel errors shared across the kernel. Callers match with errors.Is;
// wrapping layers add operation context with fmt.Errorf("...: %w", err).
var (
	ErrNoSession             = errors.New("session not found")
	ErrPhaseViolation        = errors.New("phase violation")
	ErrBudgetExceeded        = errors.New("budget exceeded")
	ErrTimeout               = errors.New("operation timed out")
	ErrPersistFailed         = errors.New("persistence failed")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrBadInput              = errors.New("bad input")
)
