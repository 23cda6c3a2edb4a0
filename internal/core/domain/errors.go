package domain

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionClosed      = errors.New("session closed")
	ErrQualityNotFound    = errors.New("quality not found")
	ErrInvalidLadder      = errors.New("invalid quality ladder")
	ErrInvalidTelemetry   = errors.New("invalid telemetry")
	ErrRetriesExhausted   = errors.New("recovery retries exhausted")
	ErrRecoveryTimeout    = errors.New("recovery timed out")
	ErrRecoveryInProgress = errors.New("recovery already in progress")
)
