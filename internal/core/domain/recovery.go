package domain

import "time"

// ErrorState is the bookkeeping of the current recovery episode. A zero
// RecoveryStartTime means no episode is running.
type ErrorState struct {
	ErrorCount        uint32        `json:"error_count"`
	LastError         string        `json:"last_error,omitempty"`
	IsRecovering      bool          `json:"is_recovering"`
	NextRetryDelay    time.Duration `json:"next_retry_delay_ns"`
	RecoveryStartTime time.Time     `json:"recovery_start_time,omitempty"`
}

func (s ErrorState) InEpisode() bool {
	return !s.RecoveryStartTime.IsZero()
}
