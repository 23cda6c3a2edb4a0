package services

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"playloop/internal/core/domain"
)

type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) ObserveBandwidth(sessionID domain.SessionID, est domain.BandwidthEstimate) {
	m.Called(sessionID, est)
}

func (m *MockMetricsRecorder) ObserveHealth(sessionID domain.SessionID, status domain.HealthStatus) {
	m.Called(sessionID, status)
}

func (m *MockMetricsRecorder) RecordStall(sessionID domain.SessionID) {
	m.Called(sessionID)
}

func (m *MockMetricsRecorder) RecordQualitySwitch(sessionID domain.SessionID, reason string) {
	m.Called(sessionID, reason)
}

func (m *MockMetricsRecorder) RecordRecoveryAttempt(sessionID domain.SessionID, outcome string) {
	m.Called(sessionID, outcome)
}

func (m *MockMetricsRecorder) SessionOpened(sessionID domain.SessionID) {
	m.Called(sessionID)
}

func (m *MockMetricsRecorder) SessionClosed(sessionID domain.SessionID) {
	m.Called(sessionID)
}

// permissiveMetrics accepts every call so tests can assert on the ones
// they care about.
func permissiveMetrics() *MockMetricsRecorder {
	m := &MockMetricsRecorder{}
	m.On("ObserveBandwidth", mock.Anything, mock.Anything).Maybe()
	m.On("ObserveHealth", mock.Anything, mock.Anything).Maybe()
	m.On("RecordStall", mock.Anything).Maybe()
	m.On("RecordQualitySwitch", mock.Anything, mock.Anything).Maybe()
	m.On("RecordRecoveryAttempt", mock.Anything, mock.Anything).Maybe()
	m.On("SessionOpened", mock.Anything).Maybe()
	m.On("SessionClosed", mock.Anything).Maybe()
	return m
}

type commandRecorder struct {
	mu       sync.Mutex
	commands []domain.Command
}

func (r *commandRecorder) Deliver(cmd domain.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *commandRecorder) all() []domain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Command, len(r.commands))
	copy(out, r.commands)
	return out
}
