package redis

import (
	"context"
	"errors"
	"time"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"

	"go.uber.org/zap"
)

// Mirror periodically copies the snapshots of locally hosted sessions into a
// SnapshotStore and removes the entries of sessions that have gone away.
type Mirror struct {
	store      *SnapshotStore
	sessions   ports.SessionRepository
	instanceID string
	interval   time.Duration
	now        func() time.Time
	logger     *zap.SugaredLogger

	mirrored map[domain.SessionID]struct{}
}

func NewMirror(store *SnapshotStore, sessions ports.SessionRepository, instanceID string, interval time.Duration, logger *zap.SugaredLogger) *Mirror {
	return &Mirror{
		store:      store,
		sessions:   sessions,
		instanceID: instanceID,
		interval:   interval,
		now:        time.Now,
		logger:     logger,
		mirrored:   make(map[domain.SessionID]struct{}),
	}
}

// Run syncs every interval until ctx is done, then removes this instance's
// entries. Sync errors are logged and retried on the next tick.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warnw("snapshot mirror sync failed", "error", err)
			}
		case <-ctx.Done():
			m.clear()
			return
		}
	}
}

// Sync is one mirror pass. Not safe for concurrent use.
func (m *Mirror) Sync(ctx context.Context) error {
	sessions, err := m.sessions.List(ctx)
	if err != nil {
		return err
	}

	snaps := make([]domain.SessionSnapshot, 0, len(sessions))
	current := make(map[domain.SessionID]struct{}, len(sessions))
	for _, session := range sessions {
		snap, err := session.Snapshot()
		if errors.Is(err, domain.ErrSessionClosed) {
			continue
		}
		if err != nil {
			m.logger.Debugw("skipping session snapshot", "session_id", session.ID(), "error", err)
			continue
		}
		snaps = append(snaps, snap)
		current[snap.ID] = struct{}{}
	}

	var gone []domain.SessionID
	for id := range m.mirrored {
		if _, ok := current[id]; !ok {
			gone = append(gone, id)
		}
	}

	if err := m.store.Save(ctx, m.instanceID, snaps, m.now()); err != nil {
		return err
	}
	if err := m.store.Remove(ctx, gone...); err != nil {
		return err
	}
	m.mirrored = current

	m.logger.Debugw("snapshot mirror synced", "sessions", len(snaps), "removed", len(gone))
	return nil
}

func (m *Mirror) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ids := make([]domain.SessionID, 0, len(m.mirrored))
	for id := range m.mirrored {
		ids = append(ids, id)
	}
	if err := m.store.Remove(ctx, ids...); err != nil {
		m.logger.Warnw("failed to clear mirrored snapshots", "error", err)
	}
	m.mirrored = make(map[domain.SessionID]struct{})
}
