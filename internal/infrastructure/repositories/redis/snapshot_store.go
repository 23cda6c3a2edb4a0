package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"playloop/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// MirroredSnapshot is a session snapshot as stored in Redis.
type MirroredSnapshot struct {
	InstanceID string                 `json:"instance_id"`
	Snapshot   domain.SessionSnapshot `json:"snapshot"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// SnapshotStore keeps the latest snapshot of every session in Redis so
// operators and other instances can inspect sessions they do not host.
// Entries expire after ttl unless refreshed.
type SnapshotStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewSnapshotStore(client redis.UniversalClient, prefix string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *SnapshotStore) sessionKey(id domain.SessionID) string {
	return s.prefix + ":session:" + string(id)
}

// indexKey is a sorted set of session ids scored by last update time.
func (s *SnapshotStore) indexKey() string {
	return s.prefix + ":sessions"
}

// Save writes all snapshots in one pipeline.
func (s *SnapshotStore) Save(ctx context.Context, instanceID string, snaps []domain.SessionSnapshot, now time.Time) error {
	if len(snaps) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, snap := range snaps {
		data, err := json.Marshal(MirroredSnapshot{
			InstanceID: instanceID,
			Snapshot:   snap,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot %s: %w", snap.ID, err)
		}
		pipe.Set(ctx, s.sessionKey(snap.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(now.Unix()),
			Member: string(snap.ID),
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, id domain.SessionID) (*MirroredSnapshot, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	var mirrored MirroredSnapshot
	if err := json.Unmarshal(data, &mirrored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &mirrored, nil
}

func (s *SnapshotStore) Remove(ctx context.Context, ids ...domain.SessionID) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
		members = append(members, string(id))
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove snapshots: %w", err)
	}
	return nil
}

// ActiveIDs returns sessions updated at or after since, oldest first. The
// index entries of sessions older than since are pruned.
func (s *SnapshotStore) ActiveIDs(ctx context.Context, since time.Time) ([]domain.SessionID, error) {
	cutoff := strconv.FormatInt(since.Unix(), 10)

	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune session index: %w", err)
	}

	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: cutoff,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	ids := make([]domain.SessionID, len(members))
	for i, m := range members {
		ids[i] = domain.SessionID(m)
	}
	return ids, nil
}
