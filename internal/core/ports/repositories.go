package ports

import (
	"context"

	"playloop/internal/core/domain"
)

type SessionRepository interface {
	Add(ctx context.Context, session PlaybackSession) error
	GetByID(ctx context.Context, id domain.SessionID) (PlaybackSession, error)
	Remove(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]PlaybackSession, error)
	Count(ctx context.Context) (int, error)
}
