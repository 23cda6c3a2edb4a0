package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 1

// ErrSchemaTooNew means another instance has written snapshots in a format
// this build does not understand.
var ErrSchemaTooNew = errors.New("snapshot schema is newer than supported")

func schemaVersionKey(prefix string) string {
	return prefix + ":schema:version"
}

// EnsureSchema records the snapshot schema version under prefix, or checks
// the one already recorded.
func EnsureSchema(ctx context.Context, client redis.UniversalClient, prefix string, logger *zap.SugaredLogger) error {
	key := schemaVersionKey(prefix)

	set, err := client.SetNX(ctx, key, currentSchemaVersion, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	if set {
		logger.Infow("snapshot schema initialized", "version", currentSchemaVersion)
		return nil
	}

	version, err := client.Get(ctx, key).Int()
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: found %d, supported %d", ErrSchemaTooNew, version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		if err := client.Set(ctx, key, currentSchemaVersion, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		logger.Infow("snapshot schema upgraded",
			"from_version", version,
			"to_version", currentSchemaVersion,
		)
	}
	return nil
}
