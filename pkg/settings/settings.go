// Package settings resolves the per-run job settings (thread count, page
// size, admission wait) for a tenant. Values are read once per job run.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis hash fields holding per-tenant overrides.
const (
	FieldThreadCount      = "thread_count"
	FieldPageSize         = "page_size"
	FieldMaxAdmissionWait = "max_admission_wait"
)

// Limits for accepted values.
const (
	MaxThreadCount = 256
	MaxPageSize    = 10000
)

// ErrInvalidSettings is returned for out-of-range settings.
var ErrInvalidSettings = errors.New("invalid job settings")

// Settings are the externally supplied knobs of one job run.
type Settings struct {
	// ThreadCount is the number of pool workers; the admission queue has the same size.
	ThreadCount int

	// PageSize is the number of accounts fetched per page (one task per page).
	PageSize int

	// MaxAdmissionWait bounds how long dispatch blocks on a saturated pool.
	MaxAdmissionWait time.Duration
}

// Default returns the settings used when nothing else is configured.
func Default() Settings {
	return Settings{
		ThreadCount:      1,
		PageSize:         500,
		MaxAdmissionWait: 23 * time.Hour,
	}
}

// Validate checks ranges.
func (s Settings) Validate() error {
	if s.ThreadCount < 1 || s.ThreadCount > MaxThreadCount {
		return fmt.Errorf("%w: thread count must be between 1 and %d (got %d)", ErrInvalidSettings, MaxThreadCount, s.ThreadCount)
	}
	if s.PageSize < 1 || s.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page size must be between 1 and %d (got %d)", ErrInvalidSettings, MaxPageSize, s.PageSize)
	}
	if s.MaxAdmissionWait <= 0 {
		return fmt.Errorf("%w: max admission wait must be positive (got %s)", ErrInvalidSettings, s.MaxAdmissionWait)
	}
	return nil
}

// Source supplies settings for a tenant.
type Source interface {
	JobSettings(ctx context.Context, tenantID string) (Settings, error)
}

// Static is a Source that always returns the same settings.
type Static Settings

// JobSettings implements Source.
func (s Static) JobSettings(context.Context, string) (Settings, error) {
	out := Settings(s)
	return out, out.Validate()
}

// RedisSource reads per-tenant overrides from a Redis hash, falling back to
// defaults field by field.
type RedisSource struct {
	redis    *redis.Client
	defaults Settings
	logger   zerolog.Logger
}

// NewRedisSource creates a Redis-backed settings source.
func NewRedisSource(redisClient *redis.Client, defaults Settings, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		redis:    redisClient,
		defaults: defaults,
		logger:   logger,
	}
}

// Key returns the Redis hash key holding a tenant's job settings.
func Key(tenantID string) string {
	return fmt.Sprintf("savings:tenant:%s:job_settings", tenantID)
}

// JobSettings implements Source.
func (s *RedisSource) JobSettings(ctx context.Context, tenantID string) (Settings, error) {
	fields, err := s.redis.HGetAll(ctx, Key(tenantID)).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("get job settings: %w", err)
	}

	out := s.defaults
	if len(fields) == 0 {
		s.logger.Debug().
			Str("tenant", tenantID).
			Msg("No job settings override in Redis, using defaults")
		return out, out.Validate()
	}

	if v, ok := fields[FieldThreadCount]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", FieldThreadCount, err)
		}
		out.ThreadCount = n
	}
	if v, ok := fields[FieldPageSize]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", FieldPageSize, err)
		}
		out.PageSize = n
	}
	if v, ok := fields[FieldMaxAdmissionWait]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Settings{}, fmt.Errorf("parse %s: %w", FieldMaxAdmissionWait, err)
		}
		out.MaxAdmissionWait = d
	}

	s.logger.Debug().
		Str("tenant", tenantID).
		Int("thread_count", out.ThreadCount).
		Int("page_size", out.PageSize).
		Dur("max_admission_wait", out.MaxAdmissionWait).
		Msg("Resolved job settings from Redis")

	return out, out.Validate()
}

// Store writes a tenant's overrides.
func (s *RedisSource) Store(ctx context.Context, tenantID string, in Settings) error {
	if err := in.Validate(); err != nil {
		return err
	}
	err := s.redis.HSet(ctx, Key(tenantID),
		FieldThreadCount, in.ThreadCount,
		FieldPageSize, in.PageSize,
		FieldMaxAdmissionWait, in.MaxAdmissionWait.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("store job settings: %w", err)
	}
	return nil
}
