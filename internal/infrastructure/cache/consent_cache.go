package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinicore/compliance-engine/internal/domain/consent"
	"github.com/clinicore/compliance-engine/internal/errors"
)

// ConsentCache caches point-in-time consent validity answers. Entries carry
// a short TTL so a newly recorded withdrawal converges within one cache
// window; writers invalidate eagerly on record, and entries for expiring
// records never outlive the expiration itself.
type ConsentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewConsentCache(client *redis.Client, ttl time.Duration) *ConsentCache {
	return &ConsentCache{client: client, ttl: ttl}
}

type cachedValidity struct {
	Valid     bool      `json:"valid"`
	CheckedAt time.Time `json:"checked_at"`
}

// GetValidity returns the cached validity answer, or (false, false, nil) on
// a cache miss.
func (c *ConsentCache) GetValidity(ctx context.Context, subjectID string, consentType consent.Type) (valid bool, found bool, err error) {
	data, err := c.client.Get(ctx, c.validityKey(subjectID, consentType)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, false, nil
		}
		return false, false, errors.NewInternalError("failed to get from consent cache").WithCause(err)
	}

	var cached cachedValidity
	if err := json.Unmarshal(data, &cached); err != nil {
		return false, false, errors.NewInternalError("failed to unmarshal cached validity").WithCause(err)
	}
	return cached.Valid, true, nil
}

// SetValidity stores a validity answer. The entry lives for the cache TTL,
// capped at the record's expiration when one is set, so a cached grant never
// outlives the consent it answers for.
func (c *ConsentCache) SetValidity(ctx context.Context, subjectID string, consentType consent.Type, valid bool, expiresAt *time.Time) error {
	ttl := c.ttl
	if expiresAt != nil {
		if remaining := time.Until(*expiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(cachedValidity{Valid: valid, CheckedAt: time.Now().UTC()})
	if err != nil {
		return errors.NewInternalError("failed to marshal validity").WithCause(err)
	}

	if err := c.client.Set(ctx, c.validityKey(subjectID, consentType), data, ttl).Err(); err != nil {
		return errors.NewInternalError("failed to set consent cache").WithCause(err)
	}
	return nil
}

// Invalidate drops the cached answer for a (subject, type) pair. Called on
// every consent write so stale grants never outlive a withdrawal.
func (c *ConsentCache) Invalidate(ctx context.Context, subjectID string, consentType consent.Type) error {
	if err := c.client.Del(ctx, c.validityKey(subjectID, consentType)).Err(); err != nil {
		return errors.NewInternalError("failed to invalidate consent cache").WithCause(err)
	}
	return nil
}

func (c *ConsentCache) validityKey(subjectID string, consentType consent.Type) string {
	return fmt.Sprintf("consent:validity:%s:%s", subjectID, consentType)
}
