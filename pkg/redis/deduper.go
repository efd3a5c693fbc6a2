package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers webhook event IDs so redelivered events can be dropped.
// Claims expire after the configured TTL.
type Deduper struct {
	db     redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewDeduper creates a deduper on top of an existing client.
func NewDeduper(client redis.UniversalClient, cfg Config) *Deduper {
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Deduper{
		db:     client,
		prefix: cfg.DedupePrefix,
		ttl:    ttl,
	}
}

// Claim atomically marks eventID as seen. It returns false if another
// delivery already claimed it.
func (d *Deduper) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := d.db.SetNX(ctx, d.prefix+eventID, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, errors.Join(ErrDedupeFailed, err)
	}
	return ok, nil
}

// Release forgets eventID, letting the next delivery through.
func (d *Deduper) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.db.Del(ctx, d.prefix+eventID).Err(); err != nil {
		return errors.Join(ErrDedupeFailed, err)
	}
	return nil
}
