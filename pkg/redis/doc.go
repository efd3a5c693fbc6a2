// Package redis connects to Redis with go-redis and uses it to remember which
// webhook events have already been handled.
//
// Deduper implements subscription.EventDeduper: Claim stores the event ID with
// SET NX and a TTL (REDIS_DEDUPE_TTL), so only the first delivery of an event
// proceeds, and Release removes the key after a failed attempt so the next
// redelivery is retried. Redis is optional; with REDIS_URL unset Connect
// returns ErrEmptyConnectionURL and cmd/subsync runs without a deduper.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//	opts = append(opts, subscription.WithDeduper(redis.NewDeduper(client, cfg)))
package redis
