package subscription

import "context"

// EventDeduper claims provider event IDs so redelivered events are handled once.
type EventDeduper interface {
	// Claim returns false if the event was already claimed.
	Claim(ctx context.Context, eventID string) (bool, error)

	// Release drops a claim so a later redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

type noopDeduper struct{}

func (noopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
func (noopDeduper) Release(context.Context, string) error       { return nil }
