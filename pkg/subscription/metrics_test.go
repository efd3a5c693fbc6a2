package subscription_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/subscription"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	store := subscription.NewMemoryStore(linkedUser("cus_1"))
	r := newReconciler(store, &MockProvider{}, subscription.WithMetrics(subscription.NewMetrics(reg)))

	sub := providerSub("sub_1", "cus_1", subscription.StatusActive, subscription.IntervalMonth, 1, periodStart)
	_, err := r.HandleEvent(context.Background(), newEvent(t, subscription.EventSubscriptionUpdated, "evt_1", sub))
	require.NoError(t, err)
	_, err = r.HandleEvent(context.Background(), newEvent(t, "charge.refunded", "evt_2", map[string]any{"id": "ch_1"}))
	require.NoError(t, err)
	_, err = r.HandleEvent(context.Background(), newEvent(t, "charge.captured", "evt_3", map[string]any{"id": "ch_2"}))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "subsync_webhook_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP subsync_webhook_events_total Webhook events handled, by event type and outcome.
# TYPE subsync_webhook_events_total counter
subsync_webhook_events_total{event_type="customer.subscription.updated",outcome="processed"} 1
subsync_webhook_events_total{event_type="other",outcome="ignored"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "subsync_webhook_events_total"))
}
