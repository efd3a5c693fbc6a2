package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

const (
	// SignatureHeader carries the provider's webhook signature.
	SignatureHeader = "Stripe-Signature"

	// MaxWebhookBodySize caps the bytes read from a webhook request.
	MaxWebhookBodySize = 1 << 20
)

// WebhookHandler receives provider webhook deliveries.
//
// Every delivery is acknowledged with 200 once handling finishes, whatever the
// outcome: failed events are not retried by the provider, they are logged instead.
type WebhookHandler struct {
	parser     *EventParser
	reconciler *Reconciler
	logger     *slog.Logger
	now        func() time.Time
}

// NewWebhookHandler creates the webhook endpoint handler.
func NewWebhookHandler(parser *EventParser, reconciler *Reconciler, log *slog.Logger) *WebhookHandler {
	if parser == nil {
		panic("subscription: event parser is required")
	}
	if reconciler == nil {
		panic("subscription: reconciler is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &WebhookHandler{
		parser:     parser,
		reconciler: reconciler,
		logger:     log,
		now:        time.Now,
	}
}

type ackResponse struct {
	Received  bool   `json:"received"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, stripe-signature")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Handling outlives the delivery connection.
	ctx := context.WithoutCancel(r.Context())

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "Webhook handler panicked",
				logger.Error(fmt.Errorf("panic: %v", rec)))
		}
		h.ack(w)
	}()

	h.process(ctx, r)
}

func (h *WebhookHandler) process(ctx context.Context, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBodySize+1))
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to read webhook body", logger.Error(err))
		return
	}
	if len(body) > MaxWebhookBodySize {
		h.logger.WarnContext(ctx, "Webhook body rejected",
			logger.Error(ErrPayloadTooLarge),
			slog.Int("limit_bytes", MaxWebhookBodySize))
		return
	}

	ev, err := h.parser.Parse(body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.reconciler.metrics.observe("", OutcomeSkipped, 0)
		h.logger.WarnContext(ctx, "Webhook event rejected",
			logger.Outcome(string(OutcomeSkipped)),
			logger.Error(err))
		return
	}
	if ev.VerifyErr != nil {
		h.logger.WarnContext(ctx, "Processing webhook event with unverified signature",
			logger.EventID(ev.ID),
			logger.EventType(string(ev.Type)),
			logger.Error(ev.VerifyErr))
	}

	_, _ = h.reconciler.HandleEvent(ctx, ev)
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ackResponse{
		Received:  true,
		Message:   "Webhook processed",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}
