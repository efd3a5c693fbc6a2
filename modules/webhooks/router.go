package webhooks

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouterOptions configures which provider endpoints are mounted.
// Each endpoint is optional and will only be mounted if provided.
type RouterOptions struct {
	Stripe http.Handler
}

// Router creates the inbound webhooks router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/webhooks", webhooks.Router(webhooks.RouterOptions{
//	    Stripe: subscription.NewWebhookHandler(parser, reconciler, log),
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	// Every method reaches the handler, which acknowledges anything it receives.
	if opts.Stripe != nil {
		r.Handle("/stripe", opts.Stripe)
	}

	return r
}
