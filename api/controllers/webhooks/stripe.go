package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/subsync/api/responses"
	"github.com/angelmondragon/subsync/pkg/config"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
)

const signatureHeader = "Stripe-Signature"

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventVerifier authenticates a raw payload against its signature header.
type EventVerifier interface {
	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

type webhookMetrics interface {
	ObserveRequest(eventType, status string, duration time.Duration)
}

// StripeWebhook verifies a Stripe delivery and hands it to the reconciler.
// Any failure answers 400 so Stripe redelivers; handled and ignored events
// answer 200.
func StripeWebhook(svc StripeWebhookService, verifier EventVerifier, m webhookMetrics, cfg config.WebhookConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		started := time.Now()
		eventType := ""
		observe := func(status string) {
			if m != nil {
				m.ObserveRequest(eventType, status, time.Since(started))
			}
		}

		if svc == nil || verifier == nil {
			observe(metrics.StatusError)
			responses.WriteWebhookError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook unavailable"))
			return
		}

		body := r.Body
		if cfg.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, cfg.MaxBodyBytes)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			observe(metrics.StatusBadRequest)
			responses.WriteWebhookError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := strings.TrimSpace(r.Header.Get(signatureHeader))
		if sigHeader == "" {
			observe(metrics.StatusInvalidSignature)
			responses.WriteWebhookError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}

		event, err := verifier.ConstructEvent(payload, sigHeader)
		if err != nil {
			observe(metrics.StatusInvalidSignature)
			responses.WriteWebhookError(ctx, logg, w, err)
			return
		}
		eventType = string(event.Type)

		if err := svc.HandleEvent(ctx, &event); err != nil {
			observe(metrics.StatusError)
			if logg != nil {
				ctx = logg.WithEventID(ctx, event.ID)
				ctx = logg.WithField(ctx, "event_type", eventType)
			}
			responses.WriteWebhookError(ctx, logg, w, err)
			return
		}

		observe(metrics.StatusOK)
		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteReceived(w)
	}
}
