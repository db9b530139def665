package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/subsync/api/responses"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

type errorWriter func(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error)

// Recoverer turns a handler panic into a 500 envelope.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return recoverWith(logg, responses.WriteError)
}

// WebhookRecoverer answers a panicking webhook with the 400 error body, so
// Stripe sees the same contract as any other failed delivery and redelivers.
func WebhookRecoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return recoverWith(logg, responses.WriteWebhookError)
}

func recoverWith(logg *logger.Logger, write errorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if e, ok := rec.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(rec)
				}
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithField(ctx, "panic", fmt.Sprint(rec))
				}
				write(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("%v", rec), "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
