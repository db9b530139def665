package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
)

const (
	defaultReconcileBatchSize  = 250
	defaultReconcileStaleAfter = 24 * time.Hour

	subscriptionReconcileJobName = "subscription-reconcile"
)

// SubscriptionSource reads the authoritative subscription from Stripe.
type SubscriptionSource interface {
	FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// SubscriptionReconcileJobParams configures the subscription drift job.
type SubscriptionReconcileJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptions.Repository
	Source        SubscriptionSource
	Metrics       *metrics.CronJobMetrics
	BatchSize     int
	StaleAfter    time.Duration
	Now           func() time.Time
}

// NewSubscriptionReconcileJob builds the job that re-reads subscriptions not
// written for StaleAfter and reports rows that disagree with Stripe. It never
// writes; rows change only through verified webhook events.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Source == nil {
		return nil, fmt.Errorf("subscription source required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultReconcileStaleAfter
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconcileBatchSize
	}
	return &subscriptionReconcileJob{
		logg:       params.Logger,
		subs:       params.Subscriptions,
		source:     params.Source,
		metrics:    params.Metrics,
		now:        now,
		batchSize:  batchSize,
		staleAfter: staleAfter,
	}, nil
}

type subscriptionReconcileJob struct {
	logg       *logger.Logger
	subs       subscriptions.Repository
	source     SubscriptionSource
	metrics    *metrics.CronJobMetrics
	now        func() time.Time
	batchSize  int
	staleAfter time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return subscriptionReconcileJobName }

// Run checks one batch of stale rows. Drifted rows keep their updated_at, so
// they are reported again every cycle until a webhook event corrects them.
func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.staleAfter)
	stale, err := j.subs.ListStale(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale subscriptions: %w", err)
	}

	var errs error
	drifted := 0
	for i := range stale {
		drift, err := j.checkSubscription(ctx, &stale[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if drift {
			drifted++
		}
	}
	j.metrics.AddDrift(j.Name(), drifted)

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"drifted":    drifted,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(reportCtx, "subscription drift check complete")
	return errs
}

func (j *subscriptionReconcileJob) checkSubscription(ctx context.Context, row *models.Subscription) (bool, error) {
	logCtx := j.logg.WithSubscriptionID(ctx, row.StripeSubscriptionID)
	logCtx = j.logg.WithField(logCtx, "account_id", row.AccountID.String())

	remote, err := j.source.FetchSubscription(logCtx, row.StripeSubscriptionID)
	if err != nil {
		if isResourceMissing(err) {
			j.logg.Warn(logCtx, "stripe subscription not found; leaving row for the deleted event")
			return false, nil
		}
		return false, fmt.Errorf("fetch stripe subscription %s: %w", row.StripeSubscriptionID, err)
	}
	if remote == nil {
		return false, fmt.Errorf("fetch stripe subscription %s: empty response", row.StripeSubscriptionID)
	}

	if remote.Status == stripe.SubscriptionStatusCanceled {
		j.logg.Warn(logCtx, "subscription canceled at stripe but still stored")
		return true, nil
	}
	drift := subscriptions.DeriveFields(remote).Diff(row)
	if len(drift) == 0 {
		return false, nil
	}
	j.logg.Warn(j.logg.WithField(logCtx, "drift", strings.Join(drift, ",")), "subscription drifted from stripe")
	return true, nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}
