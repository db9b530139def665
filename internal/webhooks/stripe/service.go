package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/accounts"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

// SubscriptionSource retrieves the authoritative subscription state from Stripe.
type SubscriptionSource interface {
	FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Accounts          accounts.Repository
	Subscriptions     subscriptions.Repository
	Source            SubscriptionSource
	TransactionRunner txRunner
	Logger            *logger.Logger
	// Validate checks a row before it is written. Optional.
	Validate func(v any) error
	// TolerateMissing acknowledges update, delete and payment events for
	// subscriptions that have no local row instead of failing them.
	TolerateMissing bool
}

// Service reconciles local subscription rows with verified Stripe events.
type Service struct {
	accounts        accounts.Repository
	subscriptions   subscriptions.Repository
	source          SubscriptionSource
	txRunner        txRunner
	logg            *logger.Logger
	validate        func(v any) error
	tolerateMissing bool
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription source required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		accounts:        params.Accounts,
		subscriptions:   params.Subscriptions,
		source:          params.Source,
		txRunner:        params.TransactionRunner,
		logg:            params.Logger,
		validate:        params.Validate,
		tolerateMissing: params.TolerateMissing,
	}, nil
}

// HandleEvent routes a verified event to its reconciliation routine. Event
// types outside the four handled ones are logged and acknowledged.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)
	ctx = s.logg.WithField(ctx, "event_type", string(event.Type))

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := decodeEventObject(event, &session); err != nil {
			return err
		}
		return s.handleCheckoutCompleted(ctx, &session)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := decodeEventObject(event, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionUpdated(ctx, &sub)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := decodeEventObject(event, &sub); err != nil {
			return err
		}
		return s.handleSubscriptionDeleted(ctx, &sub)
	case stripe.EventTypeInvoicePaymentSucceeded:
		if event.Data == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
		}
		return s.handlePaymentSucceeded(ctx, event.Data.Raw)
	default:
		s.logg.Info(ctx, "stripe event ignored (unhandled type)")
		return nil
	}
}

func decodeEventObject(event *stripe.Event, dest any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if err := json.Unmarshal(event.Data.Raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s", event.Type))
	}
	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = strings.TrimSpace(session.Subscription.ID)
	}
	customerID := ""
	if session.Customer != nil {
		customerID = strings.TrimSpace(session.Customer.ID)
	}
	if subscriptionID == "" {
		// One-time payment checkouts carry no subscription. A customer alone
		// gives nothing to fetch, so the session is acknowledged either way.
		s.logg.Info(ctx, "checkout session has no subscription")
		return nil
	}
	ctx = s.logg.WithSubscriptionID(ctx, subscriptionID)

	sub, err := s.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if customerID == "" && sub.Customer != nil {
		customerID = strings.TrimSpace(sub.Customer.ID)
	}
	if customerID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session has no customer")
	}
	ctx = s.logg.WithCustomerID(ctx, customerID)

	fields := subscriptions.DeriveFields(sub)
	s.warnUnrecognized(ctx, fields)

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		account, err := s.accounts.WithTx(tx).FindByStripeCustomerID(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no account for customer %s", customerID))
		}

		repo := s.subscriptions.WithTx(tx)
		row, err := repo.FindByAccountID(ctx, account.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		create := row == nil
		if create {
			row = &models.Subscription{AccountID: account.ID}
		}
		row.StripeSubscriptionID = subscriptionID
		fields.Apply(row)
		if err := s.validateRow(row); err != nil {
			return err
		}

		if create {
			if err := repo.Create(ctx, row); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
			}
			return nil
		}
		if err := repo.Update(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logg.Info(ctx, "checkout subscription stored")
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	ctx = s.logg.WithSubscriptionID(ctx, id)

	row, err := s.subscriptions.FindByStripeID(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if row == nil {
		return s.missing(ctx, id)
	}

	fields := subscriptions.DeriveFields(sub)
	s.warnUnrecognized(ctx, fields)
	fields.Apply(row)
	if err := s.validateRow(row); err != nil {
		return err
	}
	if err := s.subscriptions.Update(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}

	s.logg.Info(ctx, "subscription updated")
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	ctx = s.logg.WithSubscriptionID(ctx, id)

	deleted, err := s.subscriptions.DeleteByStripeID(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete subscription")
	}
	if deleted == 0 {
		return s.missing(ctx, id)
	}

	s.logg.Info(ctx, "subscription deleted")
	return nil
}

// handlePaymentSucceeded advances the billing window only; status, interval
// and plan are left as they are.
func (s *Service) handlePaymentSucceeded(ctx context.Context, raw json.RawMessage) error {
	id, err := subscriptionIDFromInvoice(raw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice")
	}
	if id == "" {
		s.logg.Info(ctx, "stripe invoice has no subscription")
		return nil
	}
	ctx = s.logg.WithSubscriptionID(ctx, id)

	sub, err := s.fetchSubscription(ctx, id)
	if err != nil {
		return err
	}
	fields := subscriptions.DeriveFields(sub)

	updated, err := s.subscriptions.UpdatePeriod(ctx, id, fields.CurrentPeriodStart, fields.CurrentPeriodEnd)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription period")
	}
	if updated == 0 {
		return s.missing(ctx, id)
	}

	s.logg.Info(ctx, "subscription period advanced")
	return nil
}

func (s *Service) fetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := s.source.FetchSubscription(ctx, id)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe returned no subscription")
	}
	return sub, nil
}

func (s *Service) missing(ctx context.Context, id string) error {
	if s.tolerateMissing {
		s.logg.Warn(ctx, "subscription not found locally; event acknowledged")
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("subscription %s not found", id))
}

func (s *Service) validateRow(row *models.Subscription) error {
	if s.validate == nil {
		return nil
	}
	return s.validate(row)
}

func (s *Service) warnUnrecognized(ctx context.Context, fields subscriptions.Fields) {
	if !fields.Status.IsKnown() {
		s.logg.Warn(s.logg.WithField(ctx, "status", fields.Status.String()), "unrecognized stripe subscription status stored verbatim")
	}
	if fields.Interval != nil && !fields.Interval.IsValid() {
		s.logg.Warn(s.logg.WithField(ctx, "interval", fields.Interval.String()), "unrecognized stripe billing interval stored verbatim")
	}
}
