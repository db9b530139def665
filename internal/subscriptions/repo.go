package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/pkg/db/models"
)

// Repository persists subscription rows keyed by their Stripe subscription id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	Create(ctx context.Context, subscription *models.Subscription) error
	Update(ctx context.Context, subscription *models.Subscription) error
	UpdatePeriod(ctx context.Context, stripeSubscriptionID string, start, end *time.Time) (int64, error)
	DeleteByStripeID(ctx context.Context, stripeSubscriptionID string) (int64, error)
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Subscription, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	return r.first(ctx, "stripe_subscription_id = ?", stripeSubscriptionID)
}

func (r *repository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, nil
	}
	return r.first(ctx, "account_id = ?", accountID)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where(query, args...).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) Update(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

// UpdatePeriod writes only the billing window and reports how many rows matched.
func (r *repository) UpdatePeriod(ctx context.Context, stripeSubscriptionID string, start, end *time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(map[string]any{
			"current_period_start": start,
			"current_period_end":   end,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteByStripeID(ctx context.Context, stripeSubscriptionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Delete(&models.Subscription{})
	return res.RowsAffected, res.Error
}

// ListStale returns up to limit rows not written since updatedBefore, oldest first.
func (r *repository) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Where("updated_at < ?", updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
