package accounts

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/pkg/db/models"
)

// Repository looks up accounts by their Stripe customer id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	if customerID == "" {
		return nil, nil
	}
	var account models.Account
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}
