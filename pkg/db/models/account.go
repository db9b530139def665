package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the local customer record keyed by the Stripe customer id.
type Account struct {
	ID               uuid.UUID     `gorm:"type:uuid;primaryKey"`
	StripeCustomerID string        `gorm:"column:stripe_customer_id;not null;uniqueIndex"`
	Email            *string       `gorm:"column:email"`
	Subscription     *Subscription `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
