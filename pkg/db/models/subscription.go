package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/pkg/enums"
)

// Subscription persists the provider's view of an account's current subscription.
// A row exists only while the provider considers the subscription live.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;primaryKey"`
	AccountID            uuid.UUID                `gorm:"column:account_id;type:uuid;not null;uniqueIndex" validate:"required"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex" validate:"required"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null" validate:"required"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	Interval             *enums.BillingInterval   `gorm:"column:billing_interval"`
	PlanID               *string                  `gorm:"column:plan_id"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
