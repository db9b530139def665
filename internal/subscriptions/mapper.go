package subscriptions

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
)

// PrimaryLineItemIndex selects the only line item consulted when deriving
// period, interval and plan. Subscriptions are modeled as single-plan; on a
// multi-item subscription every item after the first is ignored.
const PrimaryLineItemIndex = 0

// Fields is the canonical subset of a Stripe subscription that is persisted.
type Fields struct {
	Status             enums.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	Interval           *enums.BillingInterval
	PlanID             *string
}

// DeriveFields maps a Stripe subscription into persisted fields. It is pure:
// missing periods stay nil and the clock is never consulted.
func DeriveFields(sub *stripe.Subscription) Fields {
	if sub == nil {
		return Fields{}
	}
	fields := Fields{Status: enums.SubscriptionStatus(sub.Status)}

	item := primaryItem(sub)
	if item == nil {
		return fields
	}
	fields.CurrentPeriodStart = toTimePtr(item.CurrentPeriodStart)
	fields.CurrentPeriodEnd = toTimePtr(item.CurrentPeriodEnd)
	fields.Interval = intervalFromItem(item)
	fields.PlanID = planIDFromItem(item)
	return fields
}

// Apply overwrites status, period, interval and plan on target.
func (f Fields) Apply(target *models.Subscription) {
	if target == nil {
		return
	}
	target.Status = f.Status
	f.ApplyPeriod(target)
	target.Interval = f.Interval
	target.PlanID = f.PlanID
}

// ApplyPeriod overwrites only the billing window on target.
func (f Fields) ApplyPeriod(target *models.Subscription) {
	if target == nil {
		return
	}
	target.CurrentPeriodStart = f.CurrentPeriodStart
	target.CurrentPeriodEnd = f.CurrentPeriodEnd
}

// Diff lists the persisted columns on stored that disagree with f, in column
// order. An empty result means the row matches.
func (f Fields) Diff(stored *models.Subscription) []string {
	if stored == nil {
		return nil
	}
	var drift []string
	if stored.Status != f.Status {
		drift = append(drift, "status")
	}
	if !sameInstant(stored.CurrentPeriodStart, f.CurrentPeriodStart) {
		drift = append(drift, "current_period_start")
	}
	if !sameInstant(stored.CurrentPeriodEnd, f.CurrentPeriodEnd) {
		drift = append(drift, "current_period_end")
	}
	if !samePtr(stored.Interval, f.Interval) {
		drift = append(drift, "billing_interval")
	}
	if !samePtr(stored.PlanID, f.PlanID) {
		drift = append(drift, "plan_id")
	}
	return drift
}

// Stored timestamps may come back in another zone; compare whole seconds.
func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Unix() == b.Unix()
}

func samePtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func primaryItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil || len(sub.Items.Data) <= PrimaryLineItemIndex {
		return nil
	}
	return sub.Items.Data[PrimaryLineItemIndex]
}

// Legacy plan fields win over price fields; accounts pinned to older API
// versions only populate the plan.
func intervalFromItem(item *stripe.SubscriptionItem) *enums.BillingInterval {
	if item.Plan != nil {
		if v := strings.TrimSpace(string(item.Plan.Interval)); v != "" {
			interval := enums.BillingInterval(v)
			return &interval
		}
	}
	if item.Price != nil && item.Price.Recurring != nil {
		if v := strings.TrimSpace(string(item.Price.Recurring.Interval)); v != "" {
			interval := enums.BillingInterval(v)
			return &interval
		}
	}
	return nil
}

func planIDFromItem(item *stripe.SubscriptionItem) *string {
	if item.Plan != nil {
		if id := trimmedPtr(item.Plan.ID); id != nil {
			return id
		}
	}
	if item.Price != nil {
		return trimmedPtr(item.Price.ID)
	}
	return nil
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
