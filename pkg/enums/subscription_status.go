package enums

// SubscriptionStatus is the provider's subscription state. Values are stored
// exactly as the provider reports them, so unknown states survive a round trip.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

var knownSubscriptionStatuses = map[SubscriptionStatus]struct{}{
	SubscriptionStatusTrialing:          {},
	SubscriptionStatusActive:            {},
	SubscriptionStatusPastDue:           {},
	SubscriptionStatusCanceled:          {},
	SubscriptionStatusIncomplete:        {},
	SubscriptionStatusIncompleteExpired: {},
	SubscriptionStatusUnpaid:            {},
	SubscriptionStatusPaused:            {},
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsKnown reports whether the value is one of the documented provider states.
func (s SubscriptionStatus) IsKnown() bool {
	_, ok := knownSubscriptionStatuses[s]
	return ok
}
