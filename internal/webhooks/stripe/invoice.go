package stripewebhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// invoiceRefs covers both places an invoice names its subscription: the
// top-level field on older API versions and parent.subscription_details on
// current ones.
type invoiceRefs struct {
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionIDFromInvoice returns the subscription id an invoice refers to,
// or "" for one-time invoices. The reference may be a bare id or an expanded
// object.
func subscriptionIDFromInvoice(raw json.RawMessage) (string, error) {
	var refs invoiceRefs
	if err := json.Unmarshal(raw, &refs); err != nil {
		return "", err
	}
	id, err := parseSubscriptionRef(refs.Subscription)
	if err != nil || id != "" {
		return id, err
	}
	if refs.Parent != nil && refs.Parent.SubscriptionDetails != nil {
		return parseSubscriptionRef(refs.Parent.SubscriptionDetails.Subscription)
	}
	return "", nil
}

func parseSubscriptionRef(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", err
		}
		return strings.TrimSpace(id), nil
	case '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", err
		}
		return strings.TrimSpace(obj.ID), nil
	default:
		return "", fmt.Errorf("unsupported subscription reference %s", trimmed)
	}
}
