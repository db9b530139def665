package stripewebhook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/subsync/internal/accounts"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/pkg/db/models"
	"github.com/angelmondragon/subsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
	"github.com/angelmondragon/subsync/pkg/logger"
)

const (
	periodStart int64 = 1700000000
	periodEnd   int64 = 1702592000
)

func TestNewService_RequiresDependencies(t *testing.T) {
	full := ServiceParams{
		Accounts:          newStubAccountRepo(),
		Subscriptions:     newStubSubscriptionRepo(),
		Source:            &stubSource{},
		TransactionRunner: &stubTxRunner{},
		Logger:            testLogger(),
	}
	if _, err := NewService(full); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]func(p *ServiceParams){
		"accounts":      func(p *ServiceParams) { p.Accounts = nil },
		"subscriptions": func(p *ServiceParams) { p.Subscriptions = nil },
		"source":        func(p *ServiceParams) { p.Source = nil },
		"tx runner":     func(p *ServiceParams) { p.TransactionRunner = nil },
		"logger":        func(p *ServiceParams) { p.Logger = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := full
			mutate(&params)
			if _, err := NewService(params); err == nil {
				t.Fatalf("expected error without %s", name)
			}
		})
	}
}

func TestService_DispatchRoutesEachType(t *testing.T) {
	cases := []struct {
		name      string
		eventType stripe.EventType
		raw       string
		wantCall  string
		wantFetch int
	}{
		{
			name:      "checkout completed",
			eventType: stripe.EventTypeCheckoutSessionCompleted,
			raw:       `{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1"}`,
			wantCall:  "Create",
			wantFetch: 1,
		},
		{
			name:      "subscription updated",
			eventType: stripe.EventTypeCustomerSubscriptionUpdated,
			raw:       `{"id":"sub_existing","object":"subscription","status":"past_due"}`,
			wantCall:  "Update",
		},
		{
			name:      "subscription deleted",
			eventType: stripe.EventTypeCustomerSubscriptionDeleted,
			raw:       `{"id":"sub_existing","object":"subscription","status":"canceled"}`,
			wantCall:  "DeleteByStripeID",
		},
		{
			name:      "payment succeeded",
			eventType: stripe.EventTypeInvoicePaymentSucceeded,
			raw:       `{"id":"in_1","object":"invoice","subscription":"sub_existing"}`,
			wantCall:  "UpdatePeriod",
			wantFetch: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.accounts.add("cus_1")
			h.subs.seed(h.accounts.add("cus_existing").ID, "sub_existing")
			h.source.add(activeSubscription("sub_1", "cus_1"))
			h.source.add(activeSubscription("sub_existing", "cus_existing"))

			if err := h.service.HandleEvent(context.Background(), event(tc.eventType, tc.raw)); err != nil {
				t.Fatalf("handle event: %v", err)
			}
			if !h.subs.called(tc.wantCall) {
				t.Fatalf("expected %s call, got %v", tc.wantCall, h.subs.calls)
			}
			for _, other := range []string{"Create", "Update", "DeleteByStripeID", "UpdatePeriod"} {
				if other != tc.wantCall && h.subs.called(other) {
					t.Fatalf("unexpected %s call for %s: %v", other, tc.eventType, h.subs.calls)
				}
			}
			if len(h.source.calls) != tc.wantFetch {
				t.Fatalf("expected %d fetches, got %v", tc.wantFetch, h.source.calls)
			}
		})
	}
}

func TestService_UnknownEventTypeIsAcknowledged(t *testing.T) {
	for _, eventType := range []stripe.EventType{"customer.created", "invoice.paid", "checkout.session.expired", ""} {
		h := newHarness(t)
		if err := h.service.HandleEvent(context.Background(), event(eventType, `{"id":"x"}`)); err != nil {
			t.Fatalf("expected nil for %q, got %v", eventType, err)
		}
		if len(h.subs.calls) != 0 || h.accounts.lookups != 0 || len(h.source.calls) != 0 || h.tx.calls != 0 {
			t.Fatalf("expected no persistence for %q", eventType)
		}
	}
}

func TestService_NilEventIsRejected(t *testing.T) {
	h := newHarness(t)
	if err := h.service.HandleEvent(context.Background(), nil); codeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_MalformedEventDataIsRejected(t *testing.T) {
	h := newHarness(t)
	err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCustomerSubscriptionUpdated, `["not","an","object"]`))
	if codeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.subs.calls) != 0 {
		t.Fatalf("expected no persistence, got %v", h.subs.calls)
	}
}

func TestService_CheckoutCreatesSubscriptionUnderAccount(t *testing.T) {
	h := newHarness(t)
	account := h.accounts.add("cus_1")
	h.source.add(legacyPlanSubscription("sub_1", "cus_1"))

	raw := `{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if h.tx.calls != 1 {
		t.Fatalf("expected one transaction, got %d", h.tx.calls)
	}
	if len(h.subs.created) != 1 {
		t.Fatalf("expected subscription created, got %v", h.subs.calls)
	}
	row := h.subs.created[0]
	if row.AccountID != account.ID || row.StripeSubscriptionID != "sub_1" {
		t.Fatalf("unexpected row linkage %+v", row)
	}
	if row.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", row.Status)
	}
	if row.Interval == nil || *row.Interval != enums.BillingIntervalMonth {
		t.Fatalf("expected month interval, got %v", row.Interval)
	}
	if row.PlanID == nil || *row.PlanID != "plan_legacy" {
		t.Fatalf("expected legacy plan, got %v", row.PlanID)
	}
	if row.CurrentPeriodStart == nil || row.CurrentPeriodStart.Unix() != periodStart {
		t.Fatalf("unexpected period start %v", row.CurrentPeriodStart)
	}
	if len(h.source.calls) != 1 || h.source.calls[0] != "sub_1" {
		t.Fatalf("expected subscription re-fetched, got %v", h.source.calls)
	}
}

func TestService_CheckoutOverwritesExistingRow(t *testing.T) {
	h := newHarness(t)
	account := h.accounts.add("cus_1")
	existing := h.subs.seed(account.ID, "sub_old")
	h.source.add(activeSubscription("sub_new", "cus_1"))

	raw := `{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_new"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(h.subs.created) != 0 {
		t.Fatalf("expected no create, got %d", len(h.subs.created))
	}
	if len(h.subs.updated) != 1 || h.subs.updated[0].ID != existing.ID {
		t.Fatalf("expected existing row updated, got %v", h.subs.updated)
	}
	if h.subs.updated[0].StripeSubscriptionID != "sub_new" {
		t.Fatalf("expected stripe id overwritten, got %s", h.subs.updated[0].StripeSubscriptionID)
	}
}

func TestService_CheckoutWithoutSubscriptionOrCustomerIsNoop(t *testing.T) {
	h := newHarness(t)
	raw := `{"id":"cs_1","object":"checkout.session","mode":"payment"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(h.subs.calls) != 0 || h.accounts.lookups != 0 || h.tx.calls != 0 || len(h.source.calls) != 0 {
		t.Fatalf("expected zero persistence or fetch calls")
	}
}

func TestService_CheckoutWithCustomerOnlyIsNoop(t *testing.T) {
	h := newHarness(t)
	h.accounts.add("cus_1")

	raw := `{"id":"cs_1","object":"checkout.session","customer":"cus_1","mode":"subscription"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(h.source.calls) != 0 {
		t.Fatalf("expected no stripe fetch, got %v", h.source.calls)
	}
	if len(h.subs.calls) != 0 || h.accounts.lookups != 0 || h.tx.calls != 0 {
		t.Fatalf("expected zero persistence calls, got %v", h.subs.calls)
	}
	if entry := h.findLog(t, "checkout session has no subscription"); entry["event_id"] != "evt_test" {
		t.Fatalf("expected event_id on log entry, got %v", entry)
	}
}

func TestService_CheckoutCustomerFallsBackToFetchedSubscription(t *testing.T) {
	h := newHarness(t)
	account := h.accounts.add("cus_1")
	h.source.add(activeSubscription("sub_1", "cus_1"))

	raw := `{"id":"cs_1","object":"checkout.session","subscription":"sub_1"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(h.subs.created) != 1 || h.subs.created[0].AccountID != account.ID {
		t.Fatalf("expected row under cus_1, got %v", h.subs.created)
	}
}

func TestService_CheckoutUnknownAccountFails(t *testing.T) {
	h := newHarness(t)
	h.source.add(activeSubscription("sub_1", "cus_ghost"))

	raw := `{"id":"cs_1","object":"checkout.session","customer":"cus_ghost","subscription":"sub_1"}`
	err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw))
	if codeOf(err) != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(h.subs.created) != 0 {
		t.Fatalf("expected no rows written")
	}
}

func TestService_CheckoutFetchFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.accounts.add("cus_1")
	h.source.err = errors.New("stripe unavailable")

	raw := `{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1"}`
	err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw))
	if codeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if pkgerrors.Describe(err) != "fetch stripe subscription: stripe unavailable" {
		t.Fatalf("unexpected message %q", pkgerrors.Describe(err))
	}
	if h.tx.calls != 0 || len(h.subs.calls) != 0 {
		t.Fatalf("expected no persistence after failed fetch")
	}
}

func TestService_CheckoutValidationFailureAbortsWrite(t *testing.T) {
	h := newHarness(t)
	h.accounts.add("cus_1")
	h.source.add(&stripe.Subscription{ID: "sub_1", Customer: &stripe.Customer{ID: "cus_1"}})
	h.service.validate = func(v any) error {
		row := v.(*models.Subscription)
		if row.Status == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "validation failed: status")
		}
		return nil
	}

	raw := `{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1"}`
	err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCheckoutSessionCompleted, raw))
	if codeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.subs.created) != 0 {
		t.Fatalf("expected no create after validation failure")
	}
}

func TestService_SubscriptionUpdatedAppliesPayloadWithoutFetch(t *testing.T) {
	h := newHarness(t)
	row := h.subs.seed(h.accounts.add("cus_1").ID, "sub_1")

	payload := priceOnlySubscription("sub_1", "cus_1")
	payload.Status = stripe.SubscriptionStatusPastDue
	if err := h.service.HandleEvent(context.Background(), eventFor(t, stripe.EventTypeCustomerSubscriptionUpdated, payload)); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(h.source.calls) != 0 {
		t.Fatalf("update payload must not be re-fetched, got %v", h.source.calls)
	}
	if len(h.subs.updated) != 1 || h.subs.updated[0].ID != row.ID {
		t.Fatalf("expected existing row updated")
	}
	got := h.subs.updated[0]
	if got.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", got.Status)
	}
	if got.Interval == nil || *got.Interval != enums.BillingIntervalYear {
		t.Fatalf("expected year interval, got %v", got.Interval)
	}
	if got.PlanID == nil || *got.PlanID != "price_modern" {
		t.Fatalf("expected price id, got %v", got.PlanID)
	}
}

func TestService_SubscriptionUpdatedStoresUnknownStatusVerbatim(t *testing.T) {
	h := newHarness(t)
	h.subs.seed(h.accounts.add("cus_1").ID, "sub_1")

	raw := `{"id":"sub_1","object":"subscription","status":"on_hold"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCustomerSubscriptionUpdated, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if h.subs.updated[0].Status != enums.SubscriptionStatus("on_hold") {
		t.Fatalf("expected verbatim status, got %s", h.subs.updated[0].Status)
	}
	if entry := h.findLog(t, "unrecognized stripe subscription status stored verbatim"); entry["status"] != "on_hold" {
		t.Fatalf("expected status on warning, got %v", entry)
	}
}

func TestService_SubscriptionUpdatedWarnsOnUnrecognizedInterval(t *testing.T) {
	h := newHarness(t)
	h.subs.seed(h.accounts.add("cus_1").ID, "sub_1")

	raw := `{"id":"sub_1","object":"subscription","status":"active","items":{"object":"list","data":[` +
		`{"id":"si_1","object":"subscription_item","plan":{"id":"plan_x","object":"plan","interval":"fortnight"}}]}}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCustomerSubscriptionUpdated, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	got := h.subs.updated[0]
	if got.Interval == nil || *got.Interval != enums.BillingInterval("fortnight") {
		t.Fatalf("expected verbatim interval, got %v", got.Interval)
	}

	entry := h.findLog(t, "unrecognized stripe billing interval stored verbatim")
	if entry["level"] != "warn" || entry["interval"] != "fortnight" {
		t.Fatalf("unexpected warning entry %v", entry)
	}
	if entry["event_id"] != "evt_test" || entry["event_type"] != string(stripe.EventTypeCustomerSubscriptionUpdated) {
		t.Fatalf("expected event fields on warning, got %v", entry)
	}
	if _, ok := h.findLogOK(t, "unrecognized stripe subscription status stored verbatim"); ok {
		t.Fatalf("active status should not warn")
	}
}

func TestService_MissingRowFailsLoudly(t *testing.T) {
	cases := []struct {
		eventType stripe.EventType
		raw       string
	}{
		{stripe.EventTypeCustomerSubscriptionUpdated, `{"id":"sub_ghost","object":"subscription","status":"active"}`},
		{stripe.EventTypeCustomerSubscriptionDeleted, `{"id":"sub_ghost","object":"subscription","status":"canceled"}`},
		{stripe.EventTypeInvoicePaymentSucceeded, `{"id":"in_1","object":"invoice","subscription":"sub_ghost"}`},
	}
	for _, tc := range cases {
		t.Run(string(tc.eventType), func(t *testing.T) {
			h := newHarness(t)
			h.source.add(activeSubscription("sub_ghost", "cus_1"))

			err := h.service.HandleEvent(context.Background(), event(tc.eventType, tc.raw))
			if codeOf(err) != pkgerrors.CodeNotFound {
				t.Fatalf("expected not found, got %v", err)
			}
			if pkgerrors.Describe(err) != "subscription sub_ghost not found" {
				t.Fatalf("unexpected message %q", pkgerrors.Describe(err))
			}
			if len(h.subs.created) != 0 {
				t.Fatalf("missing rows must never be created")
			}

			h.service.tolerateMissing = true
			if err := h.service.HandleEvent(context.Background(), event(tc.eventType, tc.raw)); err != nil {
				t.Fatalf("expected tolerant mode to acknowledge, got %v", err)
			}
		})
	}
}

func TestService_SubscriptionDeletedRemovesRow(t *testing.T) {
	h := newHarness(t)
	h.subs.seed(h.accounts.add("cus_1").ID, "sub_1")

	raw := `{"id":"sub_1","object":"subscription","status":"canceled"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeCustomerSubscriptionDeleted, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(h.subs.deleted) != 1 || h.subs.deleted[0] != "sub_1" {
		t.Fatalf("expected sub_1 deleted, got %v", h.subs.deleted)
	}
	if _, ok := h.subs.rows["sub_1"]; ok {
		t.Fatalf("expected row removed")
	}
}

func TestService_PaymentWithoutSubscriptionIsNoop(t *testing.T) {
	for name, raw := range map[string]string{
		"absent":       `{"id":"in_1","object":"invoice"}`,
		"null":         `{"id":"in_1","object":"invoice","subscription":null}`,
		"empty string": `{"id":"in_1","object":"invoice","subscription":""}`,
		"empty parent": `{"id":"in_1","object":"invoice","parent":{"type":"quote_details","subscription_details":null}}`,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeInvoicePaymentSucceeded, raw)); err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if len(h.subs.calls) != 0 || len(h.source.calls) != 0 {
				t.Fatalf("expected zero persistence or fetch calls, got %v / %v", h.subs.calls, h.source.calls)
			}
		})
	}
}

func TestService_PaymentStringAndObjectRefsMatch(t *testing.T) {
	payloads := []string{
		`{"id":"in_1","object":"invoice","subscription":"sub_1"}`,
		`{"id":"in_1","object":"invoice","subscription":{"id":"sub_1","object":"subscription","status":"active"}}`,
		`{"id":"in_1","object":"invoice","parent":{"type":"subscription_details","subscription_details":{"subscription":"sub_1"}}}`,
	}

	var updates [][]periodUpdate
	for _, raw := range payloads {
		h := newHarness(t)
		h.subs.seed(h.accounts.add("cus_1").ID, "sub_1")
		h.source.add(legacyPlanSubscription("sub_1", "cus_1"))

		if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeInvoicePaymentSucceeded, raw)); err != nil {
			t.Fatalf("handle event: %v", err)
		}
		if len(h.source.calls) != 1 || h.source.calls[0] != "sub_1" {
			t.Fatalf("expected sub_1 fetched, got %v", h.source.calls)
		}
		if h.subs.called("Update") {
			t.Fatalf("payment must only touch the billing window")
		}
		updates = append(updates, h.subs.periodUpdates)
	}

	for i := 1; i < len(updates); i++ {
		if !reflect.DeepEqual(updates[0], updates[i]) {
			t.Fatalf("payload %d produced %+v, want %+v", i, updates[i], updates[0])
		}
	}
	first := updates[0][0]
	if first.id != "sub_1" || first.start == nil || first.start.Unix() != periodStart || first.end.Unix() != periodEnd {
		t.Fatalf("unexpected period update %+v", first)
	}
}

func TestService_PaymentLeavesStatusPlanAndInterval(t *testing.T) {
	h := newHarness(t)
	row := h.subs.seed(h.accounts.add("cus_1").ID, "sub_1")
	fetched := priceOnlySubscription("sub_1", "cus_1")
	fetched.Status = stripe.SubscriptionStatusCanceled
	h.source.add(fetched)

	raw := `{"id":"in_1","object":"invoice","subscription":"sub_1"}`
	if err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeInvoicePaymentSucceeded, raw)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	stored := h.subs.rows["sub_1"]
	if stored.Status != enums.SubscriptionStatusActive || *stored.PlanID != "plan_seed" || *stored.Interval != enums.BillingIntervalMonth {
		t.Fatalf("expected non-period fields untouched, got %+v", stored)
	}
	if stored.ID != row.ID || stored.CurrentPeriodEnd == nil || stored.CurrentPeriodEnd.Unix() != periodEnd {
		t.Fatalf("expected period advanced, got %+v", stored)
	}
}

func TestService_PaymentMalformedRefIsRejected(t *testing.T) {
	h := newHarness(t)
	err := h.service.HandleEvent(context.Background(), event(stripe.EventTypeInvoicePaymentSucceeded, `{"id":"in_1","subscription":42}`))
	if codeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type harness struct {
	service  *Service
	accounts *stubAccountRepo
	subs     *stubSubscriptionRepo
	source   *stubSource
	tx       *stubTxRunner
	logs     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		accounts: newStubAccountRepo(),
		subs:     newStubSubscriptionRepo(),
		source:   &stubSource{subs: map[string]*stripe.Subscription{}},
		tx:       &stubTxRunner{},
		logs:     &bytes.Buffer{},
	}
	service, err := NewService(ServiceParams{
		Accounts:          h.accounts,
		Subscriptions:     h.subs,
		Source:            h.source,
		TransactionRunner: h.tx,
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: h.logs, Format: "json"}),
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	h.service = service
	return h
}

// findLog returns the first JSON log entry whose message is msg.
func (h *harness) findLog(t *testing.T, msg string) map[string]any {
	t.Helper()
	entry, ok := h.findLogOK(t, msg)
	if !ok {
		t.Fatalf("no %q entry in logs:\n%s", msg, h.logs.String())
	}
	return entry
}

func (h *harness) findLogOK(t *testing.T, msg string) (map[string]any, bool) {
	t.Helper()
	scanner := bufio.NewScanner(bytes.NewReader(h.logs.Bytes()))
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line: %v (%s)", err, scanner.Text())
		}
		if entry["message"] == msg {
			return entry, true
		}
	}
	return nil, false
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func event(eventType stripe.EventType, raw string) *stripe.Event {
	return &stripe.Event{
		ID:   "evt_test",
		Type: eventType,
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func eventFor(t *testing.T, eventType stripe.EventType, object any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return &stripe.Event{ID: "evt_test", Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func activeSubscription(id, customerID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{CurrentPeriodStart: periodStart, CurrentPeriodEnd: periodEnd},
		}},
	}
}

func legacyPlanSubscription(id, customerID string) *stripe.Subscription {
	sub := activeSubscription(id, customerID)
	sub.Items.Data[0].Plan = &stripe.Plan{ID: "plan_legacy", Interval: stripe.PlanIntervalMonth}
	return sub
}

func priceOnlySubscription(id, customerID string) *stripe.Subscription {
	sub := activeSubscription(id, customerID)
	sub.Items.Data[0].Price = &stripe.Price{
		ID:        "price_modern",
		Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalYear},
	}
	return sub
}

type stubAccountRepo struct {
	byCustomer map[string]*models.Account
	lookups    int
}

func newStubAccountRepo() *stubAccountRepo {
	return &stubAccountRepo{byCustomer: map[string]*models.Account{}}
}

func (s *stubAccountRepo) add(customerID string) *models.Account {
	account := &models.Account{ID: uuid.New(), StripeCustomerID: customerID}
	s.byCustomer[customerID] = account
	return account
}

func (s *stubAccountRepo) WithTx(tx *gorm.DB) accounts.Repository {
	return s
}

func (s *stubAccountRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	s.lookups++
	return s.byCustomer[customerID], nil
}

type periodUpdate struct {
	id    string
	start *time.Time
	end   *time.Time
}

type stubSubscriptionRepo struct {
	rows          map[string]*models.Subscription
	calls         []string
	created       []*models.Subscription
	updated       []*models.Subscription
	deleted       []string
	periodUpdates []periodUpdate
}

func newStubSubscriptionRepo() *stubSubscriptionRepo {
	return &stubSubscriptionRepo{rows: map[string]*models.Subscription{}}
}

func (s *stubSubscriptionRepo) seed(accountID uuid.UUID, stripeID string) *models.Subscription {
	interval := enums.BillingIntervalMonth
	plan := "plan_seed"
	row := &models.Subscription{
		ID:                   uuid.New(),
		AccountID:            accountID,
		StripeSubscriptionID: stripeID,
		Status:               enums.SubscriptionStatusActive,
		Interval:             &interval,
		PlanID:               &plan,
	}
	s.rows[stripeID] = row
	return row
}

func (s *stubSubscriptionRepo) called(name string) bool {
	for _, call := range s.calls {
		if call == name {
			return true
		}
	}
	return false
}

func (s *stubSubscriptionRepo) WithTx(tx *gorm.DB) subscriptions.Repository {
	return s
}

func (s *stubSubscriptionRepo) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	s.calls = append(s.calls, "FindByStripeID")
	if row, ok := s.rows[stripeSubscriptionID]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, nil
}

func (s *stubSubscriptionRepo) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	s.calls = append(s.calls, "FindByAccountID")
	for _, row := range s.rows {
		if row.AccountID == accountID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubSubscriptionRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	s.calls = append(s.calls, "Create")
	s.created = append(s.created, subscription)
	s.rows[subscription.StripeSubscriptionID] = subscription
	return nil
}

func (s *stubSubscriptionRepo) Update(ctx context.Context, subscription *models.Subscription) error {
	s.calls = append(s.calls, "Update")
	s.updated = append(s.updated, subscription)
	for key, row := range s.rows {
		if row.ID == subscription.ID {
			delete(s.rows, key)
		}
	}
	s.rows[subscription.StripeSubscriptionID] = subscription
	return nil
}

func (s *stubSubscriptionRepo) UpdatePeriod(ctx context.Context, stripeSubscriptionID string, start, end *time.Time) (int64, error) {
	s.calls = append(s.calls, "UpdatePeriod")
	s.periodUpdates = append(s.periodUpdates, periodUpdate{id: stripeSubscriptionID, start: start, end: end})
	row, ok := s.rows[stripeSubscriptionID]
	if !ok {
		return 0, nil
	}
	row.CurrentPeriodStart = start
	row.CurrentPeriodEnd = end
	return 1, nil
}

func (s *stubSubscriptionRepo) DeleteByStripeID(ctx context.Context, stripeSubscriptionID string) (int64, error) {
	s.calls = append(s.calls, "DeleteByStripeID")
	if _, ok := s.rows[stripeSubscriptionID]; !ok {
		return 0, nil
	}
	delete(s.rows, stripeSubscriptionID)
	s.deleted = append(s.deleted, stripeSubscriptionID)
	return 1, nil
}

func (s *stubSubscriptionRepo) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Subscription, error) {
	s.calls = append(s.calls, "ListStale")
	return nil, nil
}

type stubTxRunner struct {
	calls int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	return fn(nil)
}

type stubSource struct {
	subs  map[string]*stripe.Subscription
	calls []string
	err   error
}

func (s *stubSource) add(sub *stripe.Subscription) {
	if s.subs == nil {
		s.subs = map[string]*stripe.Subscription{}
	}
	s.subs[sub.ID] = sub
}

func (s *stubSource) FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	sub, ok := s.subs[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "no such subscription: "+id)
	}
	return sub, nil
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return ""
}
