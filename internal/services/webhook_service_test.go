package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/cache"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/plans"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	starterVariant = "111"
	proVariant     = "222"
)

func testRegistry(t *testing.T) *plans.Registry {
	t.Helper()
	r := plans.NewRegistry()
	require.NoError(t, r.Register(plans.Plan{VariantID: starterVariant, PlanName: "Starter Pack", Credits: 500}))
	require.NoError(t, r.Register(plans.Plan{VariantID: proVariant, PlanName: "Pro Plan", Credits: 3000, Subscription: true}))
	return r
}

func newTestWebhookService(t *testing.T, repo *fakeRepo) *WebhookService {
	t.Helper()
	return NewWebhookService(repo, NewIdempotencyGuard(repo, nil), testRegistry(t), 10*time.Millisecond)
}

func orderPayload(orderID, userID, variantID, updatedAt string) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {"event_name": "order_created", "custom_data": {"user_id": %q}},
		"data": {"id": %q, "type": "orders", "attributes": {
			"total_usd": 9.99,
			"status": "paid",
			"first_order_item": {"product_id": 1, "variant_id": %s, "product_name": "Credits", "variant_name": "Starter Pack", "price": 9.99},
			"created_at": "2024-05-01T10:00:00.000000Z",
			"updated_at": %q
		}}
	}`, userID, orderID, variantID, updatedAt))
}

func subscriptionPayload(event, subscriptionID, userID, variantID, status string, cancelled bool, updatedAt string) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {"event_name": %q, "custom_data": {"user_id": %q}},
		"data": {"id": %q, "type": "subscriptions", "attributes": {
			"order_id": 9001,
			"variant_id": %s,
			"status": %q,
			"cancelled": %t,
			"renews_at": "2024-06-01T10:00:00.000000Z",
			"created_at": "2024-05-01T10:00:00.000000Z",
			"updated_at": %q
		}}
	}`, event, userID, subscriptionID, variantID, status, cancelled, updatedAt))
}

func invoicePayload(invoiceID, subscriptionID, userID, updatedAt string) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {"event_name": "subscription_payment_success", "custom_data": {"user_id": %q}},
		"data": {"id": %q, "type": "subscription-invoices", "attributes": {
			"subscription_id": %q,
			"billing_reason": "renewal",
			"status": "paid",
			"total_usd": 19.9,
			"created_at": "2024-06-01T10:00:00.000000Z",
			"updated_at": %q
		}}
	}`, userID, invoiceID, subscriptionID, updatedAt))
}

func process(t *testing.T, svc *WebhookService, body []byte) error {
	t.Helper()
	event, err := ParseWebhookEvent(body)
	require.NoError(t, err)
	return svc.Process(context.Background(), event, "req-test")
}

func TestOrderCreatedGrantsCreditsOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)
	body := orderPayload("o1", "u1", starterVariant, "2024-05-01T10:00:05.000000Z")

	require.NoError(t, process(t, svc, body))
	assert.Equal(t, 500, repo.ledger.balance("u1"))
	require.Equal(t, 1, repo.paymentCount())
	assert.Equal(t, "9.99", repo.payments[0].AmountUSD.StringFixed(2))
	assert.Equal(t, "Credits - Starter Pack", repo.payments[0].PaymentMethod)
	require.Len(t, repo.ledger.adds, 1)
	assert.Equal(t, ledger.SourcePurchase, repo.ledger.adds[0].Source)
	assert.Equal(t, "Purchase: Starter Pack", repo.ledger.adds[0].Description)

	err := process(t, svc, body)
	assert.ErrorIs(t, err, ErrDuplicateWebhook)
	assert.Equal(t, 500, repo.ledger.balance("u1"))
	assert.Equal(t, 1, repo.paymentCount())
}

func TestOrderCreatedSecondDeliveryWithNewTimestampIsSkipped(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "2024-05-01T10:00:05.000000Z")))
	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "2024-05-01T10:09:00.000000Z")))

	assert.Equal(t, 500, repo.ledger.balance("u1"))
	assert.Equal(t, 1, repo.paymentCount())
}

func TestOrderCreatedConcurrentInsertFailsClosed(t *testing.T) {
	repo := newFakeRepo()
	repo.skipPaymentLookup = true
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "a")))
	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "b")))

	assert.Equal(t, 500, repo.ledger.balance("u1"), "unique violation must roll back the grant")
	assert.Len(t, repo.ledger.adds, 1)
}

func TestOrderCreatedForSubscriptionVariantIsSkipped(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, orderPayload("o2", "u1", proVariant, "x")))

	assert.Equal(t, 0, repo.ledger.balance("u1"))
	assert.Equal(t, 0, repo.paymentCount())
	assert.Len(t, repo.processed, 1, "skipped events are still acknowledged")
}

func TestOrderCreatedWithoutUserOrKnownVariant(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, orderPayload("o3", "", starterVariant, "x")))
	require.NoError(t, process(t, svc, orderPayload("o4", "u1", "404", "x")))

	assert.Empty(t, repo.ledger.adds)
	assert.Equal(t, 0, repo.paymentCount())
}

func TestOrderCreatedLedgerRefusalRollsBack(t *testing.T) {
	repo := newFakeRepo()
	refuse := false
	repo.ledger.addResult = &refuse
	svc := newTestWebhookService(t, repo)

	err := process(t, svc, orderPayload("o5", "u1", starterVariant, "x"))
	require.Error(t, err)
	assert.Equal(t, 0, repo.paymentCount(), "payment record must roll back with the grant")
	assert.Empty(t, repo.processed, "failed events are not recorded")

	refuse = true
	require.NoError(t, process(t, svc, orderPayload("o5", "u1", starterVariant, "x")), "redelivery succeeds")
	assert.Equal(t, 500, repo.ledger.balance("u1"))
}

func TestSubscriptionLifecycleGrantsStoredPlanCredits(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, subscriptionPayload("subscription_created", "s1", "u1", proVariant, "active", false, "t0")))
	sub := repo.subs["s1"]
	require.NotNil(t, sub)
	assert.Equal(t, 3000, sub.PlanCredits)
	assert.Equal(t, "9001", sub.ProviderOrderID)
	assert.Equal(t, 0, repo.ledger.balance("u1"), "subscription_created grants nothing")

	// Repricing the plan later must not change what this subscription grants.
	require.NoError(t, svc.plans.Register(plans.Plan{VariantID: proVariant, PlanName: "Pro Plan", Credits: 5000, Subscription: true}))

	require.NoError(t, process(t, svc, invoicePayload("inv1", "s1", "u1", "t1")))
	assert.Equal(t, 3000, repo.ledger.balance("u1"))
	require.Equal(t, 1, repo.paymentCount())
	assert.Equal(t, "19.90", repo.payments[0].AmountUSD.StringFixed(2))
	assert.Equal(t, "9001", repo.payments[0].ProviderOrderID)
	assert.Equal(t, ledger.SourceSubscription, repo.ledger.adds[0].Source)

	require.NoError(t, process(t, svc, invoicePayload("inv2", "s1", "u1", "t2")))
	assert.Equal(t, 6000, repo.ledger.balance("u1"))
}

func TestSubscriptionPaymentSuccessDuplicateInvoice(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)
	require.NoError(t, process(t, svc, subscriptionPayload("subscription_created", "s1", "u1", proVariant, "active", false, "t0")))

	require.NoError(t, process(t, svc, invoicePayload("inv1", "s1", "u1", "t1")))
	require.NoError(t, process(t, svc, invoicePayload("inv1", "s1", "u1", "t1-redelivered")))

	assert.Equal(t, 3000, repo.ledger.balance("u1"))
	assert.Equal(t, 1, repo.paymentCount())
}

func TestSubscriptionPaymentSuccessWaitsForSubscription(t *testing.T) {
	repo := newFakeRepo()
	repo.onSubscriptionMiss = func(r *fakeRepo) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.subs["s1"] = &models.Subscription{
			UserID: "u1", ProviderSubscriptionID: "s1", ProviderOrderID: "9001",
			Status: models.SubscriptionActive, PlanName: "Pro Plan", PlanCredits: 3000,
		}
	}
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, invoicePayload("inv1", "s1", "u1", "t1")))
	assert.Equal(t, 2, repo.findSubCalls)
	assert.Equal(t, 3000, repo.ledger.balance("u1"))
}

func TestSubscriptionPaymentSuccessWithoutSubscriptionFails(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	err := process(t, svc, invoicePayload("inv1", "s404", "u1", "t1"))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.Equal(t, 2, repo.findSubCalls, "exactly one retry")
	assert.Empty(t, repo.processed)
}

func TestSubscriptionPaymentSuccessNoRetryWhenDelayDisabled(t *testing.T) {
	repo := newFakeRepo()
	svc := NewWebhookService(repo, NewIdempotencyGuard(repo, nil), testRegistry(t), 0)

	err := process(t, svc, invoicePayload("inv1", "s404", "u1", "t1"))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.Equal(t, 1, repo.findSubCalls)
}

func TestSubscriptionStatusEvents(t *testing.T) {
	tests := []struct {
		event       string
		status      string
		cancelled   bool
		startCancel bool
		wantStatus  string
		wantCancel  bool
	}{
		{"subscription_updated", "active", false, true, models.SubscriptionActive, false},
		{"subscription_updated", "on_trial", false, false, models.SubscriptionPastDue, false},
		{"subscription_updated", "cancelled", true, false, models.SubscriptionCancelled, true},
		{"subscription_cancelled", "cancelled", true, false, models.SubscriptionCancelled, true},
		{"subscription_resumed", "active", false, true, models.SubscriptionActive, false},
		{"subscription_expired", "expired", true, true, models.SubscriptionExpired, true},
		{"subscription_paused", "paused", false, false, models.SubscriptionPastDue, false},
		{"subscription_unpaused", "active", false, false, models.SubscriptionActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.event+"/"+tt.status, func(t *testing.T) {
			repo := newFakeRepo()
			repo.subs["s1"] = &models.Subscription{
				UserID: "u1", ProviderSubscriptionID: "s1", Status: models.SubscriptionActive,
				CancelAtPeriodEnd: tt.startCancel, PlanCredits: 3000,
			}
			svc := newTestWebhookService(t, repo)

			require.NoError(t, process(t, svc, subscriptionPayload(tt.event, "s1", "u1", proVariant, tt.status, tt.cancelled, "t9")))
			assert.Equal(t, tt.wantStatus, repo.subs["s1"].Status)
			assert.Equal(t, tt.wantCancel, repo.subs["s1"].CancelAtPeriodEnd)
			assert.Equal(t, 0, repo.ledger.balance("u1"), "status events never grant credits")
		})
	}
}

func TestSubscriptionUpdatedSetsPeriod(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["s1"] = &models.Subscription{UserID: "u1", ProviderSubscriptionID: "s1", Status: models.SubscriptionActive}
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, subscriptionPayload("subscription_updated", "s1", "u1", proVariant, "active", false, "t1")))
	require.NotNil(t, repo.subs["s1"].CurrentPeriodEnd)
	assert.True(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).Equal(*repo.subs["s1"].CurrentPeriodEnd))
}

func TestSubscriptionCreatedTwice(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, subscriptionPayload("subscription_created", "s1", "u1", proVariant, "active", false, "t0")))
	require.NoError(t, process(t, svc, subscriptionPayload("subscription_created", "s1", "u1", proVariant, "active", false, "t0-retry")))
	assert.Len(t, repo.subs, 1)
}

func TestSubscriptionCreatedUnknownVariant(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, subscriptionPayload("subscription_created", "s1", "u1", "404", "active", false, "t0")))
	assert.Equal(t, "Unknown Plan", repo.subs["s1"].PlanName)
	assert.Equal(t, 0, repo.subs["s1"].PlanCredits)

	require.NoError(t, process(t, svc, invoicePayload("inv1", "s1", "u1", "t1")))
	assert.Equal(t, 0, repo.ledger.balance("u1"))
}

func TestUnknownEventIsAccepted(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestWebhookService(t, repo)

	body := []byte(`{"meta":{"event_name":"license_key_created"},"data":{"id":"7","type":"license-keys","attributes":{"created_at":"c"}}}`)
	require.NoError(t, process(t, svc, body))
	assert.Contains(t, repo.processed, "7_license_key_created_c")
}

func TestIdempotencyLookupFailsOpen(t *testing.T) {
	repo := newFakeRepo()
	repo.findProcessedErr = errors.New("db down")
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "x")))
	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "x")))

	assert.Equal(t, 500, repo.ledger.balance("u1"), "payment uniqueness still holds")
}

func TestRecordProcessedErrorIsSwallowed(t *testing.T) {
	repo := newFakeRepo()
	repo.createProcessedErr = errors.New("insert failed")
	svc := newTestWebhookService(t, repo)

	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "x")))
	assert.Equal(t, 500, repo.ledger.balance("u1"))
}

type heldLocker struct{}

func (heldLocker) Obtain(context.Context, string) (func(), error) {
	return nil, cache.ErrLockHeld
}

type brokenLocker struct{}

func (brokenLocker) Obtain(context.Context, string) (func(), error) {
	return nil, errors.New("redis unreachable")
}

func TestLeaseHeldIsDuplicate(t *testing.T) {
	repo := newFakeRepo()
	svc := NewWebhookService(repo, NewIdempotencyGuard(repo, heldLocker{}), testRegistry(t), 0)

	err := process(t, svc, orderPayload("o1", "u1", starterVariant, "x"))
	assert.ErrorIs(t, err, ErrDuplicateWebhook)
	assert.Empty(t, repo.ledger.adds)
}

func TestLeaseErrorFailsOpen(t *testing.T) {
	repo := newFakeRepo()
	svc := NewWebhookService(repo, NewIdempotencyGuard(repo, brokenLocker{}), testRegistry(t), 0)

	require.NoError(t, process(t, svc, orderPayload("o1", "u1", starterVariant, "x")))
	assert.Equal(t, 500, repo.ledger.balance("u1"))
}

func TestSubscriptionSweeper(t *testing.T) {
	repo := newFakeRepo()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	repo.subs["lapsed"] = &models.Subscription{Status: models.SubscriptionCancelled, CurrentPeriodEnd: &past}
	repo.subs["grace"] = &models.Subscription{Status: models.SubscriptionCancelled, CurrentPeriodEnd: &future}
	repo.subs["live"] = &models.Subscription{Status: models.SubscriptionActive, CurrentPeriodEnd: &past}

	n, err := NewSubscriptionSweeper(repo).Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, models.SubscriptionExpired, repo.subs["lapsed"].Status)
	assert.Equal(t, models.SubscriptionCancelled, repo.subs["grace"].Status)
	assert.Equal(t, models.SubscriptionActive, repo.subs["live"].Status)
}

func TestOneTimeBasicOrder(t *testing.T) {
	repo := newFakeRepo()
	registry := plans.NewRegistry()
	registry.RegisterDefaults(plans.Defaults("100", "200", "300"))
	registry.SetSubscriptionVariants([]string{"200", "300"})
	svc := NewWebhookService(repo, NewIdempotencyGuard(repo, nil), registry, 0)

	body := orderPayload("o1", "u1", "100", "2024-05-01T10:00:05.000000Z")
	require.NoError(t, process(t, svc, body))
	assert.ErrorIs(t, process(t, svc, body), ErrDuplicateWebhook)

	require.Equal(t, 1, repo.paymentCount())
	assert.Equal(t, 1200, repo.payments[0].CreditsPurchased)
	require.Len(t, repo.ledger.adds, 1)
	assert.Equal(t, addCall{UserID: "u1", Amount: 1200, Source: ledger.SourcePurchase, Description: "Purchase: Starter Pack"}, repo.ledger.adds[0])
}

func TestOrderCreatedWithFractionalTotal(t *testing.T) {
	repo := newFakeRepo()
	registry := plans.NewRegistry()
	registry.RegisterDefaults(plans.Defaults("100", "200", "300"))
	registry.SetSubscriptionVariants([]string{"200", "300"})
	svc := NewWebhookService(repo, NewIdempotencyGuard(repo, nil), registry, 0)

	body := []byte(`{"meta":{"event_name":"order_created","custom_data":{"user_id":"u1"}},"data":{"id":"o1","type":"orders","attributes":{"first_order_item":{"variant_id":100},"total_usd":9.9,"updated_at":"2024-05-01T10:00:05Z"}}}`)
	require.NoError(t, process(t, svc, body))

	require.Equal(t, 1, repo.paymentCount())
	assert.Equal(t, 1200, repo.payments[0].CreditsPurchased)
	assert.Equal(t, "9.90", repo.payments[0].AmountUSD.StringFixed(2))
	require.Len(t, repo.ledger.adds, 1)
	assert.Equal(t, addCall{UserID: "u1", Amount: 1200, Source: ledger.SourcePurchase, Description: "Purchase: Basic Plan"}, repo.ledger.adds[0])
	assert.Equal(t, 1200, repo.ledger.balance("u1"))
}
