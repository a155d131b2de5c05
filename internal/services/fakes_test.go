package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/models"
)

type addCall struct {
	UserID      string
	Amount      int
	Source      ledger.Source
	Description string
}

type refundCall struct {
	Owner  string
	Amount int
	Reason string
}

// fakeLedger mirrors the SQL functions' rules: no negative balances, consume
// is all-or-nothing.
type fakeLedger struct {
	mu       sync.Mutex
	users    map[string]int
	devices  map[string]int
	adds     []addCall
	refunds  []refundCall
	consumes int

	addResult     *bool
	refuseConsume bool
	refundErr     error
	checkErr      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{users: map[string]int{}, devices: map[string]int{}}
}

func (l *fakeLedger) balance(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[owner]
}

func (l *fakeLedger) CheckUserCredits(_ context.Context, userID string, required int) (ledger.CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkErr != nil {
		return ledger.CheckResult{}, l.checkErr
	}
	b := l.users[userID]
	return ledger.CheckResult{HasEnough: b >= required, CurrentBalance: b}, nil
}

func (l *fakeLedger) ConsumeUserCredits(_ context.Context, userID string, amount int, _ string) (ledger.ConsumeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumes++
	b := l.users[userID]
	if l.refuseConsume || amount <= 0 || b < amount {
		return ledger.ConsumeResult{Success: false, RemainingBalance: b}, nil
	}
	l.users[userID] = b - amount
	return ledger.ConsumeResult{Success: true, RemainingBalance: b - amount}, nil
}

func (l *fakeLedger) AddCredits(_ context.Context, userID string, amount int, source ledger.Source, description string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addResult != nil && !*l.addResult {
		return false, nil
	}
	l.adds = append(l.adds, addCall{UserID: userID, Amount: amount, Source: source, Description: description})
	l.users[userID] += amount
	return true, nil
}

func (l *fakeLedger) RefundUserCredits(_ context.Context, userID string, amount int, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundErr != nil {
		return false, l.refundErr
	}
	l.refunds = append(l.refunds, refundCall{Owner: userID, Amount: amount, Reason: reason})
	l.users[userID] += amount
	return true, nil
}

func (l *fakeLedger) CheckTrialCredits(_ context.Context, fingerprint string, required int) (ledger.CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.devices[fingerprint]
	return ledger.CheckResult{HasEnough: b >= required, CurrentBalance: b}, nil
}

func (l *fakeLedger) ConsumeTrialCredits(_ context.Context, fingerprint string, amount int, _ string) (ledger.ConsumeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumes++
	b := l.devices[fingerprint]
	if l.refuseConsume || amount <= 0 || b < amount {
		return ledger.ConsumeResult{Success: false, RemainingBalance: b}, nil
	}
	l.devices[fingerprint] = b - amount
	return ledger.ConsumeResult{Success: true, RemainingBalance: b - amount}, nil
}

func (l *fakeLedger) RefundTrialCredits(_ context.Context, fingerprint string, amount int, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundErr != nil {
		return false, l.refundErr
	}
	l.refunds = append(l.refunds, refundCall{Owner: fingerprint, Amount: amount, Reason: reason})
	l.devices[fingerprint] += amount
	return true, nil
}

// fakeRepo keeps billing state in memory. Transaction restores payments and
// balances when fn fails, like a rollback.
type fakeRepo struct {
	mu        sync.Mutex
	processed map[string]*models.ProcessedWebhook
	payments  []*models.PaymentRecord
	subs      map[string]*models.Subscription
	usage     []*models.UsageLog
	ledger    *fakeLedger

	findProcessedErr   error
	createProcessedErr error
	skipPaymentLookup  bool
	findSubCalls       int
	onSubscriptionMiss func(r *fakeRepo)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		processed: map[string]*models.ProcessedWebhook{},
		subs:      map[string]*models.Subscription{},
		ledger:    newFakeLedger(),
	}
}

func (r *fakeRepo) FindProcessedWebhook(_ context.Context, webhookID string) (*models.ProcessedWebhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findProcessedErr != nil {
		return nil, r.findProcessedErr
	}
	return r.processed[webhookID], nil
}

func (r *fakeRepo) CreateProcessedWebhook(_ context.Context, rec *models.ProcessedWebhook) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createProcessedErr != nil {
		return false, r.createProcessedErr
	}
	if _, ok := r.processed[rec.WebhookID]; ok {
		return false, nil
	}
	r.processed[rec.WebhookID] = rec
	return true, nil
}

func (r *fakeRepo) FindCompletedOrderPayment(_ context.Context, orderID, userID string) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipPaymentLookup {
		return nil, nil
	}
	for _, p := range r.payments {
		if p.ProviderInvoiceID == nil && p.ProviderOrderID == orderID && p.UserID == userID && p.Status == models.PaymentCompleted {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindCompletedInvoicePayment(_ context.Context, subscriptionID, invoiceID, userID string) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipPaymentLookup {
		return nil, nil
	}
	for _, p := range r.payments {
		if sameInvoice(p, subscriptionID, invoiceID, userID) {
			return p, nil
		}
	}
	return nil, nil
}

func sameInvoice(p *models.PaymentRecord, subscriptionID, invoiceID, userID string) bool {
	return p.ProviderInvoiceID != nil && p.ProviderSubscriptionID != nil &&
		*p.ProviderInvoiceID == invoiceID && *p.ProviderSubscriptionID == subscriptionID &&
		p.UserID == userID && p.Status == models.PaymentCompleted
}

// CreatePaymentRecord enforces the same partial unique indexes as the schema.
func (r *fakeRepo) CreatePaymentRecord(_ context.Context, rec *models.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if rec.Status != models.PaymentCompleted {
			break
		}
		if rec.ProviderInvoiceID == nil && p.ProviderInvoiceID == nil &&
			p.ProviderOrderID == rec.ProviderOrderID && p.UserID == rec.UserID && p.Status == models.PaymentCompleted {
			return ErrDuplicatePayment
		}
		if rec.ProviderInvoiceID != nil && sameInvoice(p, *rec.ProviderSubscriptionID, *rec.ProviderInvoiceID, rec.UserID) {
			return ErrDuplicatePayment
		}
	}
	r.payments = append(r.payments, rec)
	return nil
}

func (r *fakeRepo) FindSubscription(_ context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	r.findSubCalls++
	sub := r.subs[providerSubscriptionID]
	hook := r.onSubscriptionMiss
	r.mu.Unlock()

	if sub == nil && hook != nil {
		hook(r)
	}
	return sub, nil
}

func (r *fakeRepo) FindUserSubscription(_ context.Context, providerSubscriptionID, userID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.subs[providerSubscriptionID]
	if sub == nil || sub.UserID != userID {
		return nil, nil
	}
	return sub, nil
}

func (r *fakeRepo) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ProviderSubscriptionID]; ok {
		return ErrDuplicateSubscription
	}
	r.subs[sub.ProviderSubscriptionID] = sub
	return nil
}

func (r *fakeRepo) UpdateSubscription(_ context.Context, providerSubscriptionID string, updates map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[providerSubscriptionID]
	if !ok {
		return 0, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			sub.Status = v.(string)
		case "cancel_at_period_end":
			sub.CancelAtPeriodEnd = v.(bool)
		case "current_period_start":
			t := v.(time.Time)
			sub.CurrentPeriodStart = &t
		case "current_period_end":
			t := v.(time.Time)
			sub.CurrentPeriodEnd = &t
		}
	}
	return 1, nil
}

func (r *fakeRepo) ExpireLapsedSubscriptions(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionCancelled && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(now) {
			sub.Status = models.SubscriptionExpired
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) Transaction(_ context.Context, fn func(repo BillingRepository, credits ledger.Store) error) error {
	r.mu.Lock()
	payments := append([]*models.PaymentRecord(nil), r.payments...)
	r.mu.Unlock()

	r.ledger.mu.Lock()
	users := make(map[string]int, len(r.ledger.users))
	for k, v := range r.ledger.users {
		users[k] = v
	}
	adds := append([]addCall(nil), r.ledger.adds...)
	r.ledger.mu.Unlock()

	if err := fn(r, r.ledger); err != nil {
		r.mu.Lock()
		r.payments = payments
		r.mu.Unlock()
		r.ledger.mu.Lock()
		r.ledger.users = users
		r.ledger.adds = adds
		r.ledger.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) CreateUsageLog(_ context.Context, log *models.UsageLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, log)
	return nil
}

func (r *fakeRepo) ListCreditTransactions(context.Context, string, string, int) ([]models.CreditTransaction, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}
