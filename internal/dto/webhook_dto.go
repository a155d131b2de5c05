package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// LemonSqueezyWebhook is the envelope shared by every event.
type LemonSqueezyWebhook struct {
	Meta WebhookMeta `json:"meta"`
	Data WebhookData `json:"data"`
}

type WebhookMeta struct {
	EventName  string     `json:"event_name" validate:"required"`
	TestMode   bool       `json:"test_mode"`
	CustomData CustomData `json:"custom_data"`
}

// CustomData is what the checkout attached to the order.
type CustomData struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id,omitempty"`
}

type WebhookData struct {
	ID         string          `json:"id" validate:"required"`
	Type       string          `json:"type" validate:"required"`
	Attributes json.RawMessage `json:"attributes"`
}

// ProviderID accepts both JSON numbers and strings.
type ProviderID string

func (p *ProviderID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProviderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("provider id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("provider id %q is not an integer", n.String())
	}
	*p = ProviderID(n.String())
	return nil
}

func (p ProviderID) String() string { return string(p) }

// EventAttributes is implemented by the per-event attribute shapes.
type EventAttributes interface {
	eventAttributes()
	Timestamps() (createdAt, updatedAt string)
}

type OrderItem struct {
	ProductID   ProviderID `json:"product_id"`
	VariantID   ProviderID `json:"variant_id"`
	ProductName string     `json:"product_name"`
	VariantName string     `json:"variant_name"`
	Price       Amount     `json:"price"`
}

type OrderAttributes struct {
	StoreID        ProviderID `json:"store_id"`
	CustomerID     ProviderID `json:"customer_id"`
	Identifier     string     `json:"identifier"`
	OrderNumber    int64      `json:"order_number"`
	UserName       string     `json:"user_name"`
	UserEmail      string     `json:"user_email"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	Total          Amount     `json:"total"`
	TotalUSD       Amount     `json:"total_usd"`
	FirstOrderItem OrderItem  `json:"first_order_item"`
	CreatedAt      string     `json:"created_at"`
	UpdatedAt      string     `json:"updated_at"`
}

type SubscriptionAttributes struct {
	StoreID     ProviderID `json:"store_id"`
	CustomerID  ProviderID `json:"customer_id"`
	OrderID     ProviderID `json:"order_id"`
	ProductID   ProviderID `json:"product_id"`
	VariantID   ProviderID `json:"variant_id"`
	ProductName string     `json:"product_name"`
	VariantName string     `json:"variant_name"`
	UserName    string     `json:"user_name"`
	UserEmail   string     `json:"user_email"`
	Status      string     `json:"status"`
	Cancelled   bool       `json:"cancelled"`
	RenewsAt    string     `json:"renews_at"`
	EndsAt      string     `json:"ends_at"`
	TrialEndsAt string     `json:"trial_ends_at"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

type SubscriptionInvoiceAttributes struct {
	StoreID        ProviderID `json:"store_id"`
	SubscriptionID ProviderID `json:"subscription_id"`
	CustomerID     ProviderID `json:"customer_id"`
	UserName       string     `json:"user_name"`
	UserEmail      string     `json:"user_email"`
	BillingReason  string     `json:"billing_reason"`
	Status         string     `json:"status"`
	Currency       string     `json:"currency"`
	Total          Amount     `json:"total"`
	TotalUSD       Amount     `json:"total_usd"`
	Refunded       bool       `json:"refunded"`
	CreatedAt      string     `json:"created_at"`
	UpdatedAt      string     `json:"updated_at"`
}

// UnknownAttributes keeps the timestamps of events nobody handles.
type UnknownAttributes struct {
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (OrderAttributes) eventAttributes()               {}
func (SubscriptionAttributes) eventAttributes()        {}
func (SubscriptionInvoiceAttributes) eventAttributes() {}
func (UnknownAttributes) eventAttributes()             {}

func (a OrderAttributes) Timestamps() (string, string)        { return a.CreatedAt, a.UpdatedAt }
func (a SubscriptionAttributes) Timestamps() (string, string) { return a.CreatedAt, a.UpdatedAt }
func (a SubscriptionInvoiceAttributes) Timestamps() (string, string) {
	return a.CreatedAt, a.UpdatedAt
}
func (a UnknownAttributes) Timestamps() (string, string) { return a.CreatedAt, a.UpdatedAt }

type WebhookResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

type WebhookErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// Amount is a monetary attribute taken as sent, integer or fractional.
// Anything that is not a number decodes as zero.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		d = decimal.Zero
	}
	a.Decimal = d
	return nil
}
