package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/dto"
)

type EventName string

const (
	EventOrderCreated               EventName = "order_created"
	EventSubscriptionCreated        EventName = "subscription_created"
	EventSubscriptionUpdated        EventName = "subscription_updated"
	EventSubscriptionCancelled      EventName = "subscription_cancelled"
	EventSubscriptionResumed        EventName = "subscription_resumed"
	EventSubscriptionExpired        EventName = "subscription_expired"
	EventSubscriptionPaused         EventName = "subscription_paused"
	EventSubscriptionUnpaused       EventName = "subscription_unpaused"
	EventSubscriptionPaymentSuccess EventName = "subscription_payment_success"
)

var ErrInvalidPayload = errors.New("invalid payload structure")

// WebhookEvent is a verified, decoded LemonSqueezy delivery.
type WebhookEvent struct {
	Name       EventName
	DataID     string
	DataType   string
	TestMode   bool
	CustomData dto.CustomData
	Attributes dto.EventAttributes
	Raw        []byte
}

// ParseWebhookEvent decodes the raw body. Any structural problem is reported
// as ErrInvalidPayload.
func ParseWebhookEvent(raw []byte) (*WebhookEvent, error) {
	var payload dto.LemonSqueezyWebhook
	if err := json.Unmarshal(raw, &payload); err != nil && !isFieldTypeError(err) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	event := &WebhookEvent{
		Name:       EventName(payload.Meta.EventName),
		DataID:     payload.Data.ID,
		DataType:   payload.Data.Type,
		TestMode:   payload.Meta.TestMode,
		CustomData: payload.Meta.CustomData,
		Raw:        raw,
	}

	attrs, err := decodeAttributes(event.Name, payload.Data.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s attributes: %v", ErrInvalidPayload, event.Name, err)
	}
	event.Attributes = attrs
	return event, nil
}

func decodeAttributes(name EventName, raw json.RawMessage) (dto.EventAttributes, error) {
	switch {
	case name == EventOrderCreated:
		var a dto.OrderAttributes
		if err := unmarshalAttributes(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case name == EventSubscriptionPaymentSuccess:
		var a dto.SubscriptionInvoiceAttributes
		if err := unmarshalAttributes(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case strings.HasPrefix(string(name), "subscription_payment_"):
		// other invoice events are accepted but not handled
		var a dto.UnknownAttributes
		_ = unmarshalAttributes(raw, &a)
		return a, nil
	case strings.HasPrefix(string(name), "subscription_"):
		var a dto.SubscriptionAttributes
		if err := unmarshalAttributes(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		var a dto.UnknownAttributes
		_ = unmarshalAttributes(raw, &a)
		return a, nil
	}
}

// unmarshalAttributes tolerates a wrongly typed field: encoding/json still
// fills the rest of the struct, and the field keeps its zero value.
// Malformed provider ids and attributes that are not an object are rejected.
func unmarshalAttributes(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil && !isFieldTypeError(err) {
		return err
	}
	return nil
}

func isFieldTypeError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr) && typeErr.Field != ""
}

// WebhookID is the idempotency key of a delivery. A redelivery carries the
// same body, so it maps to the same key; a new state change carries a new
// updated_at.
func (e *WebhookEvent) WebhookID() string {
	created, updated := e.Attributes.Timestamps()
	ts := updated
	if ts == "" {
		ts = created
	}
	return e.DataID + "_" + string(e.Name) + "_" + ts
}

func (e *WebhookEvent) UserID() string {
	return strings.TrimSpace(e.CustomData.UserID)
}
