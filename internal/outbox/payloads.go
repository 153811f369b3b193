package outbox

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// OrderCreatedPayload is the self-contained order snapshot carried by an
// order.created event. It holds everything the importer needs so the ledger can
// be written even when the store is unreachable at drain time.
type OrderCreatedPayload struct {
	StoreID      string             `json:"store_id" validate:"required"`
	StoreOrderID *uuid.UUID         `json:"store_order_id,omitempty"`
	Items        []OrderItemPayload `json:"items" validate:"required,min=1,dive"`
	TotalCents   int64              `json:"total_cents" validate:"gte=0"`
	Status       enums.OrderStatus  `json:"status" validate:"required"`
}

// OrderItemPayload is one line of the order snapshot.
type OrderItemPayload struct {
	SKU        string `json:"sku" validate:"required"`
	Qty        int    `json:"qty" validate:"gt=0"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

// OrderCancelledPayload references a previously exported order. The
// store_order_id is mandatory; without it the cancellation cannot be matched to
// a ledger row.
type OrderCancelledPayload struct {
	StoreID      string     `json:"store_id" validate:"required"`
	StoreOrderID *uuid.UUID `json:"store_order_id" validate:"required"`
}

// DecodeOrderCreated parses and validates an order.created payload. Failures
// are validation-coded so the drain loop treats them as permanent.
func DecodeOrderCreated(payload json.RawMessage) (OrderCreatedPayload, error) {
	var decoded OrderCreatedPayload
	if err := decodeInto(payload, &decoded); err != nil {
		return OrderCreatedPayload{}, err
	}
	return decoded, nil
}

// DecodeOrderCancelled parses and validates an order.cancelled payload.
func DecodeOrderCancelled(payload json.RawMessage) (OrderCancelledPayload, error) {
	var decoded OrderCancelledPayload
	if err := decodeInto(payload, &decoded); err != nil {
		return OrderCancelledPayload{}, err
	}
	return decoded, nil
}

func decodeInto(payload json.RawMessage, dest any) error {
	if err := json.Unmarshal(payload, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event payload")
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = "is " + reasonFor(fieldErr.Tag())
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "event payload failed validation").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "event payload failed validation")
}

func reasonFor(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "min", "gt", "gte":
		return "out of range"
	}
	return "invalid"
}
