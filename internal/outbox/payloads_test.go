package outbox

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
)

func TestDecodeOrderCreated(t *testing.T) {
	storeOrderID := uuid.New()
	raw, err := json.Marshal(OrderCreatedPayload{
		StoreID:      "store-001",
		StoreOrderID: &storeOrderID,
		Items:        []OrderItemPayload{{SKU: "ROLL-1", Qty: 2, PriceCents: 500}},
		TotalCents:   1000,
		Status:       enums.OrderStatusPaid,
	})
	require.NoError(t, err)

	decoded, err := DecodeOrderCreated(raw)
	require.NoError(t, err)
	assert.Equal(t, "store-001", decoded.StoreID)
	require.NotNil(t, decoded.StoreOrderID)
	assert.Equal(t, storeOrderID, *decoded.StoreOrderID)
	require.Len(t, decoded.Items, 1)
	assert.Equal(t, int64(1000), decoded.TotalCents)
}

func TestDecodeOrderCreatedRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeOrderCreated(json.RawMessage(`{"items":`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestDecodeOrderCreatedRejectsEmptyItems(t *testing.T) {
	_, err := DecodeOrderCreated(json.RawMessage(`{"store_id":"store-001","items":[],"total_cents":0,"status":"PAID"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestDecodeOrderCancelledRequiresStoreOrderID(t *testing.T) {
	_, err := DecodeOrderCancelled(json.RawMessage(`{"store_id":"store-001"}`))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
