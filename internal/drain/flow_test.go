package drain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/internal/ledger"
	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/internal/storeops"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

// flowHarness wires a real store database and a real central database through
// the actual repositories, the importer and the drain service.
type flowHarness struct {
	store   *storeops.Service
	queue   *outbox.Repository
	drain   *Service
	ledger  *ledger.Repository
	central *db.Client
	storeDB *db.Client
}

func openSQLite(t *testing.T, ddl []string) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range ddl {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return db.FromGorm(conn)
}

var storeDDL = []string{`
CREATE TABLE IF NOT EXISTS local_orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  is_guest INTEGER NOT NULL DEFAULT 1,
  total_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS local_order_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  sku TEXT NOT NULL,
  qty INTEGER NOT NULL,
  price_cents INTEGER NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS local_stock (
  sku TEXT PRIMARY KEY,
  qty INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  delivered INTEGER NOT NULL DEFAULT 0,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME
);`}

var centralDDL = []string{`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  store_id TEXT NOT NULL,
  store_order_id TEXT,
  total_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME
);`, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_store_order
  ON orders (store_id, store_order_id)
  WHERE store_order_id IS NOT NULL;`, `
CREATE TABLE IF NOT EXISTS order_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  sku TEXT NOT NULL,
  qty INTEGER NOT NULL,
  price_cents INTEGER NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  store_id TEXT NOT NULL,
  outbox_id INTEGER NOT NULL,
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	storeClient := openSQLite(t, storeDDL)
	centralClient := openSQLite(t, centralDDL)

	storeRepo, err := storeops.NewRepository(storeClient)
	require.NoError(t, err)
	queue, err := outbox.NewRepository(storeClient)
	require.NoError(t, err)
	outboxSvc, err := outbox.NewService(queue)
	require.NoError(t, err)
	storeSvc, err := storeops.NewService(storeops.ServiceParams{
		StoreID: "store-001",
		DB:      storeClient,
		Repo:    storeRepo,
		Outbox:  outboxSvc,
		Logger:  logg,
	})
	require.NoError(t, err)

	ledgerRepo, err := ledger.NewRepository(centralClient)
	require.NoError(t, err)
	importer, err := ledger.NewImporter(ledger.ImporterParams{
		DB:     centralClient,
		Repo:   ledgerRepo,
		Logger: logg,
	})
	require.NoError(t, err)
	dlq, err := NewDLQRepository(centralClient)
	require.NoError(t, err)

	drainSvc, err := NewService(ServiceParams{
		StoreID:  "store-001",
		Logger:   logg,
		Queue:    queue,
		Importer: importer,
		DLQ:      dlq,
	})
	require.NoError(t, err)

	return &flowHarness{
		store:   storeSvc,
		queue:   queue,
		drain:   drainSvc,
		ledger:  ledgerRepo,
		central: centralClient,
		storeDB: storeClient,
	}
}

func (h *flowHarness) payRollOrder(t *testing.T) *models.LocalOrder {
	t.Helper()
	require.NoError(t, h.store.SetStock(context.Background(), "ROLL-1", 10))
	order, err := h.store.CreateOrder(context.Background(), storeops.CreateOrderInput{
		Items: []storeops.CreateOrderItem{{SKU: "ROLL-1", Qty: 2, PriceCents: 500}},
	})
	require.NoError(t, err)
	_, err = h.store.PaySuccess(context.Background(), order.ID)
	require.NoError(t, err)
	return order
}

func TestDrainImportsPaidOrderIntoLedger(t *testing.T) {
	h := newFlowHarness(t)
	order := h.payRollOrder(t)

	_, err := h.drain.Tick(context.Background())
	require.NoError(t, err)

	orders, err := h.ledger.List(context.Background(), "store-001", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1000), orders[0].TotalCents)
	assert.Equal(t, enums.OrderStatusPaid, orders[0].Status)
	require.NotNil(t, orders[0].StoreOrderID)
	assert.Equal(t, order.ID, *orders[0].StoreOrderID)

	count, err := h.queue.CountUndelivered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRedeliveredEventDoesNotDuplicateLedgerRow(t *testing.T) {
	h := newFlowHarness(t)
	h.payRollOrder(t)

	_, err := h.drain.Tick(context.Background())
	require.NoError(t, err)

	// Simulate a crash after import but before the ack: the event comes back.
	require.NoError(t, h.storeDB.DB().
		Model(&models.OutboxEvent{}).
		Where("1 = 1").
		Update("delivered", false).Error)

	_, err = h.drain.Tick(context.Background())
	require.NoError(t, err)

	orders, err := h.ledger.List(context.Background(), "store-001", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRefundFlowsThroughToLedgerCancellation(t *testing.T) {
	h := newFlowHarness(t)
	order := h.payRollOrder(t)

	_, err := h.store.Refund(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = h.drain.Tick(context.Background())
	require.NoError(t, err)

	orders, err := h.ledger.List(context.Background(), "store-001", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, enums.OrderStatusCancelled, orders[0].Status)
}

func TestCancellationArrivingFirstRetriesUntilCreationLands(t *testing.T) {
	h := newFlowHarness(t)
	storeOrderID := uuid.New()

	// Hand-craft the reordering: the cancellation sits ahead of the creation
	// in the queue.
	cancelled := mustMarshal(t, outbox.OrderCancelledPayload{
		StoreID:      "store-001",
		StoreOrderID: &storeOrderID,
	})
	created := mustMarshal(t, outbox.OrderCreatedPayload{
		StoreID:      "store-001",
		StoreOrderID: &storeOrderID,
		Items:        []outbox.OrderItemPayload{{SKU: "ROLL-1", Qty: 1, PriceCents: 500}},
		TotalCents:   500,
		Status:       enums.OrderStatusPaid,
	})
	require.NoError(t, h.storeDB.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := h.queue.InsertTx(tx, &models.OutboxEvent{Topic: enums.TopicOrderCancelled, Payload: cancelled}); err != nil {
			return err
		}
		return h.queue.InsertTx(tx, &models.OutboxEvent{Topic: enums.TopicOrderCreated, Payload: created})
	}))

	// First tick: the cancellation fails and waits, the creation imports.
	_, err := h.drain.Tick(context.Background())
	require.NoError(t, err)

	orders, err := h.ledger.List(context.Background(), "store-001", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, enums.OrderStatusPaid, orders[0].Status)

	count, err := h.queue.CountUndelivered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "cancellation should still be queued")

	// Second tick: the dependency is now satisfied.
	_, err = h.drain.Tick(context.Background())
	require.NoError(t, err)

	orders, err = h.ledger.List(context.Background(), "store-001", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, enums.OrderStatusCancelled, orders[0].Status)

	count, err = h.queue.CountUndelivered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMalformedEventLandsInCentralDLQ(t *testing.T) {
	h := newFlowHarness(t)

	require.NoError(t, h.storeDB.WithTx(context.Background(), func(tx *gorm.DB) error {
		return h.queue.InsertTx(tx, &models.OutboxEvent{
			Topic:   enums.TopicOrderCancelled,
			Payload: []byte(`{"store_id":"store-001"}`),
		})
	}))

	_, err := h.drain.Tick(context.Background())
	require.NoError(t, err)

	dlq, err := NewDLQRepository(h.central)
	require.NoError(t, err)
	entries, err := dlq.ListByStore(context.Background(), "store-001", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.DLQReasonNonRetryable, entries[0].ErrorReason)

	count, err := h.queue.CountUndelivered(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "dead-lettered event must not block the queue")
}
