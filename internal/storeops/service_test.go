package storeops

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

func setupStoreTestDB(t *testing.T) *db.Client {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
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
	for _, stmt := range ddl {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return db.FromGorm(conn)
}

func newTestService(t *testing.T) (*Service, *outbox.Repository, *db.Client) {
	t.Helper()

	client := setupStoreTestDB(t)
	repo, err := NewRepository(client)
	require.NoError(t, err)
	outboxRepo, err := outbox.NewRepository(client)
	require.NoError(t, err)
	outboxSvc, err := outbox.NewService(outboxRepo)
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		StoreID: "store-001",
		DB:      client,
		Repo:    repo,
		Outbox:  outboxSvc,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return service, outboxRepo, client
}

func createRollOrder(t *testing.T, service *Service) *models.LocalOrder {
	t.Helper()
	order, err := service.CreateOrder(context.Background(), CreateOrderInput{
		Items: []CreateOrderItem{{SKU: "ROLL-1", Qty: 2, PriceCents: 500}},
	})
	require.NoError(t, err)
	return order
}

func TestCreateOrderComputesTotalAndGuest(t *testing.T) {
	service, _, _ := newTestService(t)

	order := createRollOrder(t, service)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, int64(1000), order.TotalCents)
	assert.True(t, order.IsGuest)
	assert.NotEqual(t, uuid.Nil, order.CustomerID)
}

func TestPaySuccessDecrementsStockAndEnqueuesOrderCreated(t *testing.T) {
	service, outboxRepo, _ := newTestService(t)
	require.NoError(t, service.SetStock(context.Background(), "ROLL-1", 5))

	order := createRollOrder(t, service)
	paid, err := service.PaySuccess(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, paid.Status)

	qty, err := service.Availability(context.Background(), "ROLL-1")
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	events, err := outboxRepo.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.TopicOrderCreated, events[0].Topic)

	payload, err := outbox.DecodeOrderCreated(events[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "store-001", payload.StoreID)
	require.NotNil(t, payload.StoreOrderID)
	assert.Equal(t, order.ID, *payload.StoreOrderID)
	assert.Equal(t, int64(1000), payload.TotalCents)
}

func TestPaySuccessIsIdempotentForPaidOrders(t *testing.T) {
	service, outboxRepo, _ := newTestService(t)
	require.NoError(t, service.SetStock(context.Background(), "ROLL-1", 5))

	order := createRollOrder(t, service)
	_, err := service.PaySuccess(context.Background(), order.ID)
	require.NoError(t, err)
	_, err = service.PaySuccess(context.Background(), order.ID)
	require.NoError(t, err)

	qty, err := service.Availability(context.Background(), "ROLL-1")
	require.NoError(t, err)
	assert.Equal(t, 3, qty, "replayed confirmation must not decrement twice")

	events, err := outboxRepo.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "replayed confirmation must not enqueue twice")
}

func TestPaySuccessRollsBackOnInsufficientStock(t *testing.T) {
	service, outboxRepo, _ := newTestService(t)
	require.NoError(t, service.SetStock(context.Background(), "ROLL-1", 1))

	order := createRollOrder(t, service)
	_, err := service.PaySuccess(context.Background(), order.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	// The whole transition rolled back: status, stock and outbox untouched.
	reloaded, err := service.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)

	qty, err := service.Availability(context.Background(), "ROLL-1")
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	events, err := outboxRepo.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRefundEnqueuesOrderCancelledAndRestocks(t *testing.T) {
	service, outboxRepo, _ := newTestService(t)
	require.NoError(t, service.SetStock(context.Background(), "ROLL-1", 5))

	order := createRollOrder(t, service)
	_, err := service.PaySuccess(context.Background(), order.ID)
	require.NoError(t, err)

	refunded, err := service.Refund(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, refunded.Status)

	qty, err := service.Availability(context.Background(), "ROLL-1")
	require.NoError(t, err)
	assert.Equal(t, 5, qty)

	events, err := outboxRepo.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, enums.TopicOrderCancelled, events[1].Topic)

	payload, err := outbox.DecodeOrderCancelled(events[1].Payload)
	require.NoError(t, err)
	require.NotNil(t, payload.StoreOrderID)
	assert.Equal(t, order.ID, *payload.StoreOrderID)
}

func TestRefundRejectsPendingOrders(t *testing.T) {
	service, _, _ := newTestService(t)

	order := createRollOrder(t, service)
	_, err := service.Refund(context.Background(), order.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestPayFailureCancelsWithoutTouchingStockOrOutbox(t *testing.T) {
	service, outboxRepo, _ := newTestService(t)
	require.NoError(t, service.SetStock(context.Background(), "ROLL-1", 5))

	order := createRollOrder(t, service)
	cancelled, err := service.PayFailure(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	qty, err := service.Availability(context.Background(), "ROLL-1")
	require.NoError(t, err)
	assert.Equal(t, 5, qty)

	events, err := outboxRepo.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
