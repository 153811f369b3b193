package drain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
)

type fakeQueue struct {
	events []models.OutboxEvent

	fetchCalls   int
	delivered    []int64
	failed       []int64
	waiting      []int64
	deadLettered []int64
}

func (q *fakeQueue) FetchUndelivered(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	q.fetchCalls++
	if limit > len(q.events) {
		limit = len(q.events)
	}
	return q.events[:limit], nil
}

func (q *fakeQueue) CountUndelivered(ctx context.Context) (int64, error) {
	return int64(len(q.events)), nil
}

func (q *fakeQueue) MarkDelivered(ctx context.Context, id int64) error {
	q.delivered = append(q.delivered, id)
	return nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, id int64, message string) error {
	q.failed = append(q.failed, id)
	return nil
}

func (q *fakeQueue) MarkWaiting(ctx context.Context, id int64, message string) error {
	q.waiting = append(q.waiting, id)
	return nil
}

func (q *fakeQueue) MarkDeadLettered(ctx context.Context, id int64, message string) error {
	q.deadLettered = append(q.deadLettered, id)
	return nil
}

type fakeImporter struct {
	// createdErrs maps store_order_id strings to the error to return.
	createdErrs map[string]error
	cancelErr   error

	imported  []outbox.OrderCreatedPayload
	cancelled []outbox.OrderCancelledPayload
}

func (i *fakeImporter) ImportOrderCreated(ctx context.Context, payload outbox.OrderCreatedPayload) (uuid.UUID, error) {
	if payload.StoreOrderID != nil {
		if err, ok := i.createdErrs[payload.StoreOrderID.String()]; ok && err != nil {
			return uuid.Nil, err
		}
	}
	i.imported = append(i.imported, payload)
	return uuid.New(), nil
}

func (i *fakeImporter) ApplyCancellation(ctx context.Context, payload outbox.OrderCancelledPayload) error {
	if i.cancelErr != nil {
		return i.cancelErr
	}
	i.cancelled = append(i.cancelled, payload)
	return nil
}

type fakeDLQ struct {
	entries []models.OutboxDLQ
}

func (d *fakeDLQ) Insert(ctx context.Context, entry models.OutboxDLQ) error {
	d.entries = append(d.entries, entry)
	return nil
}

func newTestService(t *testing.T, queue *fakeQueue, importer *fakeImporter, dlq *fakeDLQ, maxAttempts int) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		StoreID:     "store-001",
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Queue:       queue,
		Importer:    importer,
		DLQ:         dlq,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func createdEvent(t *testing.T, id int64, storeOrderID uuid.UUID, attempts int) models.OutboxEvent {
	t.Helper()
	payload := outbox.OrderCreatedPayload{
		StoreID:      "store-001",
		StoreOrderID: &storeOrderID,
		Items:        []outbox.OrderItemPayload{{SKU: "ROLL-1", Qty: 2, PriceCents: 500}},
		TotalCents:   1000,
		Status:       enums.OrderStatusPaid,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.OutboxEvent{ID: id, Topic: enums.TopicOrderCreated, Payload: raw, AttemptCount: attempts}
}

func TestTickContinuesAfterEventFailure(t *testing.T) {
	failing := uuid.New()
	queue := &fakeQueue{events: []models.OutboxEvent{
		createdEvent(t, 1, uuid.New(), 0),
		createdEvent(t, 2, failing, 0),
		createdEvent(t, 3, uuid.New(), 0),
	}}
	importer := &fakeImporter{createdErrs: map[string]error{
		failing.String(): fmt.Errorf("central db timeout"),
	}}
	service := newTestService(t, queue, importer, &fakeDLQ{}, 10)

	processed, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected tick to report processed")
	}
	if got := len(queue.delivered); got != 2 {
		t.Fatalf("delivered %d events, want 2", got)
	}
	if queue.delivered[0] != 1 || queue.delivered[1] != 3 {
		t.Fatalf("delivered wrong events: %v", queue.delivered)
	}
	if len(queue.failed) != 1 || queue.failed[0] != 2 {
		t.Fatalf("failed wrong events: %v", queue.failed)
	}
}

func TestTickAcksUnknownTopic(t *testing.T) {
	queue := &fakeQueue{events: []models.OutboxEvent{
		{ID: 7, Topic: enums.Topic("loyalty.points"), Payload: json.RawMessage(`{"points":5}`)},
	}}
	importer := &fakeImporter{}
	service := newTestService(t, queue, importer, &fakeDLQ{}, 10)

	if _, err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if len(queue.delivered) != 1 || queue.delivered[0] != 7 {
		t.Fatalf("unknown topic not acked: %v", queue.delivered)
	}
	if len(importer.imported) != 0 || len(importer.cancelled) != 0 {
		t.Fatalf("importer should not be called for unknown topics")
	}
}

func TestTickRetriesDependencyWithoutBurningAttempts(t *testing.T) {
	storeOrderID := uuid.New()
	payload, _ := json.Marshal(outbox.OrderCancelledPayload{StoreID: "store-001", StoreOrderID: &storeOrderID})
	queue := &fakeQueue{events: []models.OutboxEvent{
		{ID: 4, Topic: enums.TopicOrderCancelled, Payload: payload, AttemptCount: 99},
	}}
	importer := &fakeImporter{cancelErr: pkgerrors.New(pkgerrors.CodeDependency, "order not imported yet")}
	dlq := &fakeDLQ{}
	service := newTestService(t, queue, importer, dlq, 3)

	processed, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if processed {
		t.Fatalf("waiting-only batch should report idle so the next try waits a full interval")
	}
	if len(queue.waiting) != 1 || queue.waiting[0] != 4 {
		t.Fatalf("expected event to be marked waiting, got %v", queue.waiting)
	}
	if len(queue.failed) != 0 || len(queue.deadLettered) != 0 || len(dlq.entries) != 0 {
		t.Fatalf("dependency retries must not count attempts or dead-letter")
	}

	// Once the creation lands, the retry goes through.
	importer.cancelErr = nil
	processed, err = service.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick returned error: %v", err)
	}
	if !processed {
		t.Fatalf("delivering tick should report progress")
	}
	if len(queue.delivered) != 1 || queue.delivered[0] != 4 {
		t.Fatalf("expected cancellation to deliver after dependency resolved")
	}
}

func TestTickDeadLettersMalformedPayload(t *testing.T) {
	queue := &fakeQueue{events: []models.OutboxEvent{
		{ID: 9, Topic: enums.TopicOrderCreated, Payload: json.RawMessage(`{"items":`)},
	}}
	dlq := &fakeDLQ{}
	service := newTestService(t, queue, &fakeImporter{}, dlq, 10)

	if _, err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.DLQReasonNonRetryable {
		t.Fatalf("wrong dlq reason: %s", dlq.entries[0].ErrorReason)
	}
	if len(queue.deadLettered) != 1 || queue.deadLettered[0] != 9 {
		t.Fatalf("outbox row not acked after dead-lettering: %v", queue.deadLettered)
	}
}

func TestTickDeadLettersAfterMaxAttempts(t *testing.T) {
	failing := uuid.New()
	queue := &fakeQueue{events: []models.OutboxEvent{
		createdEvent(t, 5, failing, 2),
	}}
	importer := &fakeImporter{createdErrs: map[string]error{
		failing.String(): errors.New("central db down"),
	}}
	dlq := &fakeDLQ{}
	service := newTestService(t, queue, importer, dlq, 3)

	if _, err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.ErrorReason != enums.DLQReasonMaxAttempts {
		t.Fatalf("wrong dlq reason: %s", entry.ErrorReason)
	}
	if entry.OutboxID != 5 || entry.StoreID != "store-001" {
		t.Fatalf("dlq entry references wrong event: %+v", entry)
	}
	if entry.AttemptCount != 3 {
		t.Fatalf("dlq entry attempt count = %d, want 3", entry.AttemptCount)
	}
	if len(queue.deadLettered) != 1 || queue.deadLettered[0] != 5 {
		t.Fatalf("outbox row not acked after dead-lettering: %v", queue.deadLettered)
	}
}

func TestTickReportsIdleWhenNothingSettles(t *testing.T) {
	failing := uuid.New()
	queue := &fakeQueue{events: []models.OutboxEvent{createdEvent(t, 11, failing, 0)}}
	importer := &fakeImporter{createdErrs: map[string]error{
		failing.String(): errors.New("central db timeout"),
	}}
	service := newTestService(t, queue, importer, &fakeDLQ{}, 10)

	processed, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if processed {
		t.Fatalf("batch with no settled events must report idle")
	}
	if len(queue.failed) != 1 || queue.failed[0] != 11 {
		t.Fatalf("failed wrong events: %v", queue.failed)
	}
}

func TestRunWaitsFullIntervalBetweenFailingRetries(t *testing.T) {
	failing := uuid.New()
	queue := &fakeQueue{events: []models.OutboxEvent{createdEvent(t, 12, failing, 0)}}
	importer := &fakeImporter{createdErrs: map[string]error{
		failing.String(): errors.New("central db timeout"),
	}}
	dlq := &fakeDLQ{}
	service := newTestService(t, queue, importer, dlq, 10)
	service.pollInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := service.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run returned %v, want deadline exceeded", err)
	}

	// One fetch, one attempt; the loop must sit out the interval instead of
	// refetching the stuck event back to back.
	if queue.fetchCalls != 1 {
		t.Fatalf("failing event refetched %d times without waiting, want 1", queue.fetchCalls)
	}
	if len(queue.failed) != 1 {
		t.Fatalf("attempt budget burned: %d mark-failed calls, want 1", len(queue.failed))
	}
	if len(dlq.entries) != 0 {
		t.Fatalf("transient failure must not dead-letter, got %d entries", len(dlq.entries))
	}
}

func TestTickEmptyQueueReportsIdle(t *testing.T) {
	service := newTestService(t, &fakeQueue{}, &fakeImporter{}, &fakeDLQ{}, 10)

	processed, err := service.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick returned error: %v", err)
	}
	if processed {
		t.Fatalf("empty queue should report idle")
	}
}
