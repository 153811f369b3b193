package drain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/enums"
	pkgerrors "github.com/bakeline/storesync-backend/pkg/errors"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/metrics"
)

const (
	pollerName = "drain"

	defaultBatchSize    = 20
	defaultPollInterval = 3 * time.Second
	defaultMaxAttempts  = 10
	maxBackoff          = 30 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type outboxQueue interface {
	FetchUndelivered(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	CountUndelivered(ctx context.Context) (int64, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
	MarkWaiting(ctx context.Context, id int64, message string) error
	MarkDeadLettered(ctx context.Context, id int64, message string) error
}

type eventImporter interface {
	ImportOrderCreated(ctx context.Context, payload outbox.OrderCreatedPayload) (uuid.UUID, error)
	ApplyCancellation(ctx context.Context, payload outbox.OrderCancelledPayload) error
}

type dlqRecorder interface {
	Insert(ctx context.Context, entry models.OutboxDLQ) error
}

type ServiceParams struct {
	StoreID      string
	Logger       *logger.Logger
	Queue        outboxQueue
	Importer     eventImporter
	DLQ          dlqRecorder
	Lock         Lock
	Metrics      *metrics.PollerMetrics
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
}

// Service drains one store's outbox into the central ledger. Events are applied
// oldest first; one bad event never blocks the rest of the batch, and events
// the importer cannot apply yet are retried on later ticks.
type Service struct {
	storeID      string
	logg         *logger.Logger
	queue        outboxQueue
	importer     eventImporter
	dlq          dlqRecorder
	lock         Lock
	metrics      *metrics.PollerMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.StoreID == "" {
		return nil, errors.New("store id is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Queue == nil {
		return nil, errors.New("outbox queue is required")
	}
	if params.Importer == nil {
		return nil, errors.New("event importer is required")
	}
	if params.DLQ == nil {
		return nil, errors.New("dlq recorder is required")
	}

	lock := params.Lock
	if lock == nil {
		lock = NoopLock{}
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Service{
		storeID:      params.StoreID,
		logg:         params.Logger,
		queue:        params.Queue,
		importer:     params.Importer,
		dlq:          params.DLQ,
		lock:         lock,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: interval,
	}, nil
}

// Run polls until the context is canceled. Ticks are serialized by
// construction; the lock keeps concurrent worker instances off the same store.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithStoreID(ctx, s.storeID)
	backoff := s.pollInterval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "drain poller context canceled")
			return ctx.Err()
		default:
		}

		acquired, err := s.lock.Acquire(ctx)
		if err == nil && !acquired {
			if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
				return err
			}
			continue
		}

		var processed bool
		if err == nil {
			processed, err = s.timedTick(ctx)
			if relErr := s.lock.Release(ctx); relErr != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", relErr.Error()), "drain lock release failed")
			}
		}

		if err != nil {
			s.logg.Error(ctx, "drain tick failed", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.pollInterval

		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

func (s *Service) timedTick(ctx context.Context) (bool, error) {
	start := time.Now()
	processed, err := s.Tick(ctx)
	s.metrics.ObserveTick(pollerName, s.storeID, time.Since(start))
	if err != nil {
		s.metrics.IncFailure(pollerName, s.storeID)
	} else {
		s.metrics.IncSuccess(pollerName, s.storeID)
	}
	return processed, err
}

// Tick drains one batch. It reports whether any event was settled, meaning
// delivered or dead-lettered, so the caller polls again immediately only while
// the backlog is actually moving. A batch that only fails or waits leaves the
// retry cadence to the poll interval; otherwise a stuck event would be
// refetched back to back and burn its attempt budget with no delay between
// tries.
func (s *Service) Tick(ctx context.Context) (bool, error) {
	events, err := s.queue.FetchUndelivered(ctx, s.batchSize)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		s.metrics.SetBacklog(s.storeID, 0)
		return false, nil
	}

	settled := 0
	for _, event := range events {
		ok, err := s.processEvent(ctx, event)
		if err != nil {
			return settled > 0, err
		}
		if ok {
			settled++
		}
	}

	if backlog, err := s.queue.CountUndelivered(ctx); err == nil {
		s.metrics.SetBacklog(s.storeID, int(backlog))
	}
	return settled > 0, nil
}

// processEvent applies one event and settles its outbox row, reporting whether
// the event left the undelivered set. The returned error is infrastructural (a
// mark or dlq write failed) and aborts the batch; apply failures are absorbed
// into the row's status columns instead.
func (s *Service) processEvent(ctx context.Context, event models.OutboxEvent) (bool, error) {
	ctx = s.logg.WithOutboxID(ctx, event.ID)
	ctx = s.logg.WithField(ctx, "topic", event.Topic)

	applyErr := s.apply(ctx, event)
	if applyErr == nil {
		if err := s.queue.MarkDelivered(ctx, event.ID); err != nil {
			return false, fmt.Errorf("mark delivered %d: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event applied")
		return true, nil
	}

	ctx = s.logg.WithField(ctx, "error", applyErr.Error())

	switch pkgerrors.As(applyErr).Code() {
	case pkgerrors.CodeValidation:
		if err := s.deadLetter(ctx, event, enums.DLQReasonNonRetryable, event.AttemptCount, applyErr); err != nil {
			return false, err
		}
		return true, nil

	case pkgerrors.CodeDependency:
		// Waiting on an earlier event to land; retried without burning an
		// attempt so reordering can never dead-letter a valid event.
		s.logg.Warn(ctx, "outbox event waiting on dependency")
		if err := s.queue.MarkWaiting(ctx, event.ID, applyErr.Error()); err != nil {
			return false, fmt.Errorf("mark waiting %d: %w", event.ID, err)
		}
		return false, nil

	default:
		nextAttempt := event.AttemptCount + 1
		if nextAttempt >= s.maxAttempts {
			terminalErr := fmt.Errorf("max delivery attempts reached: %w", applyErr)
			if err := s.deadLetter(ctx, event, enums.DLQReasonMaxAttempts, nextAttempt, terminalErr); err != nil {
				return false, err
			}
			return true, nil
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt_count", nextAttempt), "outbox event apply failed")
		if err := s.queue.MarkFailed(ctx, event.ID, applyErr.Error()); err != nil {
			return false, fmt.Errorf("mark failed %d: %w", event.ID, err)
		}
		return false, nil
	}
}

func (s *Service) apply(ctx context.Context, event models.OutboxEvent) error {
	switch event.Topic {
	case enums.TopicOrderCreated:
		payload, err := outbox.DecodeOrderCreated(event.Payload)
		if err != nil {
			return err
		}
		_, err = s.importer.ImportOrderCreated(ctx, payload)
		return err

	case enums.TopicOrderCancelled:
		payload, err := outbox.DecodeOrderCancelled(event.Payload)
		if err != nil {
			return err
		}
		return s.importer.ApplyCancellation(ctx, payload)

	default:
		// Unknown topics are acked so they can never wedge the queue. The row
		// keeps its payload for later inspection.
		s.logg.Warn(ctx, "unknown outbox topic, acking without action")
		return nil
	}
}

// deadLetter records the event centrally, then acks the store row with the
// terminal error kept on it. If the worker dies between the two writes the
// event is redelivered and the dlq gets a duplicate row, never a lost event.
func (s *Service) deadLetter(ctx context.Context, event models.OutboxEvent, reason enums.DLQErrorReason, attempts int, cause error) error {
	message := cause.Error()
	entry := models.OutboxDLQ{
		ID:           uuid.New(),
		StoreID:      s.storeID,
		OutboxID:     event.ID,
		Topic:        event.Topic,
		Payload:      event.Payload,
		ErrorReason:  reason,
		ErrorMessage: &message,
		AttemptCount: attempts,
		FailedAt:     time.Now().UTC(),
	}
	if err := s.dlq.Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert dlq %d: %w", event.ID, err)
	}
	if err := s.queue.MarkDeadLettered(ctx, event.ID, message); err != nil {
		return fmt.Errorf("mark dead-lettered %d: %w", event.ID, err)
	}
	s.logg.Warn(s.logg.WithField(ctx, "error_reason", reason), "outbox event dead-lettered")
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
