package mirror

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bakeline/storesync-backend/internal/drain"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/db/models"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/metrics"
)

const (
	pollerName = "mirror"

	defaultPollInterval = 5 * time.Second
)

// stockSource reads a store's authoritative stock levels.
type stockSource interface {
	StockSnapshot(ctx context.Context) ([]models.LocalStock, error)
}

type ServiceParams struct {
	StoreID      string
	Logger       *logger.Logger
	Central      *db.Client
	Repo         *Repository
	Source       stockSource
	Lock         drain.Lock
	Metrics      *metrics.PollerMetrics
	PollInterval time.Duration
}

// Service keeps the central stock mirror converged on one store's local stock.
// The periodic tick upserts; Reset additionally prunes rows for SKUs the store
// no longer carries.
type Service struct {
	storeID      string
	logg         *logger.Logger
	central      *db.Client
	repo         *Repository
	source       stockSource
	lock         drain.Lock
	metrics      *metrics.PollerMetrics
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.StoreID == "" {
		return nil, errors.New("store id is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Central == nil {
		return nil, errors.New("central db client is required")
	}
	if params.Repo == nil {
		return nil, errors.New("mirror repository is required")
	}
	if params.Source == nil {
		return nil, errors.New("stock source is required")
	}

	lock := params.Lock
	if lock == nil {
		lock = drain.NoopLock{}
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Service{
		storeID:      params.StoreID,
		logg:         params.Logger,
		central:      params.Central,
		repo:         params.Repo,
		source:       params.Source,
		lock:         lock,
		metrics:      params.Metrics,
		pollInterval: interval,
	}, nil
}

// Run pulls the store's stock on a fixed cadence until the context is
// canceled. A failed tick is logged and retried on the next cadence; stale
// mirror reads are acceptable between ticks.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithStoreID(ctx, s.storeID)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "mirror poller context canceled")
			return ctx.Err()
		case <-ticker.C:
		}

		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			s.logg.Error(ctx, "mirror lock acquire failed", err)
			continue
		}
		if !acquired {
			continue
		}

		if err := s.SyncNow(ctx); err != nil {
			s.logg.Error(ctx, "mirror tick failed", err)
		}
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "mirror lock release failed")
		}
	}
}

// SyncNow reads the store's full stock and upserts it into the mirror in one
// central transaction. Rows for SKUs absent from the snapshot are left alone;
// use Reset to prune them. Every sync records a tick, whether it came from the
// poll loop or a manual trigger.
func (s *Service) SyncNow(ctx context.Context) error {
	start := time.Now()
	err := s.syncOnce(ctx)
	s.metrics.ObserveTick(pollerName, s.storeID, time.Since(start))
	if err != nil {
		s.metrics.IncFailure(pollerName, s.storeID)
		return err
	}
	s.metrics.IncSuccess(pollerName, s.storeID)
	return nil
}

func (s *Service) syncOnce(ctx context.Context) error {
	snapshot, err := s.source.StockSnapshot(ctx)
	if err != nil {
		return err
	}
	rows := s.mirrorRows(snapshot)

	return s.central.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.UpsertTx(tx, rows)
	})
}

// Reset rebuilds the store's mirror slice from scratch: delete then insert in
// one transaction, so readers never observe a partially cleared store.
func (s *Service) Reset(ctx context.Context) error {
	snapshot, err := s.source.StockSnapshot(ctx)
	if err != nil {
		return err
	}
	rows := s.mirrorRows(snapshot)

	err = s.central.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.DeleteStoreTx(tx, s.storeID); err != nil {
			return err
		}
		return s.repo.UpsertTx(tx, rows)
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithFields(s.logg.WithStoreID(ctx, s.storeID), map[string]any{
		"row_count": len(rows),
	}), "stock mirror reset")
	return nil
}

func (s *Service) mirrorRows(snapshot []models.LocalStock) []models.StockMirrorRow {
	now := time.Now().UTC()
	rows := make([]models.StockMirrorRow, 0, len(snapshot))
	for _, stock := range snapshot {
		rows = append(rows, models.StockMirrorRow{
			StoreID:   s.storeID,
			SKU:       stock.SKU,
			Qty:       stock.Qty,
			UpdatedAt: now,
		})
	}
	return rows
}
