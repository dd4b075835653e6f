package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-platform-api/internal/models"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
)

type reconcilerCourseStore interface {
	StartDue(ctx context.Context, now time.Time) (int64, error)
	FinishElapsed(ctx context.Context, now time.Time) (int64, error)
}

type reconciliationObserver interface {
	ObserveReconciliation(result models.ReconciliationResult, err error)
}

// ReconcilerService advances course lifecycle state on wall-clock time.
// Each run recomputes eligibility from the current clock, so runs are
// idempotent and carry no state between them.
type ReconcilerService struct {
	store    reconcilerCourseStore
	metrics  reconciliationObserver
	logger   *zap.Logger
	interval time.Duration

	mu sync.Mutex
}

// NewReconcilerService constructs ReconcilerService. metrics may be nil.
func NewReconcilerService(store reconcilerCourseStore, metrics reconciliationObserver, interval time.Duration, logger *zap.Logger) *ReconcilerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcilerService{store: store, metrics: metrics, interval: interval, logger: logger}
}

// Run applies both bulk lifecycle predicates once. Concurrent runs within
// the process are refused; concurrent admin transitions are tolerated
// because each bulk update filters on the current state.
func (s *ReconcilerService) Run(ctx context.Context) (models.ReconciliationResult, error) {
	if !s.mu.TryLock() {
		return models.ReconciliationResult{}, appErrors.Clone(appErrors.ErrConflict, "reconciliation already running")
	}
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var result models.ReconciliationResult

	started, err := s.store.StartDue(ctx, now)
	if err != nil {
		s.observe(result, err)
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start due courses")
	}
	result.Started = int(started)

	finished, err := s.store.FinishElapsed(ctx, now)
	if err != nil {
		s.observe(result, err)
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finish elapsed courses")
	}
	result.Finished = int(finished)

	s.observe(result, nil)
	if result.Started > 0 || result.Finished > 0 {
		s.logger.Sugar().Infow("reconciliation applied", "started", result.Started, "finished", result.Finished)
	}
	return result, nil
}

// Start runs once eagerly, then on every tick until the context is done.
// Errors are logged and the loop continues; the host process never dies
// because of a failed run.
func (s *ReconcilerService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	go func() {
		s.runLogged(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runLogged(ctx)
			}
		}
	}()
}

func (s *ReconcilerService) runLogged(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		s.logger.Sugar().Errorw("reconciliation run failed", "error", err)
	}
}

func (s *ReconcilerService) observe(result models.ReconciliationResult, err error) {
	if s.metrics != nil {
		s.metrics.ObserveReconciliation(result, err)
	}
}
