package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-platform-api/internal/models"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
)

// mockCourseStore hands out its pending counts once, then reports zero,
// mirroring a store where each eligible row is advanced exactly once.
type mockCourseStore struct {
	mu            sync.Mutex
	pendingStart  int64
	pendingFinish int64
	startErr      error
	finishErr     error
	entered       chan struct{}
	blockStart    chan struct{}
}

func (m *mockCourseStore) StartDue(ctx context.Context, now time.Time) (int64, error) {
	if m.entered != nil {
		close(m.entered)
	}
	if m.blockStart != nil {
		<-m.blockStart
	}
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.pendingStart
	m.pendingStart = 0
	return n, nil
}

func (m *mockCourseStore) FinishElapsed(ctx context.Context, now time.Time) (int64, error) {
	if m.finishErr != nil {
		return 0, m.finishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.pendingFinish
	m.pendingFinish = 0
	return n, nil
}

type mockReconciliationObserver struct {
	mu      sync.Mutex
	results []models.ReconciliationResult
	errs    []error
}

func (m *mockReconciliationObserver) ObserveReconciliation(result models.ReconciliationResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	m.errs = append(m.errs, err)
}

func TestReconcilerServiceRun(t *testing.T) {
	store := &mockCourseStore{pendingStart: 2, pendingFinish: 1}
	observer := &mockReconciliationObserver{}
	svc := NewReconcilerService(store, observer, time.Hour, zap.NewNop())

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationResult{Started: 2, Finished: 1}, result)
	require.Len(t, observer.results, 1)
	assert.NoError(t, observer.errs[0])
}

func TestReconcilerServiceRunIdempotent(t *testing.T) {
	store := &mockCourseStore{pendingStart: 3, pendingFinish: 2}
	svc := NewReconcilerService(store, nil, time.Hour, zap.NewNop())

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationResult{Started: 3, Finished: 2}, first)

	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationResult{}, second)
}

func TestReconcilerServiceRunStoreFailure(t *testing.T) {
	store := &mockCourseStore{startErr: errors.New("connection reset")}
	observer := &mockReconciliationObserver{}
	svc := NewReconcilerService(store, observer, time.Hour, zap.NewNop())

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	require.Len(t, observer.errs, 1)
	assert.Error(t, observer.errs[0])
}

func TestReconcilerServiceRunFinishFailure(t *testing.T) {
	store := &mockCourseStore{pendingStart: 1, finishErr: errors.New("connection reset")}
	svc := NewReconcilerService(store, nil, time.Hour, zap.NewNop())

	result, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, result.Started)
	assert.Equal(t, 0, result.Finished)
}

func TestReconcilerServiceRefusesOverlappingRuns(t *testing.T) {
	store := &mockCourseStore{entered: make(chan struct{}), blockStart: make(chan struct{})}
	svc := NewReconcilerService(store, nil, time.Hour, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Run(context.Background())
	}()

	// Wait until the first run holds the slot.
	<-store.entered

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	close(store.blockStart)
	<-done
}

func TestReconcilerServiceStartRunsEagerly(t *testing.T) {
	store := &mockCourseStore{pendingStart: 1}
	observer := &mockReconciliationObserver{}
	svc := NewReconcilerService(store, observer, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	require.Eventually(t, func() bool {
		observer.mu.Lock()
		defer observer.mu.Unlock()
		return len(observer.results) >= 1
	}, time.Second, 5*time.Millisecond)

	observer.mu.Lock()
	assert.Equal(t, models.ReconciliationResult{Started: 1, Finished: 0}, observer.results[0])
	observer.mu.Unlock()
}

func TestReconcilerServiceStartDisabledWithoutInterval(t *testing.T) {
	store := &mockCourseStore{pendingStart: 1}
	observer := &mockReconciliationObserver{}
	svc := NewReconcilerService(store, observer, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	observer.mu.Lock()
	assert.Empty(t, observer.results)
	observer.mu.Unlock()
}
