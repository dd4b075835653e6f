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
	"github.com/noah-isme/course-platform-api/pkg/config"
)

type mockNotificationRepo struct {
	mu        sync.Mutex
	created   []models.Notification
	createErr error
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, *n)
	return nil
}

func (m *mockNotificationRepo) ListForUser(ctx context.Context, userID int64, page, size int) ([]models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Notification
	for _, n := range m.created {
		if n.UserID == userID {
			list = append(list, n)
		}
	}
	return list, len(list), nil
}

type mockDeliveryObserver struct {
	mu    sync.Mutex
	drops int
}

func (m *mockDeliveryObserver) ObserveNotificationDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops++
}

func (m *mockDeliveryObserver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

func notificationTestConfig() config.NotificationsConfig {
	return config.NotificationsConfig{Workers: 1, BufferSize: 4, MaxRetries: 1, RetryDelay: 10 * time.Millisecond}
}

func TestNotificationServiceDispatchPersists(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := NewNotificationService(repo, notificationTestConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.Dispatch(models.Notification{
		UserID:  1,
		Kind:    models.NotificationKindEnrollmentApproved,
		Message: "Your enrollment has been approved",
	})

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.created) == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	assert.NotEmpty(t, repo.created[0].ID)
	assert.Equal(t, int64(1), repo.created[0].UserID)
	repo.mu.Unlock()
}

func TestNotificationServiceDispatchNeverFailsCaller(t *testing.T) {
	repo := &mockNotificationRepo{createErr: errors.New("sink unavailable")}
	svc := NewNotificationService(repo, notificationTestConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	// Dispatch has no error return; a broken sink must not panic or block.
	svc.Dispatch(models.Notification{UserID: 1, Kind: models.NotificationKindEnrollmentRejected, Message: "rejected"})
}

func TestNotificationServiceDispatchBeforeStartIsDropped(t *testing.T) {
	repo := &mockNotificationRepo{}
	observer := &mockDeliveryObserver{}
	svc := NewNotificationService(repo, notificationTestConfig(), observer, zap.NewNop())

	svc.Dispatch(models.Notification{UserID: 1, Kind: models.NotificationKindEnrollmentApproved, Message: "approved"})

	repo.mu.Lock()
	assert.Empty(t, repo.created)
	repo.mu.Unlock()
	assert.Equal(t, 1, observer.count())
}

func TestNotificationServiceCountsDropsAfterRetriesExhausted(t *testing.T) {
	repo := &mockNotificationRepo{createErr: errors.New("sink unavailable")}
	observer := &mockDeliveryObserver{}
	svc := NewNotificationService(repo, notificationTestConfig(), observer, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	svc.Dispatch(models.Notification{UserID: 1, Kind: models.NotificationKindEnrollmentApproved, Message: "approved"})

	require.Eventually(t, func() bool {
		return observer.count() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationServiceListForUser(t *testing.T) {
	repo := &mockNotificationRepo{created: []models.Notification{
		{ID: "n1", UserID: 1, Kind: models.NotificationKindEnrollmentApproved},
		{ID: "n2", UserID: 2, Kind: models.NotificationKindEnrollmentRejected},
	}}
	svc := NewNotificationService(repo, notificationTestConfig(), nil, zap.NewNop())

	list, pagination, err := svc.ListForUser(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}
