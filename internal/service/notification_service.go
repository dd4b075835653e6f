package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-platform-api/internal/models"
	"github.com/noah-isme/course-platform-api/pkg/config"
	appErrors "github.com/noah-isme/course-platform-api/pkg/errors"
	"github.com/noah-isme/course-platform-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID int64, page, size int) ([]models.Notification, int, error)
}

type deliveryObserver interface {
	ObserveNotificationDrop()
}

// NotificationService dispatches notifications asynchronously through a
// worker queue and serves the persisted feed.
type NotificationService struct {
	repo    notificationRepository
	queue   *jobs.Queue
	metrics deliveryObserver
	logger  *zap.Logger
}

// NewNotificationService constructs the service and its dispatch queue.
// metrics may be nil.
func NewNotificationService(repo notificationRepository, cfg config.NotificationsConfig, metrics deliveryObserver, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		OnDrop:     s.observeDrop,
		Logger:     logger,
	})
	return s
}

// Start boots the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues a notification for asynchronous delivery. It never
// returns an error: a full or stopped queue is logged and the notification
// dropped, because notification delivery must not affect the caller.
func (s *NotificationService) Dispatch(n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	job := jobs.Job{ID: n.ID, Type: string(n.Kind), Payload: n}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Sugar().Warnw("notification dropped", "user_id", n.UserID, "kind", n.Kind, "error", err)
		s.observeDrop(job, err)
	}
}

// ListForUser returns a user's notification feed.
func (s *NotificationService) ListForUser(ctx context.Context, userID int64, page, size int) ([]models.Notification, *models.Pagination, error) {
	notifications, total, err := s.repo.ListForUser(ctx, userID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return notifications, pagination, nil
}

func (s *NotificationService) observeDrop(_ jobs.Job, _ error) {
	if s.metrics != nil {
		s.metrics.ObserveNotificationDrop()
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected notification payload type %T", job.Payload)
	}
	if err := s.repo.Create(ctx, &n); err != nil {
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	return nil
}
