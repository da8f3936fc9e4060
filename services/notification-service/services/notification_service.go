package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/repository"
)

type NotificationPage struct {
	Items []models.UserNotification
	Total int64
}

// NotificationService is the read side a signed-in user sees.
type NotificationService interface {
	List(ctx context.Context, filter models.NotificationFilter) (NotificationPage, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type notificationService struct {
	repo   repository.NotificationRepository
	logger *zap.Logger
}

func NewNotificationService(repo repository.NotificationRepository, logger *zap.Logger) NotificationService {
	return &notificationService{repo: repo, logger: logger}
}

func (s *notificationService) List(ctx context.Context, filter models.NotificationFilter) (NotificationPage, error) {
	if filter.UserID == "" {
		return NotificationPage{}, apperrors.ErrUnauthorized
	}
	records, total, err := s.repo.ListForUser(ctx, filter)
	if err != nil {
		s.logger.Error("list notifications failed", zap.String("user_id", filter.UserID), zap.Error(err))
		return NotificationPage{}, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	items := make([]models.UserNotification, 0, len(records))
	for i := range records {
		items = append(items, records[i].ForUser(filter.UserID))
	}
	return NotificationPage{Items: items, Total: total}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID string) error {
	nid, err := uuid.Parse(id)
	if err != nil {
		return apperrors.New(apperrors.ErrBadRequest.Code, "invalid notification id", err)
	}
	switch err := s.repo.MarkRead(ctx, nid, userID); {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.Wrap(apperrors.ErrNotFound, err)
	default:
		s.logger.Error("mark notification read failed", zap.String("id", id), zap.Error(err))
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		s.logger.Error("mark all read failed", zap.String("user_id", userID), zap.Error(err))
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return n, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return n, nil
}
