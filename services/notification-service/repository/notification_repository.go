package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
)

// ErrNotFound is returned when a notification does not exist or the user is
// not one of its recipients.
var ErrNotFound = errors.New("notification not found")

type NotificationRepository interface {
	Create(ctx context.Context, rec *models.NotificationRecord) error
	ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, int64, error)
	MarkRead(ctx context.Context, id uuid.UUID, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

func normalizePage(f *models.NotificationFilter) {
	if f.PageSize < 1 {
		f.PageSize = 10
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	if f.Page < 1 {
		f.Page = 1
	}
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

const (
	recipientClause = "? = ANY(recipients)"
	unreadClause    = "? = ANY(recipients) AND NOT (? = ANY(read_by))"
)

func (r *notificationRepository) Create(ctx context.Context, rec *models.NotificationRecord) error {
	if rec.ReadBy == nil {
		rec.ReadBy = []string{}
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *notificationRepository) ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, int64, error) {
	normalizePage(&filter)

	query := r.db.WithContext(ctx).Model(&models.NotificationRecord{})
	if filter.UnreadOnly {
		query = query.Where(unreadClause, filter.UserID, filter.UserID)
	} else {
		query = query.Where(recipientClause, filter.UserID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	records := []models.NotificationRecord{}
	err := query.Order("created_at DESC").
		Limit(filter.PageSize).
		Offset((filter.Page - 1) * filter.PageSize).
		Find(&records).Error
	return records, total, err
}

// MarkRead appends userID to read_by once. Marking an already read
// notification succeeds without changing it.
func (r *notificationRepository) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	res := r.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ? AND "+unreadClause, id, userID, userID).
		Update("read_by", gorm.Expr("array_append(read_by, ?)", userID))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ? AND "+recipientClause, id, userID).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where(unreadClause, userID, userID).
		Update("read_by", gorm.Expr("array_append(read_by, ?)", userID))
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where(unreadClause, userID, userID).
		Count(&n).Error
	return n, err
}
