package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
)

// MemoryNotificationRepository keeps records in process. It backs local runs
// without Postgres and the pipeline tests.
type MemoryNotificationRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.NotificationRecord
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{records: make(map[uuid.UUID]*models.NotificationRecord)}
}

func clone(rec *models.NotificationRecord) models.NotificationRecord {
	out := *rec
	out.Recipients = append([]string(nil), rec.Recipients...)
	out.ReadBy = append([]string{}, rec.ReadBy...)
	out.Payload = append([]byte(nil), rec.Payload...)
	return out
}

func (r *MemoryNotificationRepository) Create(ctx context.Context, rec *models.NotificationRecord) error {
	if rec.ReadBy == nil {
		rec.ReadBy = []string{}
	}
	c := clone(rec)
	r.mu.Lock()
	r.records[rec.ID] = &c
	r.mu.Unlock()
	return nil
}

func (r *MemoryNotificationRepository) ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, int64, error) {
	normalizePage(&filter)

	r.mu.RLock()
	var matched []models.NotificationRecord
	for _, rec := range r.records {
		if !rec.IsRecipient(filter.UserID) {
			continue
		}
		if filter.UnreadOnly && rec.IsReadBy(filter.UserID) {
			continue
		}
		matched = append(matched, clone(rec))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(matched) {
		return []models.NotificationRecord{}, total, nil
	}
	end := min(start+filter.PageSize, len(matched))
	return matched[start:end], total, nil
}

func (r *MemoryNotificationRepository) MarkRead(ctx context.Context, id uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || !rec.IsRecipient(userID) {
		return ErrNotFound
	}
	if !rec.IsReadBy(userID) {
		rec.ReadBy = append(rec.ReadBy, userID)
	}
	return nil
}

func (r *MemoryNotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.IsRecipient(userID) && !rec.IsReadBy(userID) {
			rec.ReadBy = append(rec.ReadBy, userID)
			n++
		}
	}
	return n, nil
}

func (r *MemoryNotificationRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, rec := range r.records {
		if rec.IsRecipient(userID) && !rec.IsReadBy(userID) {
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored record.
func (r *MemoryNotificationRepository) All() []models.NotificationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.NotificationRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, clone(rec))
	}
	return out
}
