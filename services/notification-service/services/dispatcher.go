package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/repository"
)

// DefaultSendTimeout bounds one Send from spawn to finish.
const DefaultSendTimeout = 30 * time.Second

var (
	ErrNoTarget     = errors.New("notification needs a hub group or at least one user id")
	ErrInvalidEvent = errors.New("notification event name is required")
)

// LivePusher delivers events to connected clients. Implemented by the local
// hub and by the Redis backplane.
type LivePusher interface {
	PushToUser(ctx context.Context, userID string, evt models.LiveEvent) error
	PushToGroup(ctx context.Context, group string, evt models.LiveEvent) error
}

// Notifier is what business code depends on.
type Notifier interface {
	Send(eventName string, payload any, hubGroup string, userIDs []string) error
}

// Dispatcher fans notifications out in the background. Delivery is best
// effort: once Send has accepted a notification, failures are only logged.
type Dispatcher struct {
	repo    repository.NotificationRepository
	live    LivePusher
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewDispatcher(repo repository.NotificationRepository, live LivePusher, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		repo:    repo,
		live:    live,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

type notification struct {
	id        uuid.UUID
	eventName string
	payload   json.RawMessage
	hubGroup  string
	userIDs   []string
	createdAt time.Time
}

// Send validates the request and returns at once; delivery runs in its own
// goroutine. Only usage errors are returned, before any I/O.
func (d *Dispatcher) Send(eventName string, payload any, hubGroup string, userIDs []string) error {
	if eventName == "" {
		return ErrInvalidEvent
	}
	users := dedupe(userIDs)
	if hubGroup == "" && len(users) == 0 {
		return ErrNoTarget
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification payload: %w", err)
	}

	n := notification{
		id:        uuid.New(),
		eventName: eventName,
		payload:   raw,
		hubGroup:  hubGroup,
		userIDs:   users,
		createdAt: d.now().UTC(),
	}

	d.wg.Add(1)
	go d.run(n)
	return nil
}

// Wait blocks until every accepted notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(n notification) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification send panicked",
				zap.String("event", n.eventName),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.deliver(ctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			zap.String("event", n.eventName),
			zap.String("notification_id", n.id.String()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n notification) error {
	evt := models.LiveEvent{
		Event:   n.eventName,
		Payload: n.payload,
		SentAt:  n.createdAt,
	}

	var errs []error
	if len(n.userIDs) > 0 {
		evt.NotificationID = n.id.String()
		for _, uid := range n.userIDs {
			if err := d.live.PushToUser(ctx, uid, evt); err != nil {
				errs = append(errs, fmt.Errorf("push to user %s: %w", uid, err))
			}
		}

		rec := &models.NotificationRecord{
			ID:         n.id,
			EventName:  n.eventName,
			Payload:    []byte(n.payload),
			Recipients: n.userIDs,
			ReadBy:     []string{},
			CreatedAt:  n.createdAt,
		}
		if err := d.repo.Create(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("persist notification: %w", err))
		}
	}

	if n.hubGroup != "" {
		groupEvt := evt
		groupEvt.NotificationID = ""
		if err := d.live.PushToGroup(ctx, n.hubGroup, groupEvt); err != nil {
			errs = append(errs, fmt.Errorf("push to group %s: %w", n.hubGroup, err))
		}
	}
	return errors.Join(errs...)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
