// Package hub is the live notification channel: connected clients join
// groups and events are fanned out to every member of a group.
package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
)

const defaultBuffer = 32

// Client is one open connection.
type Client struct {
	ID     string
	UserID string
	Events chan models.LiveEvent
	groups []string
}

func (c *Client) Groups() []string {
	return append([]string(nil), c.groups...)
}

type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	buffer int
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Join registers a connection for userID. It is added to the user's own
// group, to the group of every known role and to the all-users group.
func (h *Hub) Join(userID string, roles ...string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Events: make(chan models.LiveEvent, h.buffer),
		groups: []string{userID, models.GroupAllUsers},
	}
	for _, r := range roles {
		if g := models.GroupForRole(r); g != "" {
			c.groups = append(c.groups, g)
		}
	}

	h.mu.Lock()
	for _, g := range c.groups {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[*Client]struct{})
			h.groups[g] = members
		}
		members[c] = struct{}{}
	}
	h.mu.Unlock()

	h.logger.Debug("live client joined", zap.String("user_id", userID), zap.Strings("groups", c.groups))
	return c
}

// Leave removes the client from all of its groups and closes its channel.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	for _, g := range c.groups {
		members := h.groups[g]
		if _, ok := members[c]; !ok {
			continue
		}
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	h.mu.Unlock()
	// Deliver holds the read lock while sending, so closing after the
	// write lock was released cannot race with a send.
	close(c.Events)
}

func (h *Hub) PushToUser(ctx context.Context, userID string, evt models.LiveEvent) error {
	h.Deliver(userID, evt)
	return nil
}

func (h *Hub) PushToGroup(ctx context.Context, group string, evt models.LiveEvent) error {
	h.Deliver(group, evt)
	return nil
}

// Deliver hands evt to every member of group without blocking. A client whose
// buffer is full misses the event. Returns how many clients received it.
func (h *Hub) Deliver(group string, evt models.LiveEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.groups[group] {
		select {
		case c.Events <- evt:
			delivered++
		default:
			h.logger.Warn("live client too slow, event dropped",
				zap.String("user_id", c.UserID),
				zap.String("event", evt.Event),
			)
		}
	}
	return delivered
}

// GroupSize reports the number of connections in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
