package models

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Event names pushed to clients.
const (
	EventOrderCreated       = "OrderCreated"
	EventNewOrder           = "NewOrder"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderAssigned      = "OrderAssigned"
	EventCheckoutFailed     = "CheckoutFailed"
)

// Live channel groups. A raw user id is also a group.
const (
	GroupAdmins    = "admins"
	GroupSellers   = "sellers"
	GroupCustomers = "customers"
	GroupShippers  = "shippers"
	GroupAllUsers  = "all-users"
)

// GroupForRole maps a role name to its broadcast group, "" when unknown.
func GroupForRole(role string) string {
	switch role {
	case "admin", GroupAdmins:
		return GroupAdmins
	case "seller", GroupSellers:
		return GroupSellers
	case "customer", GroupCustomers:
		return GroupCustomers
	case "shipper", GroupShippers:
		return GroupShippers
	}
	return ""
}

// NotificationRecord is one persisted notification shared by all of its
// recipients. ReadBy is always a subset of Recipients.
type NotificationRecord struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	EventName  string         `json:"event_name" gorm:"type:varchar(100);not null;index"`
	Payload    datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Recipients pq.StringArray `json:"recipients" gorm:"type:text[];not null"`
	ReadBy     pq.StringArray `json:"read_by" gorm:"type:text[];not null"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;index"`
}

func (NotificationRecord) TableName() string {
	return "notifications"
}

func (n *NotificationRecord) IsRecipient(userID string) bool {
	return slices.Contains(n.Recipients, userID)
}

func (n *NotificationRecord) IsReadBy(userID string) bool {
	return slices.Contains(n.ReadBy, userID)
}

// UserNotification is a record as seen by one recipient.
type UserNotification struct {
	ID        uuid.UUID       `json:"id"`
	EventName string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

func (n *NotificationRecord) ForUser(userID string) UserNotification {
	return UserNotification{
		ID:        n.ID,
		EventName: n.EventName,
		Payload:   json.RawMessage(n.Payload),
		IsRead:    n.IsReadBy(userID),
		CreatedAt: n.CreatedAt,
	}
}

type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}

// LiveEvent is what travels over the live channel.
type LiveEvent struct {
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	NotificationID string          `json:"notification_id,omitempty"`
	SentAt         time.Time       `json:"sent_at"`
}
