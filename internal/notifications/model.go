package notifications

import "time"

// Type enumerates the notification kinds the platform emits.
type Type string

const (
	TypeNewPost          Type = "new_post"
	TypeActivityAssigned Type = "activity_assigned"
	TypeDeliveryReviewed Type = "delivery_reviewed"
	TypeEventReminder    Type = "event_reminder"
	TypeRewardGranted    Type = "reward_granted"
)

// Notification is a persisted per-user notification row, the pull side of
// the panel. The push side carries only the event; the panel list is always
// rebuilt from this table.
type Notification struct {
	NotificationID   string `gorm:"column:notification_id;primaryKey;size:190;not null"`
	Tenant           string `gorm:"column:tenant;size:190;not null;index:idx_notifications_scope,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_notifications_scope,priority:2"`
	Type             string `gorm:"column:type;size:64;not null"`
	Title            string `gorm:"column:title;size:320;not null"`
	Body             string `gorm:"column:body;type:text;not null;default:''"`
	IsRead           bool   `gorm:"column:is_read;not null;default:false;index:idx_notifications_scope,priority:3"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_notifications_scope,priority:4"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Event is the push-channel payload emitted when a notification is created.
type Event struct {
	Tenant         string
	UserID         string
	NotificationID string
	Type           Type
	Title          string
	CreatedAt      time.Time
}
