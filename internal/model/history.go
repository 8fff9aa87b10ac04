package model

import (
	"time"

	"gorm.io/datatypes"
)

// History actions
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// History is one append-only audit row written with every tracked mutation
type History struct {
	ID         uint           `json:"id" gorm:"primarykey"`
	EntityType string         `json:"entity_type" gorm:"type:varchar(50);not null;index:idx_history_entity"`
	EntityID   uint           `json:"entity_id" gorm:"not null;index:idx_history_entity"`
	VersionAt  time.Time      `json:"version_at" gorm:"not null;index:idx_history_entity"`
	ChangedBy  string         `json:"changed_by" gorm:"type:varchar(150)"`
	Action     string         `json:"action" gorm:"type:varchar(10);not null"`
	Snapshot   datatypes.JSON `json:"snapshot"`
}

// TableName pins the table name
func (History) TableName() string {
	return "history"
}

// Notification statuses
const (
	NotificationPending    = "pending"
	NotificationSent       = "sent"
	NotificationFailed     = "failed"
	NotificationSuppressed = "suppressed"
)

// Notification is an outbox row enqueued atomically with a workflow transition
type Notification struct {
	ID          uint           `json:"id" gorm:"primarykey"`
	Key         string         `json:"key" gorm:"type:varchar(50);not null;index"`
	EntityType  string         `json:"entity_type" gorm:"type:varchar(50)"`
	EntityID    uint           `json:"entity_id"`
	RecipientID uint           `json:"recipient_id" gorm:"not null;index"`
	Email       string         `json:"email" gorm:"type:varchar(255)"`
	Context     datatypes.JSON `json:"context"`
	Status      string         `json:"status" gorm:"type:varchar(20);not null;index"`
	Error       string         `json:"error,omitempty" gorm:"type:text"`
	Attempts    int            `json:"attempts" gorm:"not null;default:0"`
	SentAt      *time.Time     `json:"sent_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
