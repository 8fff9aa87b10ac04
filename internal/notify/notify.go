// Package notify records workflow notifications in an outbox table inside the
// transition's transaction and delivers them after commit.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxDeliveryAttempts bounds how often a failed notification is resent
const MaxDeliveryAttempts = 5

// Recipient is a user addressed by a notification
type Recipient struct {
	User model.User
	Role string
}

// Notifier enqueues and delivers workflow notifications
type Notifier struct {
	db     *gorm.DB
	mailer Mailer
	log    *zap.Logger
	now    func() time.Time
}

// New creates a notifier
func New(db *gorm.DB, mailer Mailer, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{db: db, mailer: mailer, log: log, now: time.Now}
}

// Enqueue writes one outbox row per recipient using tx. Recipients with
// notifications disabled are recorded as suppressed.
func (n *Notifier) Enqueue(tx *gorm.DB, key string, entity model.Entity, recipients []Recipient, data map[string]any) ([]uint, error) {
	var ids []uint
	for _, r := range recipients {
		payload := make(map[string]any, len(data)+2)
		for k, v := range data {
			payload[k] = v
		}
		payload["recipient_name"] = displayName(r.User)
		payload["recipient_role"] = r.Role

		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode notification context: %w", err)
		}
		status := model.NotificationPending
		if !r.User.NotificationsEnabled {
			status = model.NotificationSuppressed
		}
		row := model.Notification{
			Key:         key,
			EntityType:  entity.EntityType(),
			EntityID:    entity.EntityID(),
			RecipientID: r.User.ID,
			Email:       r.User.Email,
			Context:     datatypes.JSON(raw),
			Status:      status,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("failed to enqueue notification: %w", err)
		}
		if status == model.NotificationSuppressed {
			prometheus.RecordNotification(key, "suppressed")
			continue
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// retryable selects pending rows and failed rows below the attempt cap
func retryable(db *gorm.DB) *gorm.DB {
	return db.Where("(status = ? OR (status = ? AND attempts < ?))",
		model.NotificationPending, model.NotificationFailed, MaxDeliveryAttempts)
}

// Deliver renders and sends the given notifications that are still
// deliverable. Failures are recorded on the row and logged, never returned.
func (n *Notifier) Deliver(ctx context.Context, ids []uint) {
	if len(ids) == 0 {
		return
	}
	var rows []model.Notification
	if err := n.db.WithContext(ctx).
		Where("id IN ?", ids).
		Scopes(retryable).
		Order("id").Find(&rows).Error; err != nil {
		n.log.Error("Failed to load notifications", zap.Error(err))
		return
	}
	for i := range rows {
		n.deliverOne(ctx, &rows[i])
	}
}

// DeliverPending sends up to limit pending notifications and resends failed
// ones that have not used up their attempts, oldest first
func (n *Notifier) DeliverPending(ctx context.Context, limit int) int {
	var ids []uint
	if err := n.db.WithContext(ctx).Model(&model.Notification{}).
		Scopes(retryable).
		Order("id").Limit(limit).Pluck("id", &ids).Error; err != nil {
		n.log.Error("Failed to list pending notifications", zap.Error(err))
		return 0
	}
	n.Deliver(ctx, ids)
	return len(ids)
}

func (n *Notifier) deliverOne(ctx context.Context, row *model.Notification) {
	log := n.log.With(
		zap.Uint("notification_id", row.ID),
		zap.String("key", row.Key),
		zap.Uint("recipient_id", row.RecipientID))

	err := n.send(ctx, row)
	row.Attempts++
	updates := map[string]interface{}{"attempts": row.Attempts}
	if err != nil {
		log.Error("Failed to deliver notification", zap.Error(err))
		prometheus.RecordNotification(row.Key, "failed")
		updates["status"] = model.NotificationFailed
		updates["error"] = err.Error()
	} else {
		prometheus.RecordNotification(row.Key, "sent")
		updates["status"] = model.NotificationSent
		updates["sent_at"] = n.now()
	}
	if err := n.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		log.Error("Failed to record notification outcome", zap.Error(err))
	}
}

func (n *Notifier) send(ctx context.Context, row *model.Notification) error {
	if row.Email == "" {
		return fmt.Errorf("recipient has no email address")
	}
	var data map[string]any
	if err := json.Unmarshal(row.Context, &data); err != nil {
		return fmt.Errorf("failed to decode notification context: %w", err)
	}
	subject, body, err := Render(row.Key, data)
	if err != nil {
		return err
	}
	return n.mailer.Send(ctx, Message{To: []string{row.Email}, Subject: subject, Body: body})
}

func displayName(u model.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
