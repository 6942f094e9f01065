package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/iou/backend/internal/domain"
)

// Notifier records durable notifications. Every event produces a new row.
type Notifier struct {
	store NotificationStore
	nowFn func() time.Time
	newID func() string
}

// NewNotifier constructs a Notifier.
func NewNotifier(store NotificationStore) *Notifier {
	return &Notifier{store: store, nowFn: time.Now, newID: uuid.NewString}
}

// WithClock overrides the time provider (used primarily in tests).
func (n *Notifier) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		n.nowFn = nowFn
	}
}

// Notify appends a notification for userID.
func (n *Notifier) Notify(ctx context.Context, userID, iouID string, typ domain.NotificationType, message string) (domain.Notification, error) {
	note := domain.Notification{
		ID:        n.newID(),
		UserID:    userID,
		IOUID:     iouID,
		Type:      typ,
		Message:   message,
		CreatedAt: n.nowFn().UTC(),
	}
	if err := n.store.CreateNotification(ctx, note); err != nil {
		return domain.Notification{}, err
	}
	return note, nil
}

// Acknowledge marks one of userID's notifications as seen. Notifications of
// other users are reported as not found.
func (n *Notifier) Acknowledge(ctx context.Context, id, userID string) error {
	ok, err := n.store.AcknowledgeNotification(ctx, id, userID, n.nowFn().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("Notification not found")
	}
	return nil
}

// AcknowledgeAll marks every pending notification of userID as seen.
func (n *Notifier) AcknowledgeAll(ctx context.Context, userID string) (int64, error) {
	return n.store.AcknowledgeAllNotifications(ctx, userID, n.nowFn().UTC())
}

// ListUnacknowledged returns userID's pending notifications, newest first.
func (n *Notifier) ListUnacknowledged(ctx context.Context, userID string) ([]domain.Notification, error) {
	return n.store.ListUnacknowledgedNotifications(ctx, userID)
}
