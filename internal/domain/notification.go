package domain

import "time"

// NotificationType classifies the ledger event a notification reports.
type NotificationType string

const (
	NotificationNewIOU  NotificationType = "new_iou"
	NotificationRepaid  NotificationType = "repaid"
	NotificationClaimed NotificationType = "claimed"
)

// Notification is a durable message for UserID about IOUID.
type Notification struct {
	ID             string
	UserID         string
	IOUID          string
	Type           NotificationType
	Message        string
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}
