package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/usignal/usignal/modules/notifications/domain/entities/notificationlog"
	"github.com/usignal/usignal/pkg/composables"
)

type NotificationLogRepository struct{}

func NewNotificationLogRepository() notificationlog.Repository {
	return &NotificationLogRepository{}
}

func (r *NotificationLogRepository) Create(ctx context.Context, log *notificationlog.NotificationLog) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	row := toDBNotificationLog(log)
	if _, err := tx.Exec(ctx, `
		INSERT INTO notification_logs (
			id, transaction_id, status, environment_id, organization_id, notification_id,
			message_id, subscriber_id, template_id, code, text, raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		row.ID,
		row.TransactionID,
		row.Status,
		row.EnvironmentID,
		row.OrganizationID,
		row.NotificationID,
		row.MessageID,
		row.SubscriberID,
		row.TemplateID,
		row.Code,
		row.Text,
		row.Raw,
		row.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}
