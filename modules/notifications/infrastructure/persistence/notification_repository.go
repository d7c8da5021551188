package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/usignal/usignal/modules/notifications/domain/entities/notification"
	"github.com/usignal/usignal/modules/notifications/infrastructure/persistence/models"
	"github.com/usignal/usignal/pkg/composables"
)

type NotificationRepository struct{}

func NewNotificationRepository() notification.Repository {
	return &NotificationRepository{}
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.Notification
	if err := tx.QueryRow(ctx, `
		SELECT id, environment_id, organization_id, subscriber_id, template_id, transaction_id, created_at
		FROM notifications
		WHERE id = $1
	`, id).Scan(
		&row.ID,
		&row.EnvironmentID,
		&row.OrganizationID,
		&row.SubscriberID,
		&row.TemplateID,
		&row.TransactionID,
		&row.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, err
	}
	return toDomainNotification(&row)
}

func (r *NotificationRepository) FindByTransactionID(
	ctx context.Context,
	environmentID, subscriberID uuid.UUID,
	transactionID string,
) (*notification.Notification, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.Notification
	if err := tx.QueryRow(ctx, `
		SELECT id, environment_id, organization_id, subscriber_id, template_id, transaction_id, created_at
		FROM notifications
		WHERE environment_id = $1 AND subscriber_id = $2 AND transaction_id = $3
		LIMIT 1
	`, environmentID, subscriberID, transactionID).Scan(
		&row.ID,
		&row.EnvironmentID,
		&row.OrganizationID,
		&row.SubscriberID,
		&row.TemplateID,
		&row.TransactionID,
		&row.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notification.ErrNotificationNotFound
		}
		return nil, err
	}
	return toDomainNotification(&row)
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO notifications (id, environment_id, organization_id, subscriber_id, template_id, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		n.ID,
		n.EnvironmentID,
		n.OrganizationID,
		n.SubscriberID,
		n.TemplateID,
		n.TransactionID,
		n.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
