package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/usignal/usignal/modules/notifications/domain/entities/subscriber"
	"github.com/usignal/usignal/modules/notifications/infrastructure/persistence/models"
	"github.com/usignal/usignal/pkg/composables"
)

type SubscriberRepository struct{}

func NewSubscriberRepository() subscriber.Repository {
	return &SubscriberRepository{}
}

func (r *SubscriberRepository) GetByID(ctx context.Context, environmentID, id uuid.UUID) (*subscriber.Subscriber, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.Subscriber
	if err := tx.QueryRow(ctx, `
		SELECT id, environment_id, organization_id, first_name, last_name, email, phone, created_at
		FROM subscribers
		WHERE environment_id = $1 AND id = $2
	`, environmentID, id).Scan(
		&row.ID,
		&row.EnvironmentID,
		&row.OrganizationID,
		&row.FirstName,
		&row.LastName,
		&row.Email,
		&row.Phone,
		&row.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscriber.ErrSubscriberNotFound
		}
		return nil, err
	}
	return toDomainSubscriber(&row)
}

func (r *SubscriberRepository) Create(ctx context.Context, sub *subscriber.Subscriber) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO subscribers (id, environment_id, organization_id, first_name, last_name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sub.ID,
		sub.EnvironmentID,
		sub.OrganizationID,
		sub.FirstName,
		sub.LastName,
		sub.Email,
		sub.Phone,
		sub.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}
