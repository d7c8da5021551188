package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/usignal/usignal/modules/notifications/domain/entities/message"
	"github.com/usignal/usignal/modules/notifications/infrastructure/persistence/models"
	"github.com/usignal/usignal/pkg/composables"
)

const messageColumns = `id, notification_id, environment_id, organization_id, subscriber_id,
	template_id, message_template_id, channel, transaction_id, content, payload,
	feed_id, cta, template_identifier, job_id, seen, "read", created_at`

type MessageRepository struct{}

func NewMessageRepository() message.Repository {
	return &MessageRepository{}
}

func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*message.Message, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1
	`, id)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, message.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// FindOne matches on the complete dedup tuple: stored payload equality is
// jsonb-semantic, so key order does not matter, but any value difference
// yields a miss.
func (r *MessageRepository) FindOne(ctx context.Context, filter message.DedupFilter) (*message.Message, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := marshalPayload(filter.Payload)
	if err != nil {
		return nil, err
	}
	var feedID *string
	if filter.FeedID != nil {
		s := filter.FeedID.String()
		feedID = &s
	}

	row := tx.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE notification_id = $1
		  AND environment_id = $2
		  AND organization_id = $3
		  AND subscriber_id = $4
		  AND template_id = $5
		  AND message_template_id = $6
		  AND channel = $7
		  AND transaction_id = $8
		  AND content = $9
		  AND payload = $10::jsonb
		  AND feed_id IS NOT DISTINCT FROM $11
		LIMIT 1
	`,
		filter.NotificationID,
		filter.EnvironmentID,
		filter.OrganizationID,
		filter.SubscriberID,
		filter.TemplateID,
		filter.MessageTemplateID,
		string(filter.Channel),
		filter.TransactionID,
		filter.Content,
		payload,
		feedID,
	)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, message.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepository) Create(ctx context.Context, msg *message.Message) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	payload, err := marshalPayload(msg.Payload)
	if err != nil {
		return err
	}
	cta, err := marshalCTA(msg.CTA)
	if err != nil {
		return err
	}
	var feedID *string
	if msg.FeedID != nil {
		s := msg.FeedID.String()
		feedID = &s
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (
			id, notification_id, environment_id, organization_id, subscriber_id,
			template_id, message_template_id, channel, transaction_id, content,
			payload, feed_id, cta, template_identifier, job_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		msg.ID,
		msg.NotificationID,
		msg.EnvironmentID,
		msg.OrganizationID,
		msg.SubscriberID,
		msg.TemplateID,
		msg.MessageTemplateID,
		string(msg.Channel),
		msg.TransactionID,
		msg.Content,
		payload,
		feedID,
		cta,
		msg.TemplateIdentifier,
		msg.JobID,
		msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Update applies the $set-style patch: only the listed fields change, all
// other columns stay untouched.
func (r *MessageRepository) Update(ctx context.Context, id uuid.UUID, patch message.UpdatePatch) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	payload, err := marshalPayload(patch.Payload)
	if err != nil {
		return err
	}
	cta, err := marshalCTA(patch.CTA)
	if err != nil {
		return err
	}
	createdAt := patch.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE messages
		SET seen = $2, cta = $3, content = $4, payload = $5, created_at = $6
		WHERE id = $1
	`, id, patch.Seen, cta, patch.Content, payload, createdAt)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return message.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepository) Count(
	ctx context.Context,
	environmentID, subscriberID uuid.UUID,
	channel message.Channel,
	filter message.CountFilter,
) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}

	where := []string{"environment_id = $1", "subscriber_id = $2", "channel = $3"}
	args := []any{environmentID, subscriberID, string(channel)}
	if filter.Seen != nil {
		args = append(args, *filter.Seen)
		where = append(where, fmt.Sprintf("seen = $%d", len(args)))
	}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		where = append(where, fmt.Sprintf(`"read" = $%d`, len(args)))
	}

	var count int64
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	var m models.Message
	if err := row.Scan(
		&m.ID,
		&m.NotificationID,
		&m.EnvironmentID,
		&m.OrganizationID,
		&m.SubscriberID,
		&m.TemplateID,
		&m.MessageTemplateID,
		&m.Channel,
		&m.TransactionID,
		&m.Content,
		&m.Payload,
		&m.FeedID,
		&m.CTA,
		&m.TemplateIdentifier,
		&m.JobID,
		&m.Seen,
		&m.Read,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}
	return toDomainMessage(&m)
}
