package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/usignal/usignal/modules/notifications/domain/entities/executiondetail"
	"github.com/usignal/usignal/pkg/composables"
)

// ExecutionDetailRepository is append-only: rows are never updated or
// deleted, and sequential inserts preserve the per-transaction audit order.
type ExecutionDetailRepository struct{}

func NewExecutionDetailRepository() executiondetail.Repository {
	return &ExecutionDetailRepository{}
}

func (r *ExecutionDetailRepository) Create(ctx context.Context, detail *executiondetail.ExecutionDetail) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if detail.ID == uuid.Nil {
		detail.ID = uuid.New()
	}
	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = time.Now()
	}

	row := toDBExecutionDetail(detail)
	if _, err := tx.Exec(ctx, `
		INSERT INTO execution_details (
			id, job_id, notification_id, subscriber_id, environment_id, organization_id,
			transaction_id, detail, source, status, is_test, is_retry, raw,
			message_id, provider_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		row.ID,
		row.JobID,
		row.NotificationID,
		row.SubscriberID,
		row.EnvironmentID,
		row.OrganizationID,
		row.TransactionID,
		row.Detail,
		row.Source,
		row.Status,
		row.IsTest,
		row.IsRetry,
		row.Raw,
		row.MessageID,
		row.ProviderID,
		row.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert execution detail: %w", err)
	}
	return nil
}
