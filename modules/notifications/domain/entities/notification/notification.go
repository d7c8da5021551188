package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is one triggered occurrence of a template for a subscriber;
// individual channel messages hang off it.
type Notification struct {
	ID             uuid.UUID
	EnvironmentID  uuid.UUID
	OrganizationID uuid.UUID
	SubscriberID   uuid.UUID
	TemplateID     uuid.UUID
	TransactionID  string
	CreatedAt      time.Time
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// FindByTransactionID lets a retried trigger reuse its notification so
	// message dedup can match.
	FindByTransactionID(ctx context.Context, environmentID, subscriberID uuid.UUID, transactionID string) (*Notification, error)
	Create(ctx context.Context, n *Notification) error
}
