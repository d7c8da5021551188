package notificationlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Code string

const CodeInAppMessageCreated Code = "in_app_message_created"

// NotificationLog is a free-text operational log entry, a write-only side
// channel distinct from the execution audit trail: it serves reporting
// consumers, not step-level debugging.
type NotificationLog struct {
	ID             uuid.UUID
	TransactionID  string
	Status         Status
	EnvironmentID  uuid.UUID
	OrganizationID uuid.UUID
	NotificationID uuid.UUID
	MessageID      *uuid.UUID
	SubscriberID   uuid.UUID
	TemplateID     uuid.UUID
	Code           Code
	Text           string
	Raw            json.RawMessage
	CreatedAt      time.Time
}

type Repository interface {
	Create(ctx context.Context, log *NotificationLog) error
}
