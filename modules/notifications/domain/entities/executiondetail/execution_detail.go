package executiondetail

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Detail string

const (
	DetailMessageContentNotGenerated Detail = "message_content_not_generated"
	DetailMessageCreated             Detail = "message_created"
	DetailMessageSent                Detail = "message_sent"
)

type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
	StatusSuccess Status = "success"
)

// ExecutionDetail is one immutable audit entry describing a step of a send
// attempt. Records are only ever appended; insertion order per transaction
// is the readable audit trail.
type ExecutionDetail struct {
	ID             uuid.UUID
	JobID          string
	NotificationID uuid.UUID
	SubscriberID   uuid.UUID
	EnvironmentID  uuid.UUID
	OrganizationID uuid.UUID
	TransactionID  string
	Detail         Detail
	Source         Source
	Status         Status
	IsTest         bool
	IsRetry        bool
	Raw            json.RawMessage
	MessageID      *uuid.UUID
	ProviderID     string
	CreatedAt      time.Time
}

// Repository is write-only from the delivery core's perspective: no update
// or delete operations exist.
type Repository interface {
	Create(ctx context.Context, detail *ExecutionDetail) error
}
