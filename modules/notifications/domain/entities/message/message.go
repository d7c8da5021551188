package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMessageNotFound = errors.New("message not found")

type Channel string

const ChannelInApp Channel = "in_app"

// ProviderInApp is the synthetic provider id recorded for in-app deliveries,
// which have no external provider.
const ProviderInApp = "usignal"

type CTAButton struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CTA is the call-to-action descriptor attached to a message. URL and each
// button content are template strings until rendered.
type CTA struct {
	URL     string      `json:"url,omitempty"`
	Buttons []CTAButton `json:"buttons,omitempty"`
}

// Message is a rendered notification instance addressed to one subscriber.
type Message struct {
	ID                 uuid.UUID
	NotificationID     uuid.UUID
	EnvironmentID      uuid.UUID
	OrganizationID     uuid.UUID
	SubscriberID       uuid.UUID
	TemplateID         uuid.UUID
	MessageTemplateID  uuid.UUID
	Channel            Channel
	TransactionID      string
	Content            string
	Payload            map[string]any
	FeedID             *uuid.UUID
	CTA                *CTA
	TemplateIdentifier string
	JobID              string
	Seen               bool
	Read               bool
	CreatedAt          time.Time
}

// DedupFilter is the full identity tuple that decides whether a delivery
// reuses an existing message or creates a new one. Any difference in
// rendered content or payload yields a new identity.
type DedupFilter struct {
	NotificationID    uuid.UUID
	EnvironmentID     uuid.UUID
	OrganizationID    uuid.UUID
	SubscriberID      uuid.UUID
	TemplateID        uuid.UUID
	MessageTemplateID uuid.UUID
	Channel           Channel
	TransactionID     string
	Content           string
	Payload           map[string]any
	FeedID            *uuid.UUID
}

// UpdatePatch is the $set-style partial update applied on re-delivery: only
// the listed fields change, everything else stays untouched.
type UpdatePatch struct {
	Seen      bool
	CTA       *CTA
	Content   string
	Payload   map[string]any
	CreatedAt time.Time
}

// CountFilter selects messages by flag state for counter recomputation.
type CountFilter struct {
	Seen *bool
	Read *bool
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// FindOne returns ErrMessageNotFound when no message matches the full
	// dedup tuple.
	FindOne(ctx context.Context, filter DedupFilter) (*Message, error)
	Create(ctx context.Context, msg *Message) error
	Update(ctx context.Context, id uuid.UUID, patch UpdatePatch) error
	// Count returns the number of messages for the given scope matching the
	// flag filter. Counters are derived, never stored.
	Count(ctx context.Context, environmentID, subscriberID uuid.UUID, channel Channel, filter CountFilter) (int64, error)
}

func BoolPtr(v bool) *bool {
	return &v
}
