package subscriber

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSubscriberNotFound = errors.New("subscriber not found")

// Subscriber is the addressable recipient of in-app notifications. Profile
// fields feed the template render context.
type Subscriber struct {
	ID             uuid.UUID
	EnvironmentID  uuid.UUID
	OrganizationID uuid.UUID
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	CreatedAt      time.Time
}

// RenderContext returns the subscriber fields exposed to templates.
func (s *Subscriber) RenderContext() map[string]any {
	return map[string]any{
		"id":        s.ID.String(),
		"firstName": s.FirstName,
		"lastName":  s.LastName,
		"email":     s.Email,
		"phone":     s.Phone,
	}
}

type Repository interface {
	GetByID(ctx context.Context, environmentID, id uuid.UUID) (*Subscriber, error)
	Create(ctx context.Context, sub *Subscriber) error
}
