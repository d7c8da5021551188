package dtos

import (
	"fmt"

	"github.com/google/uuid"
)

type SubscriberRef struct {
	SubscriberID string `json:"subscriberId"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

type CTAButton struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type CTA struct {
	URL     string      `json:"url,omitempty"`
	Buttons []CTAButton `json:"buttons,omitempty"`
}

type Step struct {
	Content string `json:"content"`
	CTA     *CTA   `json:"cta,omitempty"`
	FeedID  string `json:"feedId,omitempty"`
}

type TriggerEventRequest struct {
	Name           string           `json:"name"`
	EnvironmentID  string           `json:"environmentId"`
	OrganizationID string           `json:"organizationId"`
	To             SubscriberRef    `json:"to"`
	Payload        map[string]any   `json:"payload,omitempty"`
	TransactionID  string           `json:"transactionId,omitempty"`
	Step           Step             `json:"step"`
	Events         []map[string]any `json:"events,omitempty"`
}

func (r *TriggerEventRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Step.Content == "" {
		return fmt.Errorf("step.content is required")
	}
	if _, err := uuid.Parse(r.EnvironmentID); err != nil {
		return fmt.Errorf("environmentId must be a uuid")
	}
	if _, err := uuid.Parse(r.OrganizationID); err != nil {
		return fmt.Errorf("organizationId must be a uuid")
	}
	if _, err := uuid.Parse(r.To.SubscriberID); err != nil {
		return fmt.Errorf("to.subscriberId must be a uuid")
	}
	if r.Step.FeedID != "" {
		if _, err := uuid.Parse(r.Step.FeedID); err != nil {
			return fmt.Errorf("step.feedId must be a uuid")
		}
	}
	return nil
}

type TriggerEventResponse struct {
	Acknowledged  bool   `json:"acknowledged"`
	TransactionID string `json:"transactionId"`
}
