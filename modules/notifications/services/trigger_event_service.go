package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/usignal/usignal/modules/notifications/domain/entities/notification"
	"github.com/usignal/usignal/modules/notifications/domain/entities/subscriber"
)

// SubscriberRef identifies the recipient of a trigger and carries optional
// profile fields used when the subscriber is seen for the first time.
type SubscriberRef struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

type TriggerEventCommand struct {
	Identifier     string
	EnvironmentID  uuid.UUID
	OrganizationID uuid.UUID
	To             SubscriberRef
	Payload        map[string]any
	TransactionID  string
	Step           StepTemplate
	Events         []map[string]any
}

// TriggerEventService turns an inbound trigger into a send: it upserts the
// subscriber, finds or creates the notification for the transaction and runs
// the in-app delivery.
type TriggerEventService struct {
	notificationRepo notification.Repository
	subscriberRepo   subscriber.Repository
	sendInApp        *SendInAppService
}

func NewTriggerEventService(
	notificationRepo notification.Repository,
	subscriberRepo subscriber.Repository,
	sendInApp *SendInAppService,
) *TriggerEventService {
	return &TriggerEventService{
		notificationRepo: notificationRepo,
		subscriberRepo:   subscriberRepo,
		sendInApp:        sendInApp,
	}
}

// Execute returns the transaction id the trigger was processed under, which
// is generated when the caller did not provide one.
func (s *TriggerEventService) Execute(ctx context.Context, cmd TriggerEventCommand) (string, error) {
	transactionID := cmd.TransactionID
	if transactionID == "" {
		transactionID = uuid.New().String()
	}

	if _, err := s.resolveSubscriber(ctx, cmd); err != nil {
		return "", err
	}

	n, err := s.resolveNotification(ctx, cmd, transactionID)
	if err != nil {
		return "", err
	}

	step := cmd.Step
	if step.MessageTemplateID == uuid.Nil {
		step.MessageTemplateID = deriveTemplateID(cmd.Identifier, "in_app")
	}

	if err := s.sendInApp.Execute(ctx, SendMessageCommand{
		NotificationID: n.ID,
		SubscriberID:   cmd.To.ID,
		EnvironmentID:  cmd.EnvironmentID,
		OrganizationID: cmd.OrganizationID,
		Step:           step,
		Payload:        cmd.Payload,
		TransactionID:  transactionID,
		JobID:          uuid.New().String(),
		Identifier:     cmd.Identifier,
		Events:         cmd.Events,
	}); err != nil {
		return "", err
	}
	return transactionID, nil
}

func (s *TriggerEventService) resolveSubscriber(
	ctx context.Context,
	cmd TriggerEventCommand,
) (*subscriber.Subscriber, error) {
	sub, err := s.subscriberRepo.GetByID(ctx, cmd.EnvironmentID, cmd.To.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, subscriber.ErrSubscriberNotFound) {
		return nil, fmt.Errorf("resolve subscriber: %w", err)
	}

	sub = &subscriber.Subscriber{
		ID:             cmd.To.ID,
		EnvironmentID:  cmd.EnvironmentID,
		OrganizationID: cmd.OrganizationID,
		FirstName:      cmd.To.FirstName,
		LastName:       cmd.To.LastName,
		Email:          cmd.To.Email,
		Phone:          cmd.To.Phone,
	}
	if err := s.subscriberRepo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	return sub, nil
}

func (s *TriggerEventService) resolveNotification(
	ctx context.Context,
	cmd TriggerEventCommand,
	transactionID string,
) (*notification.Notification, error) {
	n, err := s.notificationRepo.FindByTransactionID(ctx, cmd.EnvironmentID, cmd.To.ID, transactionID)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, notification.ErrNotificationNotFound) {
		return nil, fmt.Errorf("resolve notification: %w", err)
	}

	n = &notification.Notification{
		EnvironmentID:  cmd.EnvironmentID,
		OrganizationID: cmd.OrganizationID,
		SubscriberID:   cmd.To.ID,
		TemplateID:     deriveTemplateID(cmd.Identifier, "workflow"),
		TransactionID:  transactionID,
	}
	if err := s.notificationRepo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// deriveTemplateID maps a workflow identifier to a stable uuid so repeated
// triggers of the same workflow share template identity without a template
// store.
func deriveTemplateID(identifier, kind string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+identifier))
}
