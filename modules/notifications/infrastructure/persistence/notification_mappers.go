package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/usignal/usignal/modules/notifications/domain/entities/executiondetail"
	"github.com/usignal/usignal/modules/notifications/domain/entities/message"
	"github.com/usignal/usignal/modules/notifications/domain/entities/notification"
	"github.com/usignal/usignal/modules/notifications/domain/entities/notificationlog"
	"github.com/usignal/usignal/modules/notifications/domain/entities/subscriber"
	"github.com/usignal/usignal/modules/notifications/infrastructure/persistence/models"
)

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func toDomainMessage(row *models.Message) (*message.Message, error) {
	id, err := parseID(row.ID, "message id")
	if err != nil {
		return nil, err
	}
	notificationID, err := parseID(row.NotificationID, "notification id")
	if err != nil {
		return nil, err
	}
	environmentID, err := parseID(row.EnvironmentID, "environment id")
	if err != nil {
		return nil, err
	}
	organizationID, err := parseID(row.OrganizationID, "organization id")
	if err != nil {
		return nil, err
	}
	subscriberID, err := parseID(row.SubscriberID, "subscriber id")
	if err != nil {
		return nil, err
	}
	templateID, err := parseID(row.TemplateID, "template id")
	if err != nil {
		return nil, err
	}
	messageTemplateID, err := parseID(row.MessageTemplateID, "message template id")
	if err != nil {
		return nil, err
	}

	var feedID *uuid.UUID
	if row.FeedID != nil {
		parsed, err := parseID(*row.FeedID, "feed id")
		if err != nil {
			return nil, err
		}
		feedID = &parsed
	}

	var payload map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, fmt.Errorf("parse message payload: %w", err)
		}
	}

	var cta *message.CTA
	if len(row.CTA) > 0 {
		cta = &message.CTA{}
		if err := json.Unmarshal(row.CTA, cta); err != nil {
			return nil, fmt.Errorf("parse message cta: %w", err)
		}
	}

	return &message.Message{
		ID:                 id,
		NotificationID:     notificationID,
		EnvironmentID:      environmentID,
		OrganizationID:     organizationID,
		SubscriberID:       subscriberID,
		TemplateID:         templateID,
		MessageTemplateID:  messageTemplateID,
		Channel:            message.Channel(row.Channel),
		TransactionID:      row.TransactionID,
		Content:            row.Content,
		Payload:            payload,
		FeedID:             feedID,
		CTA:                cta,
		TemplateIdentifier: row.TemplateIdentifier,
		JobID:              row.JobID,
		Seen:               row.Seen,
		Read:               row.Read,
		CreatedAt:          row.CreatedAt,
	}, nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal message payload: %w", err)
	}
	return raw, nil
}

func marshalCTA(cta *message.CTA) ([]byte, error) {
	if cta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cta)
	if err != nil {
		return nil, fmt.Errorf("marshal message cta: %w", err)
	}
	return raw, nil
}

func toDomainSubscriber(row *models.Subscriber) (*subscriber.Subscriber, error) {
	id, err := parseID(row.ID, "subscriber id")
	if err != nil {
		return nil, err
	}
	environmentID, err := parseID(row.EnvironmentID, "environment id")
	if err != nil {
		return nil, err
	}
	organizationID, err := parseID(row.OrganizationID, "organization id")
	if err != nil {
		return nil, err
	}
	return &subscriber.Subscriber{
		ID:             id,
		EnvironmentID:  environmentID,
		OrganizationID: organizationID,
		FirstName:      row.FirstName,
		LastName:       row.LastName,
		Email:          row.Email,
		Phone:          row.Phone,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func toDomainNotification(row *models.Notification) (*notification.Notification, error) {
	id, err := parseID(row.ID, "notification id")
	if err != nil {
		return nil, err
	}
	environmentID, err := parseID(row.EnvironmentID, "environment id")
	if err != nil {
		return nil, err
	}
	organizationID, err := parseID(row.OrganizationID, "organization id")
	if err != nil {
		return nil, err
	}
	subscriberID, err := parseID(row.SubscriberID, "subscriber id")
	if err != nil {
		return nil, err
	}
	templateID, err := parseID(row.TemplateID, "template id")
	if err != nil {
		return nil, err
	}
	return &notification.Notification{
		ID:             id,
		EnvironmentID:  environmentID,
		OrganizationID: organizationID,
		SubscriberID:   subscriberID,
		TemplateID:     templateID,
		TransactionID:  row.TransactionID,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func toDBExecutionDetail(detail *executiondetail.ExecutionDetail) *models.ExecutionDetail {
	var messageID *string
	if detail.MessageID != nil {
		s := detail.MessageID.String()
		messageID = &s
	}
	return &models.ExecutionDetail{
		ID:             detail.ID.String(),
		JobID:          detail.JobID,
		NotificationID: detail.NotificationID.String(),
		SubscriberID:   detail.SubscriberID.String(),
		EnvironmentID:  detail.EnvironmentID.String(),
		OrganizationID: detail.OrganizationID.String(),
		TransactionID:  detail.TransactionID,
		Detail:         string(detail.Detail),
		Source:         string(detail.Source),
		Status:         string(detail.Status),
		IsTest:         detail.IsTest,
		IsRetry:        detail.IsRetry,
		Raw:            detail.Raw,
		MessageID:      messageID,
		ProviderID:     detail.ProviderID,
		CreatedAt:      detail.CreatedAt,
	}
}

func toDBNotificationLog(log *notificationlog.NotificationLog) *models.NotificationLog {
	var messageID *string
	if log.MessageID != nil {
		s := log.MessageID.String()
		messageID = &s
	}
	return &models.NotificationLog{
		ID:             log.ID.String(),
		TransactionID:  log.TransactionID,
		Status:         string(log.Status),
		EnvironmentID:  log.EnvironmentID.String(),
		OrganizationID: log.OrganizationID.String(),
		NotificationID: log.NotificationID.String(),
		MessageID:      messageID,
		SubscriberID:   log.SubscriberID.String(),
		TemplateID:     log.TemplateID.String(),
		Code:           string(log.Code),
		Text:           log.Text,
		Raw:            log.Raw,
		CreatedAt:      log.CreatedAt,
	}
}
