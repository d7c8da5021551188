package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/usignal/usignal/modules/notifications/domain/entities/executiondetail"
	"github.com/usignal/usignal/modules/notifications/domain/entities/message"
	"github.com/usignal/usignal/modules/notifications/domain/entities/notification"
	"github.com/usignal/usignal/modules/notifications/domain/entities/notificationlog"
	"github.com/usignal/usignal/modules/notifications/domain/entities/subscriber"
	"github.com/usignal/usignal/pkg/compiler"
	"github.com/usignal/usignal/pkg/queue"
)

const (
	EventUnseenCountChanged = "unseen_count_changed"
	EventUnreadCountChanged = "unread_count_changed"
)

// StepTemplate is the in-app step of a workflow: the content template plus
// an optional call-to-action, both rendered per delivery.
type StepTemplate struct {
	MessageTemplateID uuid.UUID
	Content           string
	CTA               *message.CTA
	FeedID            *uuid.UUID
}

type SendMessageCommand struct {
	NotificationID uuid.UUID
	SubscriberID   uuid.UUID
	EnvironmentID  uuid.UUID
	OrganizationID uuid.UUID
	Step           StepTemplate
	Payload        map[string]any
	TransactionID  string
	JobID          string
	Identifier     string
	Events         []map[string]any
}

type SendInAppServiceConfig struct {
	NotificationRepo    notification.Repository
	SubscriberRepo      subscriber.Repository
	MessageRepo         message.Repository
	ExecutionDetailRepo executiondetail.Repository
	NotificationLogRepo notificationlog.Repository
	Compiler            compiler.Compiler
	Queue               queue.Queue
	Logger              *logrus.Logger
}

// SendInAppService renders and persists an in-app message for one
// subscriber, recomputes the unseen/unread counters and hands the counter
// change events to the dispatch queue.
type SendInAppService struct {
	notificationRepo    notification.Repository
	subscriberRepo      subscriber.Repository
	messageRepo         message.Repository
	executionDetailRepo executiondetail.Repository
	notificationLogRepo notificationlog.Repository
	compiler            compiler.Compiler
	queue               queue.Queue
	logger              *logrus.Logger
}

func NewSendInAppService(config SendInAppServiceConfig) *SendInAppService {
	return &SendInAppService{
		notificationRepo:    config.NotificationRepo,
		subscriberRepo:      config.SubscriberRepo,
		messageRepo:         config.MessageRepo,
		executionDetailRepo: config.ExecutionDetailRepo,
		notificationLogRepo: config.NotificationLogRepo,
		compiler:            config.Compiler,
		queue:               config.Queue,
		logger:              config.Logger,
	}
}

func (s *SendInAppService) Execute(ctx context.Context, cmd SendMessageCommand) error {
	n, err := s.notificationRepo.GetByID(ctx, cmd.NotificationID)
	if err != nil {
		return fmt.Errorf("resolve notification: %w", err)
	}
	sub, err := s.subscriberRepo.GetByID(ctx, cmd.EnvironmentID, cmd.SubscriberID)
	if err != nil {
		return fmt.Errorf("resolve subscriber: %w", err)
	}

	renderCtx := s.renderContext(sub, cmd)

	content, err := s.compiler.Render(cmd.Step.Content, renderCtx)
	if err != nil {
		// Unrenderable core content means there is nothing meaningful to
		// deliver: record the failure and terminate without touching any
		// message.
		return s.abortContentNotGenerated(ctx, cmd, sub, err)
	}

	cta, err := s.renderCTA(cmd.Step.CTA, renderCtx)
	if err != nil {
		return err
	}

	messagePayload := stripAttachments(cmd.Payload)

	msg, err := s.upsertMessage(ctx, cmd, n, content, cta, messagePayload)
	if err != nil {
		return err
	}

	unseenCount, err := s.messageRepo.Count(
		ctx, cmd.EnvironmentID, cmd.SubscriberID, message.ChannelInApp,
		message.CountFilter{Seen: message.BoolPtr(false)},
	)
	if err != nil {
		return fmt.Errorf("count unseen: %w", err)
	}
	unreadCount, err := s.messageRepo.Count(
		ctx, cmd.EnvironmentID, cmd.SubscriberID, message.ChannelInApp,
		message.CountFilter{Read: message.BoolPtr(false)},
	)
	if err != nil {
		return fmt.Errorf("count unread: %w", err)
	}

	if err := s.executionDetailRepo.Create(ctx, s.executionDetail(cmd, executiondetail.ExecutionDetail{
		Detail:     executiondetail.DetailMessageCreated,
		Status:     executiondetail.StatusPending,
		MessageID:  &msg.ID,
		ProviderID: message.ProviderInApp,
	})); err != nil {
		return fmt.Errorf("append execution detail: %w", err)
	}

	if err := s.appendLog(ctx, cmd, n, msg); err != nil {
		return fmt.Errorf("append notification log: %w", err)
	}

	if err := s.enqueueCounterEvent(ctx, cmd.SubscriberID, EventUnseenCountChanged, "unseenCount", unseenCount); err != nil {
		return err
	}
	if err := s.enqueueCounterEvent(ctx, cmd.SubscriberID, EventUnreadCountChanged, "unreadCount", unreadCount); err != nil {
		return err
	}

	if err := s.executionDetailRepo.Create(ctx, s.executionDetail(cmd, executiondetail.ExecutionDetail{
		Detail:     executiondetail.DetailMessageSent,
		Status:     executiondetail.StatusSuccess,
		MessageID:  &msg.ID,
		ProviderID: message.ProviderInApp,
	})); err != nil {
		return fmt.Errorf("append execution detail: %w", err)
	}

	return nil
}

// renderContext builds the template context shared by the main content, the
// CTA URL and every CTA button: subscriber profile, digest step info and
// the trigger payload merged at the top level.
func (s *SendInAppService) renderContext(sub *subscriber.Subscriber, cmd SendMessageCommand) map[string]any {
	renderCtx := map[string]any{
		"subscriber": sub.RenderContext(),
		"step":       stepContext(cmd.Events),
	}
	for k, v := range cmd.Payload {
		renderCtx[k] = v
	}
	return renderCtx
}

func stepContext(events []map[string]any) map[string]any {
	return map[string]any{
		"digest":      len(events) > 0,
		"events":      events,
		"total_count": len(events),
	}
}

func (s *SendInAppService) abortContentNotGenerated(
	ctx context.Context,
	cmd SendMessageCommand,
	sub *subscriber.Subscriber,
	renderErr error,
) error {
	snapshot := map[string]any{
		"subscriber": sub.RenderContext(),
		"step":       stepContext(cmd.Events),
		"error":      renderErr.Error(),
	}
	for k, v := range cmd.Payload {
		snapshot[k] = v
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal render failure snapshot: %w", err)
	}

	if err := s.executionDetailRepo.Create(ctx, s.executionDetail(cmd, executiondetail.ExecutionDetail{
		Detail: executiondetail.DetailMessageContentNotGenerated,
		Status: executiondetail.StatusFailed,
		Raw:    raw,
	})); err != nil {
		return fmt.Errorf("append execution detail: %w", err)
	}

	if s.logger != nil {
		s.logger.WithError(renderErr).WithFields(logrus.Fields{
			"transaction_id": cmd.TransactionID,
			"subscriber_id":  cmd.SubscriberID,
		}).Warn("in-app content not generated")
	}
	return nil
}

// renderCTA renders the URL and each button content through the compiler,
// one at a time in original order, so the output is deterministic. Failures
// here are deliberately not treated like content failures: they propagate.
func (s *SendInAppService) renderCTA(cta *message.CTA, renderCtx map[string]any) (*message.CTA, error) {
	if cta == nil {
		return nil, nil
	}

	rendered := &message.CTA{}
	if cta.URL != "" {
		url, err := s.compiler.Render(cta.URL, renderCtx)
		if err != nil {
			return nil, fmt.Errorf("render cta url: %w", err)
		}
		rendered.URL = url
	}

	if len(cta.Buttons) > 0 {
		buttons := make([]message.CTAButton, 0, len(cta.Buttons))
		for _, button := range cta.Buttons {
			content, err := s.compiler.Render(button.Content, renderCtx)
			if err != nil {
				return nil, fmt.Errorf("render cta button: %w", err)
			}
			buttons = append(buttons, message.CTAButton{Type: button.Type, Content: content})
		}
		rendered.Buttons = buttons
	}

	return rendered, nil
}

// stripAttachments removes attachments before the payload participates in
// the dedup key or is stored: attachments are not persisted on in-app
// messages.
func stripAttachments(payload map[string]any) map[string]any {
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "attachments" {
			continue
		}
		stripped[k] = v
	}
	return stripped
}

func (s *SendInAppService) upsertMessage(
	ctx context.Context,
	cmd SendMessageCommand,
	n *notification.Notification,
	content string,
	cta *message.CTA,
	payload map[string]any,
) (*message.Message, error) {
	filter := message.DedupFilter{
		NotificationID:    n.ID,
		EnvironmentID:     cmd.EnvironmentID,
		OrganizationID:    cmd.OrganizationID,
		SubscriberID:      cmd.SubscriberID,
		TemplateID:        n.TemplateID,
		MessageTemplateID: cmd.Step.MessageTemplateID,
		Channel:           message.ChannelInApp,
		TransactionID:     cmd.TransactionID,
		Content:           content,
		Payload:           payload,
		FeedID:            cmd.Step.FeedID,
	}

	existing, err := s.messageRepo.FindOne(ctx, filter)
	if err != nil && !errors.Is(err, message.ErrMessageNotFound) {
		return nil, fmt.Errorf("find message: %w", err)
	}

	if existing == nil {
		msg := &message.Message{
			NotificationID:     n.ID,
			EnvironmentID:      cmd.EnvironmentID,
			OrganizationID:     cmd.OrganizationID,
			SubscriberID:       cmd.SubscriberID,
			TemplateID:         n.TemplateID,
			MessageTemplateID:  cmd.Step.MessageTemplateID,
			Channel:            message.ChannelInApp,
			TransactionID:      cmd.TransactionID,
			Content:            content,
			Payload:            payload,
			FeedID:             cmd.Step.FeedID,
			CTA:                cta,
			TemplateIdentifier: cmd.Identifier,
			JobID:              cmd.JobID,
		}
		if err := s.messageRepo.Create(ctx, msg); err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		return msg, nil
	}

	if err := s.messageRepo.Update(ctx, existing.ID, message.UpdatePatch{
		Seen:      false,
		CTA:       cta,
		Content:   content,
		Payload:   payload,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	// Re-read so downstream steps observe the canonical stored record.
	msg, err := s.messageRepo.GetByID(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}
	return msg, nil
}

func (s *SendInAppService) appendLog(
	ctx context.Context,
	cmd SendMessageCommand,
	n *notification.Notification,
	msg *message.Message,
) error {
	raw, err := json.Marshal(map[string]any{
		"payload":           cmd.Payload,
		"triggerIdentifier": cmd.Identifier,
	})
	if err != nil {
		return fmt.Errorf("marshal log raw: %w", err)
	}
	return s.notificationLogRepo.Create(ctx, &notificationlog.NotificationLog{
		TransactionID:  cmd.TransactionID,
		Status:         notificationlog.StatusSuccess,
		EnvironmentID:  cmd.EnvironmentID,
		OrganizationID: cmd.OrganizationID,
		NotificationID: n.ID,
		MessageID:      &msg.ID,
		SubscriberID:   cmd.SubscriberID,
		TemplateID:     n.TemplateID,
		Code:           notificationlog.CodeInAppMessageCreated,
		Text:           "In App message created",
		Raw:            raw,
	})
}

func (s *SendInAppService) enqueueCounterEvent(
	ctx context.Context,
	subscriberID uuid.UUID,
	event, counterField string,
	count int64,
) error {
	payload, err := json.Marshal(map[string]int64{counterField: count})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	if err := s.queue.Enqueue(ctx, queue.Job{
		Event:   event,
		UserID:  subscriberID.String(),
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", event, err)
	}
	return nil
}

func (s *SendInAppService) executionDetail(
	cmd SendMessageCommand,
	detail executiondetail.ExecutionDetail,
) *executiondetail.ExecutionDetail {
	detail.JobID = cmd.JobID
	detail.NotificationID = cmd.NotificationID
	detail.SubscriberID = cmd.SubscriberID
	detail.EnvironmentID = cmd.EnvironmentID
	detail.OrganizationID = cmd.OrganizationID
	detail.TransactionID = cmd.TransactionID
	detail.Source = executiondetail.SourceInternal
	return &detail
}
