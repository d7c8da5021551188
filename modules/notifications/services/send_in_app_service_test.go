package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/usignal/usignal/modules/notifications/domain/entities/executiondetail"
	"github.com/usignal/usignal/modules/notifications/domain/entities/message"
	"github.com/usignal/usignal/modules/notifications/domain/entities/notification"
	"github.com/usignal/usignal/modules/notifications/domain/entities/notificationlog"
	"github.com/usignal/usignal/modules/notifications/domain/entities/subscriber"
	"github.com/usignal/usignal/modules/notifications/services"
	"github.com/usignal/usignal/pkg/compiler"
	"github.com/usignal/usignal/pkg/queue"
)

type mockNotificationRepo struct {
	notifications map[uuid.UUID]*notification.Notification
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*notification.Notification, error) {
	n, ok := m.notifications[id]
	if !ok {
		return nil, notification.ErrNotificationNotFound
	}
	return n, nil
}

func (m *mockNotificationRepo) FindByTransactionID(
	_ context.Context, _, subscriberID uuid.UUID, transactionID string,
) (*notification.Notification, error) {
	for _, n := range m.notifications {
		if n.SubscriberID == subscriberID && n.TransactionID == transactionID {
			return n, nil
		}
	}
	return nil, notification.ErrNotificationNotFound
}

func (m *mockNotificationRepo) Create(_ context.Context, n *notification.Notification) error {
	m.notifications[n.ID] = n
	return nil
}

type mockSubscriberRepo struct {
	subscribers map[uuid.UUID]*subscriber.Subscriber
}

func (m *mockSubscriberRepo) GetByID(_ context.Context, _, id uuid.UUID) (*subscriber.Subscriber, error) {
	s, ok := m.subscribers[id]
	if !ok {
		return nil, subscriber.ErrSubscriberNotFound
	}
	return s, nil
}

func (m *mockSubscriberRepo) Create(_ context.Context, s *subscriber.Subscriber) error {
	m.subscribers[s.ID] = s
	return nil
}

type mockMessageRepo struct {
	t *testing.T

	messages    map[uuid.UUID]*message.Message
	unseenCount int64
	unreadCount int64

	// Expected Count scope; every counter query must carry it.
	environmentID uuid.UUID
	subscriberID  uuid.UUID

	created []*message.Message
	updated []message.UpdatePatch
}

func newMockMessageRepo(t *testing.T) *mockMessageRepo {
	return &mockMessageRepo{t: t, messages: map[uuid.UUID]*message.Message{}}
}

func (m *mockMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*message.Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, message.ErrMessageNotFound
	}
	return msg, nil
}

func (m *mockMessageRepo) FindOne(_ context.Context, filter message.DedupFilter) (*message.Message, error) {
	for _, msg := range m.messages {
		if msg.NotificationID == filter.NotificationID &&
			msg.SubscriberID == filter.SubscriberID &&
			msg.TransactionID == filter.TransactionID &&
			msg.Content == filter.Content {
			return msg, nil
		}
	}
	return nil, message.ErrMessageNotFound
}

func (m *mockMessageRepo) Create(_ context.Context, msg *message.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages[msg.ID] = msg
	m.created = append(m.created, msg)
	return nil
}

func (m *mockMessageRepo) Update(_ context.Context, id uuid.UUID, patch message.UpdatePatch) error {
	msg, ok := m.messages[id]
	if !ok {
		return message.ErrMessageNotFound
	}
	msg.Seen = patch.Seen
	msg.CTA = patch.CTA
	msg.Content = patch.Content
	msg.Payload = patch.Payload
	msg.CreatedAt = patch.CreatedAt
	m.updated = append(m.updated, patch)
	return nil
}

func (m *mockMessageRepo) Count(
	_ context.Context, environmentID, subscriberID uuid.UUID, channel message.Channel, filter message.CountFilter,
) (int64, error) {
	require.Equal(m.t, m.environmentID, environmentID)
	require.Equal(m.t, m.subscriberID, subscriberID)
	require.Equal(m.t, message.ChannelInApp, channel)
	if filter.Seen != nil {
		return m.unseenCount, nil
	}
	return m.unreadCount, nil
}

type mockExecutionDetailRepo struct {
	details []*executiondetail.ExecutionDetail
	err     error
}

func (m *mockExecutionDetailRepo) Create(_ context.Context, detail *executiondetail.ExecutionDetail) error {
	if m.err != nil {
		return m.err
	}
	m.details = append(m.details, detail)
	return nil
}

type mockNotificationLogRepo struct {
	logs []*notificationlog.NotificationLog
}

func (m *mockNotificationLogRepo) Create(_ context.Context, log *notificationlog.NotificationLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type recordingQueue struct {
	jobs []queue.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Process(_ context.Context, _ queue.Handler) error {
	return nil
}

type fixture struct {
	service       *services.SendInAppService
	notifications *mockNotificationRepo
	subscribers   *mockSubscriberRepo
	messages      *mockMessageRepo
	details       *mockExecutionDetailRepo
	logs          *mockNotificationLogRepo
	queue         *recordingQueue

	cmd services.SendMessageCommand
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	environmentID := uuid.New()
	organizationID := uuid.New()
	subscriberID := uuid.New()
	templateID := uuid.New()

	n := &notification.Notification{
		ID:             uuid.New(),
		EnvironmentID:  environmentID,
		OrganizationID: organizationID,
		SubscriberID:   subscriberID,
		TemplateID:     templateID,
		TransactionID:  "tx-1",
	}
	sub := &subscriber.Subscriber{
		ID:            subscriberID,
		EnvironmentID: environmentID,
		FirstName:     "Ann",
		LastName:      "Lee",
		Email:         "ann@example.com",
	}

	f := &fixture{
		notifications: &mockNotificationRepo{notifications: map[uuid.UUID]*notification.Notification{n.ID: n}},
		subscribers:   &mockSubscriberRepo{subscribers: map[uuid.UUID]*subscriber.Subscriber{sub.ID: sub}},
		messages:      newMockMessageRepo(t),
		details:       &mockExecutionDetailRepo{},
		logs:          &mockNotificationLogRepo{},
		queue:         &recordingQueue{},
	}
	f.messages.unseenCount = 3
	f.messages.unreadCount = 5
	f.messages.environmentID = environmentID
	f.messages.subscriberID = subscriberID

	f.service = services.NewSendInAppService(services.SendInAppServiceConfig{
		NotificationRepo:    f.notifications,
		SubscriberRepo:      f.subscribers,
		MessageRepo:         f.messages,
		ExecutionDetailRepo: f.details,
		NotificationLogRepo: f.logs,
		Compiler:            compiler.New(),
		Queue:               f.queue,
	})

	f.cmd = services.SendMessageCommand{
		NotificationID: n.ID,
		SubscriberID:   subscriberID,
		EnvironmentID:  environmentID,
		OrganizationID: organizationID,
		Step: services.StepTemplate{
			MessageTemplateID: uuid.New(),
			Content:           "Hi {{subscriber.firstName}}, order {{orderId}} shipped",
		},
		Payload:       map[string]any{"orderId": "o-42"},
		TransactionID: "tx-1",
		JobID:         "job-1",
		Identifier:    "order-shipped",
	}
	return f
}

func TestSendInApp_CreatesMessage(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.messages.created, 1)
	msg := f.messages.created[0]
	require.Equal(t, "Hi Ann, order o-42 shipped", msg.Content)
	require.Equal(t, message.ChannelInApp, msg.Channel)
	require.Equal(t, "tx-1", msg.TransactionID)
	require.Equal(t, "order-shipped", msg.TemplateIdentifier)
	require.Equal(t, map[string]any{"orderId": "o-42"}, msg.Payload)
	require.Empty(t, f.messages.updated)
}

func TestSendInApp_AuditTrailOrder(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.details.details, 2)
	created, sent := f.details.details[0], f.details.details[1]

	require.Equal(t, executiondetail.DetailMessageCreated, created.Detail)
	require.Equal(t, executiondetail.StatusPending, created.Status)
	require.Equal(t, executiondetail.SourceInternal, created.Source)
	require.NotNil(t, created.MessageID)
	require.Equal(t, message.ProviderInApp, created.ProviderID)

	require.Equal(t, executiondetail.DetailMessageSent, sent.Detail)
	require.Equal(t, executiondetail.StatusSuccess, sent.Status)
	require.Equal(t, created.MessageID, sent.MessageID)
}

func TestSendInApp_EnqueuesCountersInOrder(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.queue.jobs, 2)
	require.Equal(t, services.EventUnseenCountChanged, f.queue.jobs[0].Event)
	require.Equal(t, services.EventUnreadCountChanged, f.queue.jobs[1].Event)
	require.Equal(t, f.cmd.SubscriberID.String(), f.queue.jobs[0].UserID)

	var unseen map[string]int64
	require.NoError(t, json.Unmarshal(f.queue.jobs[0].Payload, &unseen))
	require.Equal(t, int64(3), unseen["unseenCount"])

	var unread map[string]int64
	require.NoError(t, json.Unmarshal(f.queue.jobs[1].Payload, &unread))
	require.Equal(t, int64(5), unread["unreadCount"])
}

func TestSendInApp_RedeliveryUpdatesExisting(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))
	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.messages.created, 1)
	require.Len(t, f.messages.updated, 1)

	patch := f.messages.updated[0]
	require.False(t, patch.Seen)
	require.Equal(t, "Hi Ann, order o-42 shipped", patch.Content)

	// Each run still emits the full audit trail and both counter events.
	require.Len(t, f.details.details, 4)
	require.Len(t, f.queue.jobs, 4)
}

func TestSendInApp_ContentChangeCreatesNewMessage(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	f.cmd.Payload = map[string]any{"orderId": "o-43"}
	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	// Rendered content is part of the dedup tuple: any difference yields a
	// second record instead of an update.
	require.Len(t, f.messages.created, 2)
	require.Empty(t, f.messages.updated)
	require.Equal(t, "Hi Ann, order o-42 shipped", f.messages.created[0].Content)
	require.Equal(t, "Hi Ann, order o-43 shipped", f.messages.created[1].Content)
}

func TestSendInApp_RedeliveryAdvancesCreatedAt(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))
	firstCreatedAt := f.messages.created[0].CreatedAt

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.messages.updated, 1)
	patch := f.messages.updated[0]
	require.False(t, patch.CreatedAt.IsZero())
	require.False(t, patch.CreatedAt.Before(firstCreatedAt))
	require.Equal(t, patch.CreatedAt, f.messages.created[0].CreatedAt)
}

func TestSendInApp_RendersCTA(t *testing.T) {
	f := newFixture(t)
	f.cmd.Step.CTA = &message.CTA{
		URL: "/orders/{{orderId}}",
		Buttons: []message.CTAButton{
			{Type: "primary", Content: "View {{orderId}}"},
			{Type: "secondary", Content: "Dismiss"},
		},
	}

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.messages.created, 1)
	cta := f.messages.created[0].CTA
	require.NotNil(t, cta)
	require.Equal(t, "/orders/o-42", cta.URL)
	require.Len(t, cta.Buttons, 2)
	require.Equal(t, "View o-42", cta.Buttons[0].Content)
	require.Equal(t, "primary", cta.Buttons[0].Type)
	require.Equal(t, "Dismiss", cta.Buttons[1].Content)
}

func TestSendInApp_StripsAttachments(t *testing.T) {
	f := newFixture(t)
	f.cmd.Payload = map[string]any{
		"orderId":     "o-42",
		"attachments": []any{"file.pdf"},
	}

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.messages.created, 1)
	require.Equal(t, map[string]any{"orderId": "o-42"}, f.messages.created[0].Payload)
}

func TestSendInApp_ContentRenderFailureShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.cmd.Step.Content = "Hi {{#broken"

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Empty(t, f.messages.created)
	require.Empty(t, f.messages.updated)
	require.Empty(t, f.queue.jobs)
	require.Empty(t, f.logs.logs)

	require.Len(t, f.details.details, 1)
	detail := f.details.details[0]
	require.Equal(t, executiondetail.DetailMessageContentNotGenerated, detail.Detail)
	require.Equal(t, executiondetail.StatusFailed, detail.Status)

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(detail.Raw, &snapshot))
	require.Equal(t, "o-42", snapshot["orderId"])
	require.Contains(t, snapshot, "subscriber")
	step, ok := snapshot["step"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, step["digest"])
	require.Equal(t, float64(0), step["total_count"])
}

func TestSendInApp_CTARenderFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.cmd.Step.CTA = &message.CTA{URL: "/orders/{{#broken"}

	err := f.service.Execute(context.Background(), f.cmd)
	require.Error(t, err)
	require.Empty(t, f.messages.created)
}

func TestSendInApp_DigestStepContext(t *testing.T) {
	f := newFixture(t)
	f.cmd.Step.Content = "{{step.total_count}} updates for {{subscriber.firstName}}"
	f.cmd.Events = []map[string]any{
		{"orderId": "o-1"},
		{"orderId": "o-2"},
	}

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.messages.created, 1)
	require.Equal(t, "2 updates for Ann", f.messages.created[0].Content)
}

func TestSendInApp_UnknownNotification(t *testing.T) {
	f := newFixture(t)
	f.cmd.NotificationID = uuid.New()

	err := f.service.Execute(context.Background(), f.cmd)
	require.ErrorIs(t, err, notification.ErrNotificationNotFound)
}

func TestSendInApp_UnknownSubscriber(t *testing.T) {
	f := newFixture(t)
	f.cmd.SubscriberID = uuid.New()

	err := f.service.Execute(context.Background(), f.cmd)
	require.ErrorIs(t, err, subscriber.ErrSubscriberNotFound)
}

func TestSendInApp_AppendsOperationalLog(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Execute(context.Background(), f.cmd))

	require.Len(t, f.logs.logs, 1)
	entry := f.logs.logs[0]
	require.Equal(t, notificationlog.CodeInAppMessageCreated, entry.Code)
	require.Equal(t, notificationlog.StatusSuccess, entry.Status)
	require.Equal(t, "In App message created", entry.Text)
	require.NotNil(t, entry.MessageID)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(entry.Raw, &raw))
	require.Equal(t, "order-shipped", raw["triggerIdentifier"])
}

func TestSendInApp_EnqueueFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis gone")

	err := f.service.Execute(context.Background(), f.cmd)
	require.Error(t, err)
	// The message itself is already persisted at this point.
	require.Len(t, f.messages.created, 1)
	// The final sent/success record is never written.
	for _, d := range f.details.details {
		require.NotEqual(t, executiondetail.DetailMessageSent, d.Detail)
	}
}
