package models

import "time"

type Message struct {
	ID                 string
	NotificationID     string
	EnvironmentID      string
	OrganizationID     string
	SubscriberID       string
	TemplateID         string
	MessageTemplateID  string
	Channel            string
	TransactionID      string
	Content            string
	Payload            []byte
	FeedID             *string
	CTA                []byte
	TemplateIdentifier string
	JobID              string
	Seen               bool
	Read               bool
	CreatedAt          time.Time
}

type Subscriber struct {
	ID             string
	EnvironmentID  string
	OrganizationID string
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	CreatedAt      time.Time
}

type Notification struct {
	ID             string
	EnvironmentID  string
	OrganizationID string
	SubscriberID   string
	TemplateID     string
	TransactionID  string
	CreatedAt      time.Time
}

type ExecutionDetail struct {
	ID             string
	JobID          string
	NotificationID string
	SubscriberID   string
	EnvironmentID  string
	OrganizationID string
	TransactionID  string
	Detail         string
	Source         string
	Status         string
	IsTest         bool
	IsRetry        bool
	Raw            []byte
	MessageID      *string
	ProviderID     string
	CreatedAt      time.Time
}

type NotificationLog struct {
	ID             string
	TransactionID  string
	Status         string
	EnvironmentID  string
	OrganizationID string
	NotificationID string
	MessageID      *string
	SubscriberID   string
	TemplateID     string
	Code           string
	Text           string
	Raw            []byte
	CreatedAt      time.Time
}
