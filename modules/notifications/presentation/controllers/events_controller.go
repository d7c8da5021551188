package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/usignal/usignal/modules/notifications/domain/entities/message"
	"github.com/usignal/usignal/modules/notifications/presentation/controllers/dtos"
	"github.com/usignal/usignal/modules/notifications/services"
	"github.com/usignal/usignal/pkg/composables"
	"github.com/usignal/usignal/pkg/httpapi"
	"github.com/usignal/usignal/pkg/server"
)

type EventsControllerConfig struct {
	BasePath string
	Service  *services.TriggerEventService
}

// EventsController exposes the trigger endpoint: one POST turns an event
// into an in-app delivery for a subscriber.
type EventsController struct {
	basePath string
	service  *services.TriggerEventService
}

func NewEventsController(cfg EventsControllerConfig) server.Controller {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1/events"
	}
	return &EventsController{
		basePath: basePath,
		service:  cfg.Service,
	}
}

func (c *EventsController) Key() string {
	return c.basePath
}

func (c *EventsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/trigger", c.Trigger).Methods(http.MethodPost)
}

func (c *EventsController) Trigger(w http.ResponseWriter, r *http.Request) {
	var req dtos.TriggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = httpapi.WriteInvalidRequest(w, "malformed request body")
		return
	}
	if err := req.Validate(); err != nil {
		_ = httpapi.WriteInvalidRequest(w, err.Error())
		return
	}

	cmd, err := toTriggerCommand(&req)
	if err != nil {
		_ = httpapi.WriteInvalidRequest(w, err.Error())
		return
	}

	transactionID, err := c.service.Execute(r.Context(), cmd)
	if err != nil {
		composables.UseLogger(r.Context()).WithError(err).WithField("identifier", req.Name).Error("trigger failed")
		_ = httpapi.WriteInternal(w)
		return
	}

	_ = httpapi.WriteJSON(w, http.StatusCreated, &dtos.TriggerEventResponse{
		Acknowledged:  true,
		TransactionID: transactionID,
	})
}

func toTriggerCommand(req *dtos.TriggerEventRequest) (services.TriggerEventCommand, error) {
	environmentID, err := uuid.Parse(req.EnvironmentID)
	if err != nil {
		return services.TriggerEventCommand{}, errors.New("environmentId must be a uuid")
	}
	organizationID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		return services.TriggerEventCommand{}, errors.New("organizationId must be a uuid")
	}
	subscriberID, err := uuid.Parse(req.To.SubscriberID)
	if err != nil {
		return services.TriggerEventCommand{}, errors.New("to.subscriberId must be a uuid")
	}

	step := services.StepTemplate{Content: req.Step.Content}
	if req.Step.FeedID != "" {
		feedID, err := uuid.Parse(req.Step.FeedID)
		if err != nil {
			return services.TriggerEventCommand{}, errors.New("step.feedId must be a uuid")
		}
		step.FeedID = &feedID
	}
	if req.Step.CTA != nil {
		cta := &message.CTA{URL: req.Step.CTA.URL}
		for _, button := range req.Step.CTA.Buttons {
			cta.Buttons = append(cta.Buttons, message.CTAButton{Type: button.Type, Content: button.Content})
		}
		step.CTA = cta
	}

	return services.TriggerEventCommand{
		Identifier:     req.Name,
		EnvironmentID:  environmentID,
		OrganizationID: organizationID,
		To: services.SubscriberRef{
			ID:        subscriberID,
			FirstName: req.To.FirstName,
			LastName:  req.To.LastName,
			Email:     req.To.Email,
			Phone:     req.To.Phone,
		},
		Payload:       req.Payload,
		TransactionID: req.TransactionID,
		Step:          step,
		Events:        req.Events,
	}, nil
}
