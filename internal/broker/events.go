package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func dealerKey(dealerID int64) string {
	return fmt.Sprintf("dealer-%d", dealerID)
}

func offerKey(offerID int64) string {
	return fmt.Sprintf("offer-%d", offerID)
}

// PublishCriteriaSaved publishes CriteriaSaved trigger event
func (ep *EventPublisher) PublishCriteriaSaved(ctx context.Context, event *models.CriteriaSavedEvent) error {
	return ep.producer.PublishEvent(ctx, dealerKey(event.DealerID), event)
}

// PublishOfferSaved publishes OfferSaved trigger event
func (ep *EventPublisher) PublishOfferSaved(ctx context.Context, event *models.OfferSavedEvent) error {
	return ep.producer.PublishEvent(ctx, offerKey(event.OfferID), event)
}

// PublishSuitableCarsUpdated publishes SuitableCarsUpdated event
func (ep *EventPublisher) PublishSuitableCarsUpdated(ctx context.Context, event *models.SuitableCarsUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, dealerKey(event.DealerID), event)
}

// PublishSuitableSellersUpdated publishes SuitableSellersUpdated event
func (ep *EventPublisher) PublishSuitableSellersUpdated(ctx context.Context, event *models.SuitableSellersUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, dealerKey(event.DealerID), event)
}

// PublishDealCompleted publishes DealCompleted event, keyed by the buyer
func (ep *EventPublisher) PublishDealCompleted(ctx context.Context, event *models.DealCompletedEvent) error {
	key := fmt.Sprintf("%s-%d", event.Buyer.Kind, event.Buyer.ID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOfferFulfilled publishes OfferFulfilled event
func (ep *EventPublisher) PublishOfferFulfilled(ctx context.Context, event *models.OfferFulfilledEvent) error {
	return ep.producer.PublishEvent(ctx, offerKey(event.OfferID), event)
}

// EventHandler handles incoming trigger events
type EventHandler struct {
	onCriteriaSaved func(context.Context, *models.CriteriaSavedEvent) error
	onOfferSaved    func(context.Context, *models.OfferSavedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnCriteriaSaved registers a handler for CriteriaSaved events
func (eh *EventHandler) OnCriteriaSaved(handler func(context.Context, *models.CriteriaSavedEvent) error) {
	eh.onCriteriaSaved = handler
}

// OnOfferSaved registers a handler for OfferSaved events
func (eh *EventHandler) OnOfferSaved(handler func(context.Context, *models.OfferSavedEvent) error) {
	eh.onOfferSaved = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypeCriteriaSaved:
		if eh.onCriteriaSaved != nil {
			var event models.CriteriaSavedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CriteriaSaved event: %w", err)
			}
			return eh.onCriteriaSaved(ctx, &event)
		}

	case models.EventTypeOfferSaved:
		if eh.onOfferSaved != nil {
			var event models.OfferSavedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OfferSaved event: %w", err)
			}
			return eh.onOfferSaved(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
