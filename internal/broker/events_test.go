package broker

import (
	"context"
	"encoding/json"
	"testing"

	"auto-market-engine/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestEventHandler_RoutesTriggers(t *testing.T) {
	ctx := context.Background()
	h := NewEventHandler()

	var dealerID, offerID int64
	h.OnCriteriaSaved(func(ctx context.Context, e *models.CriteriaSavedEvent) error {
		dealerID = e.DealerID
		return nil
	})
	h.OnOfferSaved(func(ctx context.Context, e *models.OfferSavedEvent) error {
		offerID = e.OfferID
		return nil
	})

	criteria := &models.CriteriaSavedEvent{BaseEvent: models.NewBaseEvent(models.EventTypeCriteriaSaved), DealerID: 7}
	require.NoError(t, h.HandleMessage(ctx, message(t, criteria)))
	assert.Equal(t, int64(7), dealerID)

	offer := &models.OfferSavedEvent{BaseEvent: models.NewBaseEvent(models.EventTypeOfferSaved), OfferID: 11}
	require.NoError(t, h.HandleMessage(ctx, message(t, offer)))
	assert.Equal(t, int64(11), offerID)
}

func TestEventHandler_IgnoresUnknownTypes(t *testing.T) {
	h := NewEventHandler()
	event := &models.DealCompletedEvent{BaseEvent: models.NewBaseEvent(models.EventTypeDealCompleted)}
	assert.NoError(t, h.HandleMessage(context.Background(), message(t, event)))
}

func TestEventHandler_RejectsGarbage(t *testing.T) {
	h := NewEventHandler()
	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestHeaderValue(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{
		{Key: HeaderEventType, Value: []byte(models.EventTypeDealCompleted)},
		{Key: HeaderEventID, Value: []byte("abc")},
	}}

	assert.Equal(t, models.EventTypeDealCompleted, headerValue(msg, HeaderEventType))
	assert.Equal(t, "abc", headerValue(msg, HeaderEventID))
	assert.Empty(t, headerValue(msg, "missing"))
}

func TestEventsExposeTheirEnvelope(t *testing.T) {
	var event interface{} = &models.DealCompletedEvent{BaseEvent: models.NewBaseEvent(models.EventTypeDealCompleted)}

	e, ok := event.(enveloped)
	require.True(t, ok)
	assert.Equal(t, models.EventTypeDealCompleted, e.Base().EventType)
	assert.NotEmpty(t, e.Base().EventID)
}
