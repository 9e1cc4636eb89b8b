package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Triggers published by the marketplace CRUD layer.
	EventTypeCriteriaSaved = "CRITERIA_SAVED"
	EventTypeOfferSaved    = "OFFER_SAVED"

	// Outcomes published by the engine.
	EventTypeSuitableCarsUpdated    = "SUITABLE_CARS_UPDATED"
	EventTypeSuitableSellersUpdated = "SUITABLE_SELLERS_UPDATED"
	EventTypeDealCompleted          = "DEAL_COMPLETED"
	EventTypeOfferFulfilled         = "OFFER_FULFILLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and the current time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// Base returns the envelope shared by every event.
func (e BaseEvent) Base() BaseEvent {
	return e
}

// CriteriaSavedEvent is published when a dealer creates or updates its criteria
type CriteriaSavedEvent struct {
	BaseEvent
	DealerID int64 `json:"dealer_id"`
}

// OfferSavedEvent is published when a buyer creates or updates an offer
type OfferSavedEvent struct {
	BaseEvent
	OfferID int64 `json:"offer_id"`
}

// SuitableCarsUpdatedEvent published after a match run
type SuitableCarsUpdatedEvent struct {
	BaseEvent
	DealerID int64   `json:"dealer_id"`
	CarIDs   []int64 `json:"car_ids"`
}

// SuitableSellersUpdatedEvent published after a rank run
type SuitableSellersUpdatedEvent struct {
	BaseEvent
	DealerID  int64           `json:"dealer_id"`
	SellerIDs []int64         `json:"seller_ids"`
	CarIDs    []int64         `json:"car_ids"`
	BestPrice decimal.Decimal `json:"best_price"`
}

// DealCompletedEvent published when a deal transaction commits
type DealCompletedEvent struct {
	BaseEvent
	Seller    PartyRef        `json:"seller"`
	Buyer     PartyRef        `json:"buyer"`
	StockID   int64           `json:"stock_id"`
	CarID     int64           `json:"car_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

// OfferFulfilledEvent published when an offer is closed by a deal
type OfferFulfilledEvent struct {
	BaseEvent
	OfferID  int64           `json:"offer_id"`
	BuyerID  int64           `json:"buyer_id"`
	DealerID int64           `json:"dealer_id"`
	StockID  int64           `json:"stock_id"`
	Price    decimal.Decimal `json:"price"`
}
