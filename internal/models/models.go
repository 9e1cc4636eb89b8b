package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state shared by every engine entity.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusDeactivated Status = "DEACTIVATED"
	// StatusFulfilled is only used by purchase offers.
	StatusFulfilled Status = "FULFILLED"
)

// AuditedEntity carries the audit columns embedded by every entity.
type AuditedEntity struct {
	Status    Status    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the entity is in the active state.
func (e AuditedEntity) IsActive() bool {
	return e.Status == StatusActive
}

// PartyKind distinguishes the three marketplace roles.
type PartyKind string

const (
	PartySeller PartyKind = "SELLER"
	PartyDealer PartyKind = "DEALER"
	PartyBuyer  PartyKind = "BUYER"
)

// PartyRef identifies a marketplace party.
type PartyRef struct {
	Kind PartyKind `json:"kind"`
	ID   int64     `json:"id"`
}

func Seller(id int64) PartyRef { return PartyRef{Kind: PartySeller, ID: id} }
func Dealer(id int64) PartyRef { return PartyRef{Kind: PartyDealer, ID: id} }
func Buyer(id int64) PartyRef  { return PartyRef{Kind: PartyBuyer, ID: id} }

// Less orders parties by kind then id. Row locks are taken in this order.
func (p PartyRef) Less(o PartyRef) bool {
	if p.Kind != o.Kind {
		return p.Kind < o.Kind
	}
	return p.ID < o.ID
}

// Account holds a party balance.
type Account struct {
	Party     PartyRef        `json:"party"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Categorical specification values.
const (
	TransmissionManual  = "MANUAL"
	TransmissionAuto    = "AUTO"
	TransmissionRobotic = "ROBOTIC"

	BodyCoupe     = "COUPE"
	BodySedan     = "SEDAN"
	BodyHatchback = "HATCHBACK"
	BodySUV       = "SUV"
	BodyMinivan   = "MINIVAN"

	FuelGasoline = "GASOLINE"
	FuelDiesel   = "DIESEL"
	FuelGas      = "GAS"

	DriveFront = "FRONT"
	DriveBack  = "BACK"
	DriveFull  = "FULL"
)

// CarSpecification is the attribute set shared by catalog cars and dealer criteria.
type CarSpecification struct {
	Transmission     string  `db:"transmission" json:"transmission"`
	BodyType         string  `db:"body_type" json:"body_type"`
	FuelType         string  `db:"fuel_type" json:"fuel_type"`
	DriveUnit        string  `db:"drive_unit" json:"drive_unit"`
	Color            string  `db:"color" json:"color"`
	EngineVolume     float64 `db:"engine_volume" json:"engine_volume"`
	SafeControls     bool    `db:"safe_controls" json:"safe_controls"`
	ParkingHelp      bool    `db:"parking_help" json:"parking_help"`
	ClimateControls  bool    `db:"climate_controls" json:"climate_controls"`
	Multimedia       bool    `db:"multimedia" json:"multimedia"`
	AdditionalSafety bool    `db:"additional_safety" json:"additional_safety"`
	OtherAdditions   bool    `db:"other_additions" json:"other_additions"`
}

// CatalogCar is a market-available car model.
type CatalogCar struct {
	ID int64 `db:"id" json:"id"`
	CarSpecification
	Brand            string          `db:"brand" json:"brand"`
	ModelName        string          `db:"model_name" json:"model_name"`
	YearOfProduction int             `db:"year_of_production" json:"year_of_production"`
	DemandLevel      decimal.Decimal `db:"demand_level" json:"demand_level"`
	AuditedEntity
}

// DealerCriteria is a dealer's search specification.
type DealerCriteria struct {
	ID       int64 `db:"id" json:"id"`
	DealerID int64 `db:"dealer_id" json:"dealer_id"`
	CarSpecification
	MinYearOfProduction int `db:"min_year_of_production" json:"min_year_of_production"`
	AuditedEntity
}

// SuitableCarSet is the matcher output for one dealer.
type SuitableCarSet struct {
	DealerID int64   `json:"dealer_id"`
	CarIDs   []int64 `json:"car_ids"`
}

// SuitableSellerSet is the ranker output for one dealer.
type SuitableSellerSet struct {
	DealerID  int64   `json:"dealer_id"`
	SellerIDs []int64 `json:"seller_ids"`
	CarIDs    []int64 `json:"car_ids"`
}

// Stock is an inventory listing ("car park") owned by a seller or dealer.
type Stock struct {
	ID        int64           `db:"id" json:"id"`
	Owner     PartyRef        `json:"owner"`
	CarID     int64           `db:"car_id" json:"car_id"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Available int             `db:"available" json:"available"`
	AuditedEntity
}

// DiscountSchedule maps a cumulative purchase-count threshold to a discount percent.
type DiscountSchedule struct {
	SellerID int64       `json:"seller_id"`
	Tiers    map[int]int `json:"tiers"`
	AuditedEntity
}

// PurchaseCounter is the cumulative number of units a buyer bought from a seller.
type PurchaseCounter struct {
	Buyer  PartyRef `json:"buyer"`
	Seller PartyRef `json:"seller"`
	Units  int      `json:"units"`
}

// Promotion is a time-boxed percentage discount for an audience over a set of stocks.
type Promotion struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Creator         PartyRef        `json:"creator"`
	AudienceIDs     []int64         `json:"audience_ids"`
	StockIDs        []int64         `json:"stock_ids"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	StartsAt        time.Time       `json:"starts_at"`
	EndsAt          time.Time       `json:"ends_at"`
	AuditedEntity
}

// ActiveAt reports whether the promotion applies at t. Both window ends are inclusive.
func (p Promotion) ActiveAt(t time.Time) bool {
	return p.IsActive() && !t.Before(p.StartsAt) && !t.After(p.EndsAt)
}

// Targets reports whether the party id is in the promotion audience.
func (p Promotion) Targets(partyID int64) bool {
	return containsID(p.AudienceIDs, partyID)
}

// Covers reports whether the stock is eligible for the promotion.
func (p Promotion) Covers(stockID int64) bool {
	return containsID(p.StockIDs, stockID)
}

// PurchaseOffer is a buyer's capped-price request for a car model.
type PurchaseOffer struct {
	ID       int64           `db:"id" json:"id"`
	BuyerID  int64           `db:"buyer_id" json:"buyer_id"`
	CarID    int64           `db:"car_id" json:"car_id"`
	MaxPrice decimal.Decimal `db:"max_price" json:"max_price"`
	AuditedEntity
}

// SaleRecord is the seller-side history of a completed deal.
type SaleRecord struct {
	ID        int64           `json:"id"`
	Seller    PartyRef        `json:"seller"`
	Buyer     PartyRef        `json:"buyer"`
	StockID   int64           `json:"stock_id"`
	CarID     int64           `json:"car_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	SoldAt    time.Time       `json:"sold_at"`
}

// PurchaseRecord is the buyer-side history of a completed deal.
type PurchaseRecord struct {
	ID          int64           `json:"id"`
	Buyer       PartyRef        `json:"buyer"`
	Seller      PartyRef        `json:"seller"`
	StockID     int64           `json:"stock_id"`
	CarID       int64           `json:"car_id"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
