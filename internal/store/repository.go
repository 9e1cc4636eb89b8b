package store

import (
	"context"
	"errors"
	"time"

	"auto-market-engine/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrOfferClosed is returned when fulfilling an offer that is no longer active.
	ErrOfferClosed = errors.New("store: offer is not active")
)

// Reader is the read side the engine queries outside of deal transactions.
type Reader interface {
	Ping(ctx context.Context) error

	ListDealerIDs(ctx context.Context) ([]int64, error)
	GetCriteriaByDealer(ctx context.Context, dealerID int64) (*models.DealerCriteria, error)
	FindCatalogCars(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogCar, error)
	GetSuitableCars(ctx context.Context, dealerID int64) (*models.SuitableCarSet, error)
	GetSuitableSellers(ctx context.Context, dealerID int64) (*models.SuitableSellerSet, error)

	GetStock(ctx context.Context, id int64) (*models.Stock, error)
	// ListAvailableStocks returns active stocks of the given owner kind for
	// any of the cars that still have units available, ordered by id.
	ListAvailableStocks(ctx context.Context, ownerKind models.PartyKind, carIDs []int64) ([]models.Stock, error)
	GetDiscountSchedule(ctx context.Context, sellerID int64) (*models.DiscountSchedule, error)
	GetPurchaseCount(ctx context.Context, buyer, seller models.PartyRef) (int, error)
	// ListActivePromotions returns promotions created by parties of creatorKind
	// that target audienceID and are running at the given time.
	ListActivePromotions(ctx context.Context, creatorKind models.PartyKind, audienceID int64, at time.Time) ([]models.Promotion, error)
	GetOffer(ctx context.Context, id int64) (*models.PurchaseOffer, error)
	GetAccount(ctx context.Context, party models.PartyRef) (*models.Account, error)

	ListSales(ctx context.Context, seller models.PartyRef) ([]models.SaleRecord, error)
	ListPurchases(ctx context.Context, buyer models.PartyRef) ([]models.PurchaseRecord, error)
}

// Writer persists the derived matching results. Both calls fully replace the
// previous result for the dealer.
type Writer interface {
	ReplaceSuitableCars(ctx context.Context, dealerID int64, carIDs []int64) error
	ReplaceSuitableSellers(ctx context.Context, dealerID int64, sellerIDs, carIDs []int64) error
}

// Tx is the mutation surface available inside a deal transaction.
type Tx interface {
	// LockStock reads the stock row and holds it until the transaction ends.
	LockStock(ctx context.Context, id int64) (*models.Stock, error)
	// LockAccount reads the party account, creating it with a zero balance when
	// missing, and holds it until the transaction ends.
	LockAccount(ctx context.Context, party models.PartyRef) (*models.Account, error)
	AddStockUnits(ctx context.Context, stockID int64, delta int) error
	// UpsertOwnedStock adds units to the owner's listing of the car, creating
	// it at unitPrice when missing. Existing listings keep their price.
	UpsertOwnedStock(ctx context.Context, owner models.PartyRef, carID int64, unitPrice decimal.Decimal, units int) (*models.Stock, error)
	AdjustBalance(ctx context.Context, party models.PartyRef, delta decimal.Decimal) error
	InsertSale(ctx context.Context, rec *models.SaleRecord) error
	InsertPurchase(ctx context.Context, rec *models.PurchaseRecord) error
	IncrementPurchaseCount(ctx context.Context, buyer, seller models.PartyRef, units int) error
	// FulfillOffer moves an active offer to fulfilled, or returns ErrOfferClosed.
	FulfillOffer(ctx context.Context, offerID int64) error
}

// Repository is everything the engine needs from the data layer.
type Repository interface {
	Reader
	Writer
	// InTx runs fn in one transaction. Any error returned by fn rolls back
	// every mutation made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Seeder is the CRUD write side. The marketplace API owns it in production;
// the engine uses it for fixtures, the admin CLI and tests.
type Seeder interface {
	CreateCatalogCar(ctx context.Context, car *models.CatalogCar) error
	SaveCriteria(ctx context.Context, c *models.DealerCriteria) error
	CreateStock(ctx context.Context, s *models.Stock) error
	SaveDiscountSchedule(ctx context.Context, s *models.DiscountSchedule) error
	CreatePromotion(ctx context.Context, p *models.Promotion) error
	CreateOffer(ctx context.Context, o *models.PurchaseOffer) error
	DeactivateOffer(ctx context.Context, id int64) error
	SetBalance(ctx context.Context, party models.PartyRef, balance decimal.Decimal) error
}
