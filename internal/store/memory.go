package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/validation"

	"github.com/shopspring/decimal"
)

type counterKey struct {
	buyer  models.PartyRef
	seller models.PartyRef
}

type ownedKey struct {
	owner models.PartyRef
	carID int64
}

// memoryState is the full data set of a MemoryStore. Transactions run on a
// clone and replace the live state only on success.
type memoryState struct {
	nextID int64

	accounts    map[models.PartyRef]models.Account
	cars        map[int64]models.CatalogCar
	criteria    map[int64]models.DealerCriteria
	suitCars    map[int64][]int64
	suitSellers map[int64]models.SuitableSellerSet
	stocks      map[int64]models.Stock
	schedules   map[int64]models.DiscountSchedule
	counters    map[counterKey]int
	promotions  map[int64]models.Promotion
	offers      map[int64]models.PurchaseOffer
	sales       []models.SaleRecord
	purchases   []models.PurchaseRecord
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts:    make(map[models.PartyRef]models.Account),
		cars:        make(map[int64]models.CatalogCar),
		criteria:    make(map[int64]models.DealerCriteria),
		suitCars:    make(map[int64][]int64),
		suitSellers: make(map[int64]models.SuitableSellerSet),
		stocks:      make(map[int64]models.Stock),
		schedules:   make(map[int64]models.DiscountSchedule),
		counters:    make(map[counterKey]int),
		promotions:  make(map[int64]models.Promotion),
		offers:      make(map[int64]models.PurchaseOffer),
	}
}

func (m *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = m.nextID
	for k, v := range m.accounts {
		c.accounts[k] = v
	}
	for k, v := range m.cars {
		c.cars[k] = v
	}
	for k, v := range m.criteria {
		c.criteria[k] = v
	}
	for k, v := range m.suitCars {
		c.suitCars[k] = v
	}
	for k, v := range m.suitSellers {
		c.suitSellers[k] = v
	}
	for k, v := range m.stocks {
		c.stocks[k] = v
	}
	for k, v := range m.schedules {
		c.schedules[k] = v
	}
	for k, v := range m.counters {
		c.counters[k] = v
	}
	for k, v := range m.promotions {
		c.promotions[k] = v
	}
	for k, v := range m.offers {
		c.offers[k] = v
	}
	c.sales = append([]models.SaleRecord(nil), m.sales...)
	c.purchases = append([]models.PurchaseRecord(nil), m.purchases...)
	return c
}

func (m *memoryState) id() int64 {
	m.nextID++
	return m.nextID
}

// MemoryStore is an in-process Repository and Seeder. enginectl uses it for
// dry runs against a fixture. Transactions are serialized.
type MemoryStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memoryState

	// Now stamps audit columns and history records.
	Now func() time.Time
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Seeder     = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), Now: time.Now}
}

func (s *MemoryStore) audit(status models.Status) models.AuditedEntity {
	if status == "" {
		status = models.StatusActive
	}
	now := s.Now()
	return models.AuditedEntity{Status: status, CreatedAt: now, UpdatedAt: now}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) ListDealerIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for dealerID, c := range s.state.criteria {
		if c.IsActive() {
			ids = append(ids, dealerID)
		}
	}
	sortIDs(ids)
	return ids, nil
}

func (s *MemoryStore) GetCriteriaByDealer(ctx context.Context, dealerID int64) (*models.DealerCriteria, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.state.criteria[dealerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) FindCatalogCars(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogCar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cars []models.CatalogCar
	for _, car := range s.state.cars {
		if filter.Matches(car) {
			cars = append(cars, car)
		}
	}
	sort.Slice(cars, func(i, j int) bool { return cars[i].ID < cars[j].ID })
	return cars, nil
}

func (s *MemoryStore) GetSuitableCars(ctx context.Context, dealerID int64) (*models.SuitableCarSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &models.SuitableCarSet{DealerID: dealerID, CarIDs: copyIDs(s.state.suitCars[dealerID])}, nil
}

func (s *MemoryStore) GetSuitableSellers(ctx context.Context, dealerID int64) (*models.SuitableSellerSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.state.suitSellers[dealerID]
	return &models.SuitableSellerSet{
		DealerID:  dealerID,
		SellerIDs: copyIDs(set.SellerIDs),
		CarIDs:    copyIDs(set.CarIDs),
	}, nil
}

func (s *MemoryStore) ReplaceSuitableCars(ctx context.Context, dealerID int64, carIDs []int64) error {
	s.lockWrite()
	defer s.unlockWrite()

	s.state.suitCars[dealerID] = uniqueIDs(carIDs)
	return nil
}

func (s *MemoryStore) ReplaceSuitableSellers(ctx context.Context, dealerID int64, sellerIDs, carIDs []int64) error {
	s.lockWrite()
	defer s.unlockWrite()

	s.state.suitSellers[dealerID] = models.SuitableSellerSet{
		DealerID:  dealerID,
		SellerIDs: uniqueIDs(sellerIDs),
		CarIDs:    uniqueIDs(carIDs),
	}
	return nil
}

func (s *MemoryStore) GetStock(ctx context.Context, id int64) (*models.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.state.stocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryStore) ListAvailableStocks(ctx context.Context, ownerKind models.PartyKind, carIDs []int64) ([]models.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cars := make(map[int64]bool, len(carIDs))
	for _, id := range carIDs {
		cars[id] = true
	}

	var stocks []models.Stock
	for _, st := range s.state.stocks {
		if st.Owner.Kind == ownerKind && cars[st.CarID] && st.Available > 0 && st.IsActive() {
			stocks = append(stocks, st)
		}
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].ID < stocks[j].ID })
	return stocks, nil
}

func (s *MemoryStore) GetDiscountSchedule(ctx context.Context, sellerID int64) (*models.DiscountSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.state.schedules[sellerID]
	if !ok {
		return nil, ErrNotFound
	}
	tiers := make(map[int]int, len(ds.Tiers))
	for k, v := range ds.Tiers {
		tiers[k] = v
	}
	ds.Tiers = tiers
	return &ds, nil
}

func (s *MemoryStore) GetPurchaseCount(ctx context.Context, buyer, seller models.PartyRef) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.counters[counterKey{buyer: buyer, seller: seller}], nil
}

func (s *MemoryStore) ListActivePromotions(ctx context.Context, creatorKind models.PartyKind, audienceID int64, at time.Time) ([]models.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var promos []models.Promotion
	for _, p := range s.state.promotions {
		if p.Creator.Kind == creatorKind && p.ActiveAt(at) && p.Targets(audienceID) {
			promos = append(promos, p)
		}
	}
	sort.Slice(promos, func(i, j int) bool { return promos[i].ID < promos[j].ID })
	return promos, nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, id int64) (*models.PurchaseOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.state.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, party models.PartyRef) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.state.accounts[party]
	if !ok {
		return nil, ErrNotFound
	}
	return &acc, nil
}

func (s *MemoryStore) ListSales(ctx context.Context, seller models.PartyRef) ([]models.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SaleRecord
	for _, r := range s.state.sales {
		if r.Seller == seller {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPurchases(ctx context.Context, buyer models.PartyRef) ([]models.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PurchaseRecord
	for _, r := range s.state.purchases {
		if r.Buyer == buyer {
			out = append(out, r)
		}
	}
	return out, nil
}

// InTx runs fn against a private copy of the data. The copy replaces the live
// state only when fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&memoryTx{state: work, now: s.Now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) LockStock(ctx context.Context, id int64) (*models.Stock, error) {
	st, ok := t.state.stocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (t *memoryTx) LockAccount(ctx context.Context, party models.PartyRef) (*models.Account, error) {
	acc, ok := t.state.accounts[party]
	if !ok {
		acc = models.Account{Party: party, Balance: decimal.Zero, UpdatedAt: t.now()}
		t.state.accounts[party] = acc
	}
	return &acc, nil
}

func (t *memoryTx) AddStockUnits(ctx context.Context, stockID int64, delta int) error {
	st, ok := t.state.stocks[stockID]
	if !ok {
		return ErrNotFound
	}
	if st.Available+delta < 0 {
		return &validation.ValidationError{Field: "available_number", Message: "must be non-negative"}
	}
	st.Available += delta
	st.UpdatedAt = t.now()
	t.state.stocks[stockID] = st
	return nil
}

func (t *memoryTx) UpsertOwnedStock(ctx context.Context, owner models.PartyRef, carID int64, unitPrice decimal.Decimal, units int) (*models.Stock, error) {
	for id, st := range t.state.stocks {
		if (ownedKey{owner: st.Owner, carID: st.CarID}) == (ownedKey{owner: owner, carID: carID}) {
			st.Available += units
			st.UpdatedAt = t.now()
			t.state.stocks[id] = st
			return &st, nil
		}
	}

	now := t.now()
	st := models.Stock{
		ID:            t.state.id(),
		Owner:         owner,
		CarID:         carID,
		UnitPrice:     unitPrice,
		Available:     units,
		AuditedEntity: models.AuditedEntity{Status: models.StatusActive, CreatedAt: now, UpdatedAt: now},
	}
	t.state.stocks[st.ID] = st
	return &st, nil
}

func (t *memoryTx) AdjustBalance(ctx context.Context, party models.PartyRef, delta decimal.Decimal) error {
	acc, ok := t.state.accounts[party]
	if !ok {
		return ErrNotFound
	}
	acc.Balance = acc.Balance.Add(delta)
	acc.UpdatedAt = t.now()
	t.state.accounts[party] = acc
	return nil
}

func (t *memoryTx) InsertSale(ctx context.Context, rec *models.SaleRecord) error {
	rec.ID = t.state.id()
	rec.SoldAt = t.now()
	t.state.sales = append(t.state.sales, *rec)
	return nil
}

func (t *memoryTx) InsertPurchase(ctx context.Context, rec *models.PurchaseRecord) error {
	rec.ID = t.state.id()
	rec.PurchasedAt = t.now()
	t.state.purchases = append(t.state.purchases, *rec)
	return nil
}

func (t *memoryTx) IncrementPurchaseCount(ctx context.Context, buyer, seller models.PartyRef, units int) error {
	t.state.counters[counterKey{buyer: buyer, seller: seller}] += units
	return nil
}

func (t *memoryTx) FulfillOffer(ctx context.Context, offerID int64) error {
	o, ok := t.state.offers[offerID]
	if !ok || !o.IsActive() {
		return ErrOfferClosed
	}
	o.Status = models.StatusFulfilled
	o.UpdatedAt = t.now()
	t.state.offers[offerID] = o
	return nil
}

func (s *MemoryStore) CreateCatalogCar(ctx context.Context, car *models.CatalogCar) error {
	if err := validation.ValidateCatalogCar(*car); err != nil {
		return err
	}
	s.lockWrite()
	defer s.unlockWrite()

	car.ID = s.state.id()
	car.AuditedEntity = s.audit(car.Status)
	s.state.cars[car.ID] = *car
	return nil
}

func (s *MemoryStore) SaveCriteria(ctx context.Context, c *models.DealerCriteria) error {
	if err := validation.ValidateCriteria(*c); err != nil {
		return err
	}
	s.lockWrite()
	defer s.unlockWrite()

	if prev, ok := s.state.criteria[c.DealerID]; ok {
		c.ID = prev.ID
		c.AuditedEntity = s.audit(c.Status)
		c.CreatedAt = prev.CreatedAt
	} else {
		c.ID = s.state.id()
		c.AuditedEntity = s.audit(c.Status)
	}
	s.state.criteria[c.DealerID] = *c
	return nil
}

func (s *MemoryStore) CreateStock(ctx context.Context, st *models.Stock) error {
	if err := validation.ValidateStock(*st); err != nil {
		return err
	}
	s.lockWrite()
	defer s.unlockWrite()

	st.ID = s.state.id()
	st.AuditedEntity = s.audit(st.Status)
	s.state.stocks[st.ID] = *st
	return nil
}

func (s *MemoryStore) SaveDiscountSchedule(ctx context.Context, ds *models.DiscountSchedule) error {
	if err := validation.ValidateDiscountSchedule(*ds); err != nil {
		return err
	}
	s.lockWrite()
	defer s.unlockWrite()

	ds.AuditedEntity = s.audit(ds.Status)
	stored := *ds
	stored.Tiers = make(map[int]int, len(ds.Tiers))
	for k, v := range ds.Tiers {
		stored.Tiers[k] = v
	}
	s.state.schedules[ds.SellerID] = stored
	return nil
}

func (s *MemoryStore) CreatePromotion(ctx context.Context, p *models.Promotion) error {
	if err := validation.ValidatePromotion(*p); err != nil {
		return err
	}
	s.lockWrite()
	defer s.unlockWrite()

	p.ID = s.state.id()
	p.AuditedEntity = s.audit(p.Status)
	stored := *p
	stored.AudienceIDs = uniqueIDs(p.AudienceIDs)
	stored.StockIDs = uniqueIDs(p.StockIDs)
	s.state.promotions[p.ID] = stored
	return nil
}

func (s *MemoryStore) CreateOffer(ctx context.Context, o *models.PurchaseOffer) error {
	if err := validation.ValidateOffer(*o); err != nil {
		return err
	}
	s.lockWrite()
	defer s.unlockWrite()

	o.ID = s.state.id()
	o.AuditedEntity = s.audit(o.Status)
	s.state.offers[o.ID] = *o
	return nil
}

func (s *MemoryStore) DeactivateOffer(ctx context.Context, id int64) error {
	s.lockWrite()
	defer s.unlockWrite()

	o, ok := s.state.offers[id]
	if !ok || !o.IsActive() {
		return ErrNotFound
	}
	o.Status = models.StatusDeactivated
	o.UpdatedAt = s.Now()
	s.state.offers[id] = o
	return nil
}

func (s *MemoryStore) SetBalance(ctx context.Context, party models.PartyRef, balance decimal.Decimal) error {
	s.lockWrite()
	defer s.unlockWrite()

	s.state.accounts[party] = models.Account{Party: party, Balance: balance, UpdatedAt: s.Now()}
	return nil
}

// lockWrite serializes plain writes with transactions so a committing
// transaction never overwrites them.
func (s *MemoryStore) lockWrite() {
	s.txMu.Lock()
	s.mu.Lock()
}

func (s *MemoryStore) unlockWrite() {
	s.mu.Unlock()
	s.txMu.Unlock()
}

func copyIDs(ids []int64) []int64 {
	return append([]int64(nil), ids...)
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// uniqueIDs returns the ids sorted and without duplicates.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}
