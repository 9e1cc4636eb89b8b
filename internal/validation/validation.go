package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"auto-market-engine/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ParseDiscountMap decodes a discount map as the marketplace stores it: a JSON
// object keyed by purchase-count thresholds (as strings) with integer percents.
func ParseDiscountMap(raw []byte) (map[int]int, error) {
	var doc map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Field: "purchase_number_discount_map", Message: "must be a JSON object"}
	}

	tiers := make(map[int]int, len(doc))
	for key, value := range doc {
		threshold, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, &ValidationError{
				Field:   "purchase_number_discount_map",
				Message: fmt.Sprintf("purchase number %q must be an integer", key),
			}
		}
		percent, err := strconv.Atoi(value.String())
		if err != nil {
			return nil, &ValidationError{
				Field:   "purchase_number_discount_map",
				Message: fmt.Sprintf("discount size %q must be an integer", value.String()),
			}
		}
		tiers[threshold] = percent
	}

	if err := ValidateDiscountTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// EncodeDiscountMap is the inverse of ParseDiscountMap.
func EncodeDiscountMap(tiers map[int]int) ([]byte, error) {
	doc := make(map[string]int, len(tiers))
	for threshold, percent := range tiers {
		doc[strconv.Itoa(threshold)] = percent
	}
	return json.Marshal(doc)
}

func ValidateDiscountTiers(tiers map[int]int) error {
	for threshold, percent := range tiers {
		if threshold < 0 {
			return &ValidationError{
				Field:   "purchase_number_discount_map",
				Message: fmt.Sprintf("purchase number %d must be non-negative", threshold),
			}
		}
		if percent < 0 || percent > 100 {
			return &ValidationError{
				Field:   "purchase_number_discount_map",
				Message: fmt.Sprintf("discount size %d must be between 0 and 100", percent),
			}
		}
	}
	return nil
}

func ValidateDiscountSchedule(s models.DiscountSchedule) error {
	if s.SellerID <= 0 {
		return &ValidationError{Field: "seller_id", Message: "is required"}
	}
	return ValidateDiscountTiers(s.Tiers)
}

func ValidatePromotion(p models.Promotion) error {
	if p.Creator.ID <= 0 {
		return &ValidationError{Field: "creator", Message: "is required"}
	}
	if p.Creator.Kind != models.PartySeller && p.Creator.Kind != models.PartyDealer {
		return &ValidationError{Field: "creator", Message: "must be a seller or a dealer"}
	}

	if p.DiscountPercent.IsNegative() || p.DiscountPercent.GreaterThan(hundred) {
		return &ValidationError{Field: "discount_size", Message: "must be between 0 and 100"}
	}

	if p.StartsAt.IsZero() {
		return &ValidationError{Field: "start_date", Message: "is required"}
	}

	if p.EndsAt.IsZero() {
		return &ValidationError{Field: "end_date", Message: "is required"}
	}

	if p.EndsAt.Before(p.StartsAt) {
		return &ValidationError{Field: "start_date", Message: "must not be after end_date"}
	}

	return nil
}

var (
	transmissions = []string{models.TransmissionManual, models.TransmissionAuto, models.TransmissionRobotic}
	bodyTypes     = []string{models.BodyCoupe, models.BodySedan, models.BodyHatchback, models.BodySUV, models.BodyMinivan}
	fuelTypes     = []string{models.FuelGasoline, models.FuelDiesel, models.FuelGas}
	driveUnits    = []string{models.DriveFront, models.DriveBack, models.DriveFull}
)

func ValidateSpecification(s models.CarSpecification) error {
	if err := oneOf("transmission", s.Transmission, transmissions); err != nil {
		return err
	}
	if err := oneOf("body_type", s.BodyType, bodyTypes); err != nil {
		return err
	}
	if err := oneOf("engine_fuel_type", s.FuelType, fuelTypes); err != nil {
		return err
	}
	if err := oneOf("drive_unit", s.DriveUnit, driveUnits); err != nil {
		return err
	}
	if strings.TrimSpace(s.Color) == "" {
		return &ValidationError{Field: "color", Message: "is required"}
	}
	if s.EngineVolume < 0 {
		return &ValidationError{Field: "engine_volume", Message: "must be non-negative"}
	}
	return nil
}

func ValidateCriteria(c models.DealerCriteria) error {
	if c.DealerID <= 0 {
		return &ValidationError{Field: "dealer", Message: "is required"}
	}
	if c.MinYearOfProduction < 0 {
		return &ValidationError{Field: "min_year_of_production", Message: "must be non-negative"}
	}
	return ValidateSpecification(c.CarSpecification)
}

func ValidateCatalogCar(c models.CatalogCar) error {
	if strings.TrimSpace(c.Brand) == "" {
		return &ValidationError{Field: "brand_name", Message: "is required"}
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return &ValidationError{Field: "car_model_name", Message: "is required"}
	}
	if c.YearOfProduction <= 0 {
		return &ValidationError{Field: "year_of_production", Message: "must be positive"}
	}
	return ValidateSpecification(c.CarSpecification)
}

func ValidateStock(s models.Stock) error {
	if s.Owner.ID <= 0 {
		return &ValidationError{Field: "owner", Message: "is required"}
	}
	if s.CarID <= 0 {
		return &ValidationError{Field: "car_model", Message: "is required"}
	}
	if s.UnitPrice.IsNegative() {
		return &ValidationError{Field: "car_price", Message: "must be non-negative"}
	}
	if s.Available < 0 {
		return &ValidationError{Field: "available_number", Message: "must be non-negative"}
	}
	return nil
}

func ValidateOffer(o models.PurchaseOffer) error {
	if o.BuyerID <= 0 {
		return &ValidationError{Field: "creator", Message: "is required"}
	}
	if o.CarID <= 0 {
		return &ValidationError{Field: "car_model", Message: "is required"}
	}
	if !o.MaxPrice.IsPositive() {
		return &ValidationError{Field: "max_price", Message: "must be positive"}
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")),
	}
}
