package validation

import (
	"errors"
	"testing"
	"time"

	"auto-market-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiscountMap(t *testing.T) {
	tiers, err := ParseDiscountMap([]byte(`{"1": 5, "10": 15}`))
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 5, 10: 15}, tiers)

	tiers, err = ParseDiscountMap([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, tiers)
}

func TestParseDiscountMap_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"non numeric key", `{"ten": 5}`},
		{"fractional percent", `{"10": 5.5}`},
		{"percent over 100", `{"10": 150}`},
		{"negative threshold", `{"-1": 5}`},
		{"negative percent", `{"3": -5}`},
		{"not an object", `[1, 2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDiscountMap([]byte(tt.input))
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, "purchase_number_discount_map", vErr.Field)
		})
	}
}

func TestEncodeDiscountMap_ParsesBack(t *testing.T) {
	raw, err := EncodeDiscountMap(map[int]int{0: 10, 5: 20})
	require.NoError(t, err)
	assert.JSONEq(t, `{"0": 10, "5": 20}`, string(raw))
}

func TestValidatePromotion(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := models.Promotion{
		Creator:         models.Seller(1),
		DiscountPercent: decimal.NewFromInt(10),
		StartsAt:        start,
		EndsAt:          start.Add(24 * time.Hour),
	}
	assert.NoError(t, ValidatePromotion(valid))

	bad := valid
	bad.DiscountPercent = decimal.NewFromInt(101)
	assert.Error(t, ValidatePromotion(bad))

	bad = valid
	bad.EndsAt = start.Add(-time.Hour)
	assert.Error(t, ValidatePromotion(bad))

	bad = valid
	bad.Creator = models.Buyer(1)
	assert.Error(t, ValidatePromotion(bad))
}

func TestValidateCriteria(t *testing.T) {
	c := models.DealerCriteria{
		DealerID: 1,
		CarSpecification: models.CarSpecification{
			Transmission: models.TransmissionAuto,
			BodyType:     models.BodySedan,
			FuelType:     models.FuelDiesel,
			DriveUnit:    models.DriveFull,
			Color:        "black",
			EngineVolume: 2.0,
		},
		MinYearOfProduction: 2015,
	}
	assert.NoError(t, ValidateCriteria(c))

	c.BodyType = "TRUCK"
	var vErr *ValidationError
	require.True(t, errors.As(ValidateCriteria(c), &vErr))
	assert.Equal(t, "body_type", vErr.Field)
}

func TestValidateOffer(t *testing.T) {
	assert.NoError(t, ValidateOffer(models.PurchaseOffer{BuyerID: 1, CarID: 2, MaxPrice: decimal.NewFromInt(10)}))
	assert.Error(t, ValidateOffer(models.PurchaseOffer{BuyerID: 1, CarID: 2}))
	assert.Error(t, ValidateOffer(models.PurchaseOffer{CarID: 2, MaxPrice: decimal.NewFromInt(10)}))
}
