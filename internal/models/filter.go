package models

// CatalogFilter is the catalog query derived from a dealer's criteria.
//
// Categorical fields are exact matches. A feature flag is only required when
// the criteria set it; an unset flag means "any", never "must be false".
type CatalogFilter struct {
	Transmission    string
	BodyType        string
	FuelType        string
	DriveUnit       string
	Color           string
	MinEngineVolume float64
	MinYear         int
	RequiredFlags   []string
}

// Feature flag names, also used as catalog column names.
const (
	FlagSafeControls     = "safe_controls"
	FlagParkingHelp      = "parking_help"
	FlagClimateControls  = "climate_controls"
	FlagMultimedia       = "multimedia"
	FlagAdditionalSafety = "additional_safety"
	FlagOtherAdditions   = "other_additions"
)

// Flags returns the feature flags keyed by name.
func (s CarSpecification) Flags() map[string]bool {
	return map[string]bool{
		FlagSafeControls:     s.SafeControls,
		FlagParkingHelp:      s.ParkingHelp,
		FlagClimateControls:  s.ClimateControls,
		FlagMultimedia:       s.Multimedia,
		FlagAdditionalSafety: s.AdditionalSafety,
		FlagOtherAdditions:   s.OtherAdditions,
	}
}

// FlagNames lists the feature flags in a stable order.
var FlagNames = []string{
	FlagSafeControls,
	FlagParkingHelp,
	FlagClimateControls,
	FlagMultimedia,
	FlagAdditionalSafety,
	FlagOtherAdditions,
}

// NewCatalogFilter builds the filter for the given criteria.
func NewCatalogFilter(c DealerCriteria) CatalogFilter {
	f := CatalogFilter{
		Transmission:    c.Transmission,
		BodyType:        c.BodyType,
		FuelType:        c.FuelType,
		DriveUnit:       c.DriveUnit,
		Color:           c.Color,
		MinEngineVolume: c.EngineVolume,
		MinYear:         c.MinYearOfProduction,
	}
	flags := c.Flags()
	for _, name := range FlagNames {
		if flags[name] {
			f.RequiredFlags = append(f.RequiredFlags, name)
		}
	}
	return f
}

// Matches reports whether the catalog car satisfies the filter.
func (f CatalogFilter) Matches(car CatalogCar) bool {
	if !car.IsActive() {
		return false
	}
	if car.Transmission != f.Transmission ||
		car.BodyType != f.BodyType ||
		car.FuelType != f.FuelType ||
		car.DriveUnit != f.DriveUnit ||
		car.Color != f.Color {
		return false
	}
	if car.EngineVolume < f.MinEngineVolume || car.YearOfProduction < f.MinYear {
		return false
	}
	flags := car.Flags()
	for _, name := range f.RequiredFlags {
		if !flags[name] {
			return false
		}
	}
	return true
}
