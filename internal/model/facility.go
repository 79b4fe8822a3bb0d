// Package model defines the data types shared by the underwriting engines.
package model

// AssetType is the licensed care setting of a facility.
type AssetType string

const (
	AssetSNF AssetType = "SNF" // skilled nursing
	AssetALF AssetType = "ALF" // assisted living
	AssetILF AssetType = "ILF" // independent living
)

// Valid reports whether t is one of the supported asset types.
func (t AssetType) Valid() bool {
	switch t {
	case AssetSNF, AssetALF, AssetILF:
		return true
	}
	return false
}

// LocationType classifies the facility's setting.
type LocationType string

const (
	LocationUrban    LocationType = "urban"
	LocationSuburban LocationType = "suburban"
	LocationRural    LocationType = "rural"
	LocationFrontier LocationType = "frontier"
)

// Region is the five-way US region used by the pricing tables.
type Region string

const (
	RegionNortheast Region = "northeast"
	RegionSoutheast Region = "southeast"
	RegionMidwest   Region = "midwest"
	RegionSouthwest Region = "southwest"
	RegionWest      Region = "west"
)

// BedCounts holds the three bed counts reported for a facility.
type BedCounts struct {
	Licensed    int `json:"licensed"`
	Certified   int `json:"certified"`
	Operational int `json:"operational"`
}

// Effective returns the bed count used for per-bed math: operational beds,
// falling back to certified and then licensed.
func (b BedCounts) Effective() int {
	switch {
	case b.Operational > 0:
		return b.Operational
	case b.Certified > 0:
		return b.Certified
	default:
		return b.Licensed
	}
}

// Address is a postal address.
type Address struct {
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
	County string `json:"county,omitempty"`
}

// FacilityProfile is the immutable snapshot of a facility used by one analysis.
// Zero values mean "not reported".
type FacilityProfile struct {
	ID                  string       `json:"id,omitempty"`
	Name                string       `json:"name"`
	AssetType           AssetType    `json:"asset_type"`
	Address             Address      `json:"address"`
	CertificationNumber string       `json:"certification_number,omitempty"` // CMS CCN
	StateLicense        string       `json:"state_license,omitempty"`
	NPI                 string       `json:"npi,omitempty"`
	Beds                BedCounts    `json:"beds"`
	SquareFeet          float64      `json:"square_feet,omitempty"`
	Acres               float64      `json:"acres,omitempty"`
	YearBuilt           int          `json:"year_built,omitempty"`
	YearRenovated       int          `json:"year_renovated,omitempty"`
	Stories             int          `json:"stories,omitempty"`
	Ownership           string       `json:"ownership,omitempty"`
	Operator            string       `json:"operator,omitempty"`
	LocationType        LocationType `json:"location_type,omitempty"`
	Region              Region       `json:"region,omitempty"`
}

// Age returns the building age in years as of the given year. The second
// return value is false when the year built is unknown.
func (f FacilityProfile) Age(asOfYear int) (int, bool) {
	if f.YearBuilt <= 0 || f.YearBuilt > asOfYear {
		return 0, false
	}
	return asOfYear - f.YearBuilt, true
}
