package domain

// Health is the self-rated health category (raw dhe 1..5).
type Health string

// Health categories, worst to best.
const (
	HealthPoor      Health = "Poor"
	HealthFair      Health = "Fair"
	HealthGood      Health = "Good"
	HealthVeryGood  Health = "VeryGood"
	HealthExcellent Health = "Excellent"
)

// Education is the highest completed education level (raw deh_c3 and the
// parental dehm_c3 / dehf_c3 columns).
type Education string

// Education levels.
const (
	EducationHigh   Education = "High"
	EducationMedium Education = "Medium"
	EducationLow    Education = "Low"
)

// Gender is recoded from raw dgn.
type Gender string

// Genders.
const (
	GenderFemale Gender = "Female"
	GenderMale   Gender = "Male"
)

// Activity is the labour market status (raw les_c4).
type Activity string

// Activity statuses.
const (
	ActivityEmployedOrSelfEmployed Activity = "EmployedOrSelfEmployed"
	ActivityStudent                Activity = "Student"
	ActivityNotEmployed            Activity = "NotEmployed"
	ActivityRetired                Activity = "Retired"
)

// Quintile is the benefit unit disposable income quintile (raw ydses_c5).
type Quintile string

// Income quintiles.
const (
	QuintileQ1 Quintile = "Q1"
	QuintileQ2 Quintile = "Q2"
	QuintileQ3 Quintile = "Q3"
	QuintileQ4 Quintile = "Q4"
	QuintileQ5 Quintile = "Q5"
)

// CareWho records who a person provides informal care to (raw careWho).
type CareWho string

// Care recipients.
const (
	CareNone            CareWho = "None"
	CareOnlyPartner     CareWho = "OnlyPartner"
	CarePartnerAndOther CareWho = "PartnerAndOther"
	CareOnlyOther       CareWho = "OnlyOther"
)

// Region is a NUTS1 region code. Which raw drgn1 value maps to which region
// is configured per country.
type Region string

// UK regions.
const (
	RegionUKC Region = "UKC"
	RegionUKD Region = "UKD"
	RegionUKE Region = "UKE"
	RegionUKF Region = "UKF"
	RegionUKG Region = "UKG"
	RegionUKH Region = "UKH"
	RegionUKI Region = "UKI"
	RegionUKJ Region = "UKJ"
	RegionUKK Region = "UKK"
	RegionUKL Region = "UKL"
	RegionUKM Region = "UKM"
	RegionUKN Region = "UKN"
)

// Italian regions.
const (
	RegionITC Region = "ITC"
	RegionITH Region = "ITH"
	RegionITI Region = "ITI"
	RegionITF Region = "ITF"
	RegionITG Region = "ITG"
)

type regionInfo struct {
	country Country
	label   string
}

var regions = map[Region]regionInfo{
	RegionUKC: {CountryUK, "North East"},
	RegionUKD: {CountryUK, "North West"},
	RegionUKE: {CountryUK, "Yorkshire and the Humber"},
	RegionUKF: {CountryUK, "East Midlands"},
	RegionUKG: {CountryUK, "West Midlands"},
	RegionUKH: {CountryUK, "East of England"},
	RegionUKI: {CountryUK, "London"},
	RegionUKJ: {CountryUK, "South East"},
	RegionUKK: {CountryUK, "South West"},
	RegionUKL: {CountryUK, "Wales"},
	RegionUKM: {CountryUK, "Scotland"},
	RegionUKN: {CountryUK, "Northern Ireland"},
	RegionITC: {CountryIT, "Nord Ovest"},
	RegionITH: {CountryIT, "Nord Est"},
	RegionITI: {CountryIT, "Centro"},
	RegionITF: {CountryIT, "Sud"},
	RegionITG: {CountryIT, "Isole"},
}

// Label returns the human-readable region name, or the code when unknown.
func (r Region) Label() string {
	if info, ok := regions[r]; ok {
		return info.label
	}
	return string(r)
}

// Country returns the country the region belongs to.
func (r Region) Country() (Country, bool) {
	info, ok := regions[r]
	return info.country, ok
}

// Known reports whether r is one of the built-in regions.
func (r Region) Known() bool {
	_, ok := regions[r]
	return ok
}

// HasBuiltinRegions reports whether c is a country whose regions are defined
// in this package. Other countries declare their regions through configuration.
func (c Country) HasBuiltinRegions() bool {
	for _, info := range regions {
		if info.country == c {
			return true
		}
	}
	return false
}
