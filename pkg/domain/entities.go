// Package domain defines the starting-population entities, their composite
// keys, the categorical enumerations they carry, and the persistence contract
// that backing stores implement.
package domain

import (
	"fmt"
	"strings"
)

// EntityType identifies one of the three entity tables of a starting population.
type EntityType string

// Supported entity types, root to leaf.
const (
	// EntityHousehold identifies the root household table.
	EntityHousehold EntityType = "household"
	// EntityBenefitUnit identifies the benefit unit table nested in households.
	EntityBenefitUnit EntityType = "benefitunit"
	// EntityPerson identifies the person table nested in benefit units.
	EntityPerson EntityType = "person"
)

// Country identifies the country a survey extract was collected in.
type Country string

// Countries with built-in region tables.
const (
	CountryUK Country = "UK"
	CountryIT Country = "IT"
)

// ParseCountry normalises a country code (case-insensitive).
func ParseCountry(raw string) (Country, error) {
	c := Country(strings.ToUpper(strings.TrimSpace(raw)))
	if c == "" {
		return "", fmt.Errorf("country code required")
	}
	return c, nil
}

// Slug returns the lower-case form used in table names and blob keys.
func (c Country) Slug() string { return strings.ToLower(string(c)) }

// Household is the root of the population hierarchy.
type Household struct {
	Key EntityKey `json:"key"`
}

// PrimaryKey returns the household composite key.
func (h Household) PrimaryKey() EntityKey { return h.Key }

// Values returns the column values in household table order.
func (h Household) Values() []any {
	return h.Key.values()
}

// BenefitUnit is nested in exactly one household.
type BenefitUnit struct {
	Key            EntityKey `json:"key"`
	Household      EntityKey `json:"household"`
	Region         Region    `json:"region"`
	IncomeQuintile Quintile  `json:"income_quintile"`
	HomeOwner      bool      `json:"home_owner"`
	// Wealth fields are 0 when the extract carries the -9 sentinel.
	LiquidWealth  float64 `json:"liquid_wealth"`
	PensionWealth float64 `json:"pension_wealth"`
	HousingWealth float64 `json:"housing_wealth"`
}

// PrimaryKey returns the benefit unit composite key.
func (b BenefitUnit) PrimaryKey() EntityKey { return b.Key }

// Values returns the column values in benefit unit table order.
func (b BenefitUnit) Values() []any {
	out := b.Key.values()
	out = append(out, b.Household.values()...)
	return append(out,
		string(b.Region),
		string(b.IncomeQuintile),
		b.HomeOwner,
		b.LiquidWealth,
		b.PensionWealth,
		b.HousingWealth,
	)
}

// Person is nested in exactly one benefit unit. The benefit unit reference
// carries the parent-reference index (prid) in its WorkingID slot.
type Person struct {
	Key         EntityKey `json:"key"`
	BenefitUnit EntityKey `json:"benefit_unit"`

	Age             int       `json:"age"`
	Gender          Gender    `json:"gender"`
	Health          Health    `json:"health"`
	Education       Education `json:"education"`
	MotherEducation Education `json:"mother_education"`
	FatherEducation Education `json:"father_education"`
	Activity        Activity  `json:"activity_status"`
	CareProvidedTo  CareWho   `json:"care_provided_to"`

	HoursWorkedWeekly       int     `json:"hours_worked_weekly"`
	PotentialHourlyEarnings float64 `json:"potential_hourly_earnings"`
	Weight                  float64 `json:"weight"`
	MotherID                *int64  `json:"mother_id,omitempty"`
	FatherID                *int64  `json:"father_id,omitempty"`

	InEducation         bool `json:"in_education"`
	ReturnedToEducation bool `json:"returned_to_education"`
	LongTermSick        bool `json:"long_term_sick"`
	NeedsSocialCare     bool `json:"needs_social_care"`
	LeftEducation       bool `json:"left_education"`
	AdultChild          bool `json:"adult_child"`
	HomeOwner           bool `json:"home_owner"`
}

// PrimaryKey returns the person composite key.
func (p Person) PrimaryKey() EntityKey { return p.Key }

// Values returns the column values in person table order.
func (p Person) Values() []any {
	out := p.Key.values()
	out = append(out, p.BenefitUnit.values()...)
	return append(out,
		p.Age,
		string(p.Gender),
		string(p.Health),
		string(p.Education),
		string(p.MotherEducation),
		string(p.FatherEducation),
		string(p.Activity),
		string(p.CareProvidedTo),
		p.HoursWorkedWeekly,
		p.PotentialHourlyEarnings,
		p.Weight,
		nullableID(p.MotherID),
		nullableID(p.FatherID),
		p.InEducation,
		p.ReturnedToEducation,
		p.LongTermSick,
		p.NeedsSocialCare,
		p.LeftEducation,
		p.AdultChild,
		p.HomeOwner,
	)
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// Tables groups the three entity tables built for one (country, year).
type Tables struct {
	Country      Country       `json:"country"`
	Year         int           `json:"year"`
	Households   []Household   `json:"households"`
	BenefitUnits []BenefitUnit `json:"benefit_units"`
	Persons      []Person      `json:"persons"`
}

// Clone returns a deep copy so callers can hand tables across goroutines.
func (t Tables) Clone() Tables {
	out := Tables{Country: t.Country, Year: t.Year}
	out.Households = append([]Household(nil), t.Households...)
	out.BenefitUnits = append([]BenefitUnit(nil), t.BenefitUnits...)
	out.Persons = make([]Person, len(t.Persons))
	for i, p := range t.Persons {
		out.Persons[i] = p.clone()
	}
	return out
}

func (p Person) clone() Person {
	if p.MotherID != nil {
		v := *p.MotherID
		p.MotherID = &v
	}
	if p.FatherID != nil {
		v := *p.FatherID
		p.FatherID = &v
	}
	return p
}
