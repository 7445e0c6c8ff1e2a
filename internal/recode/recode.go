// Package recode maps raw survey codes to domain enumerations. Every mapping
// is total over its documented domain; any other raw value is a
// *domain.RecodeError.
package recode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"startpop/internal/config"
	"startpop/pkg/domain"
)

// Raw survey column names.
const (
	ColHealth          = "dhe"
	ColEducation       = "deh_c3"
	ColMotherEducation = "dehm_c3"
	ColFatherEducation = "dehf_c3"
	ColGender          = "dgn"
	ColActivity        = "les_c4"
	ColLongTermSick    = "dlltsd"
	ColInEducation     = "ded"
	ColReturnedToEdu   = "der"
	ColNeedsCare       = "need_socare"
	ColLeftEducation   = "sedex"
	ColAdultChild      = "adultchildflag"
	ColHomeOwner       = "dhh_owned"
	ColIncomeQuintile  = "ydses_c5"
	ColRegion          = "drgn1"
	ColCareWho         = "careWho"
)

// Sentinel is the raw "missing" code used throughout the extracts.
const Sentinel = -9

// EarningsThreshold is the potential hourly earnings below which a raw
// employed status is treated as not employed.
const EarningsThreshold = 0.01

var healthCodes = map[int]domain.Health{
	1: domain.HealthPoor,
	2: domain.HealthFair,
	3: domain.HealthGood,
	4: domain.HealthVeryGood,
	5: domain.HealthExcellent,
}

// Children have no completed education and carry -9; they are Low by convention.
var educationCodes = map[int]domain.Education{
	1:        domain.EducationHigh,
	2:        domain.EducationMedium,
	3:        domain.EducationLow,
	Sentinel: domain.EducationLow,
}

var genderCodes = map[int]domain.Gender{
	0: domain.GenderFemale,
	1: domain.GenderMale,
}

var activityCodes = map[int]domain.Activity{
	1: domain.ActivityEmployedOrSelfEmployed,
	2: domain.ActivityStudent,
	3: domain.ActivityNotEmployed,
	4: domain.ActivityRetired,
}

var quintileCodes = map[int]domain.Quintile{
	1: domain.QuintileQ1,
	2: domain.QuintileQ2,
	3: domain.QuintileQ3,
	4: domain.QuintileQ4,
	5: domain.QuintileQ5,
}

var careCodes = map[int]domain.CareWho{
	0: domain.CareNone,
	1: domain.CareOnlyPartner,
	2: domain.CarePartnerAndOther,
	3: domain.CareOnlyOther,
}

var indicatorColumns = map[string]struct{}{
	ColLongTermSick:  {},
	ColInEducation:   {},
	ColReturnedToEdu: {},
	ColNeedsCare:     {},
	ColLeftEducation: {},
	ColAdultChild:    {},
	ColHomeOwner:     {},
}

// Code parses a raw cell into an integral code. Extracts written by
// statistical packages sometimes emit "3.0" for 3; non-integral values and
// values outside the int32 range fail.
func Code(field, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if i > math.MaxInt32 || i < math.MinInt32 {
			return 0, &domain.RecodeError{Field: field, RawValue: raw}
		}
		return int(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, &domain.RecodeError{Field: field, RawValue: raw}
	}
	return int(f), nil
}

func lookup[T any](field string, codes map[int]T, raw int) (T, error) {
	v, ok := codes[raw]
	if !ok {
		var zero T
		return zero, &domain.RecodeError{Field: field, RawValue: strconv.Itoa(raw)}
	}
	return v, nil
}

// Health recodes dhe.
func Health(raw int) (domain.Health, error) { return lookup(ColHealth, healthCodes, raw) }

// Education recodes deh_c3, dehm_c3 or dehf_c3; field names the column for errors.
func Education(field string, raw int) (domain.Education, error) {
	return lookup(field, educationCodes, raw)
}

// Gender recodes dgn.
func Gender(raw int) (domain.Gender, error) { return lookup(ColGender, genderCodes, raw) }

// Activity recodes les_c4. A raw employed status with potential hourly
// earnings below EarningsThreshold is corrected to 3 before lookup.
func Activity(raw int, potentialHourlyEarnings float64) (domain.Activity, error) {
	if raw == 1 && potentialHourlyEarnings < EarningsThreshold {
		raw = 3
	}
	return lookup(ColActivity, activityCodes, raw)
}

// Indicator recodes one of the 0/1 flag columns.
func Indicator(field string, raw int) (bool, error) {
	if _, ok := indicatorColumns[field]; !ok {
		return false, fmt.Errorf("recode: %s is not an indicator column", field)
	}
	switch raw {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &domain.RecodeError{Field: field, RawValue: strconv.Itoa(raw)}
	}
}

// Quintile recodes ydses_c5.
func Quintile(raw int) (domain.Quintile, error) {
	return lookup(ColIncomeQuintile, quintileCodes, raw)
}

// CareWho recodes careWho.
func CareWho(raw int) (domain.CareWho, error) { return lookup(ColCareWho, careCodes, raw) }

// Recoder carries the region table of the active country. The remaining
// fields are country independent and available as package functions.
type Recoder struct {
	country domain.Country
	regions config.RegionTable
}

// New returns a recoder for country. The country's region table must be
// configured; recoding cannot start with a partial lookup.
func New(cfg config.Config, country domain.Country) (*Recoder, error) {
	table, ok := cfg.Regions(country)
	if !ok || len(table) == 0 {
		return nil, fmt.Errorf("recode: no region table configured for %s", country)
	}
	return &Recoder{country: country, regions: table}, nil
}

// Country returns the active country.
func (r *Recoder) Country() domain.Country { return r.country }

// Region recodes drgn1 against the active country's table.
func (r *Recoder) Region(raw int) (domain.Region, error) {
	region, ok := r.regions[raw]
	if !ok {
		return "", &domain.RecodeError{Field: ColRegion, RawValue: strconv.Itoa(raw)}
	}
	return region, nil
}

// Recode is the column-name dispatcher over the single-column mappings. The
// returned value is the domain enumeration (or bool for indicators). les_c4
// needs potential earnings and goes through Activity instead.
func (r *Recoder) Recode(column, raw string) (any, error) {
	code, err := Code(column, raw)
	if err != nil {
		return nil, err
	}
	switch column {
	case ColHealth:
		return Health(code)
	case ColEducation, ColMotherEducation, ColFatherEducation:
		return Education(column, code)
	case ColGender:
		return Gender(code)
	case ColActivity:
		return Activity(code, math.Inf(1))
	case ColIncomeQuintile:
		return Quintile(code)
	case ColCareWho:
		return CareWho(code)
	case ColRegion:
		return r.Region(code)
	}
	if _, ok := indicatorColumns[column]; ok {
		return Indicator(column, code)
	}
	return nil, fmt.Errorf("recode: no mapping for column %s", column)
}
