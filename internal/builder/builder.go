// Package builder projects a staging relation into the household, benefit
// unit and person tables, recoding categorical columns, normalising missing
// value sentinels and wiring composite keys and foreign keys.
package builder

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"startpop/internal/recode"
	"startpop/pkg/domain"
)

// Raw identifier and numeric columns.
const (
	ColHouseholdID   = "idhh"
	ColBenefitUnitID = "idbenefitunit"
	ColPersonID      = "idperson"
	ColMotherID      = "idmother"
	ColFatherID      = "idfather"
	ColAge           = "dag"
	ColEarnings      = "potential_earnings_hourly"
	ColHoursWorked   = "lhw"
	ColWeight        = "dwt"
	ColLiquidWealth  = "liquid_wealth"
	ColPensionWealth = "tot_pen"
	ColHousingWealth = "nvmhome"
)

// Builder turns staging relations into entity tables for one country.
type Builder struct {
	rec *recode.Recoder
}

// New returns a builder using rec for categorical columns.
func New(rec *recode.Recoder) *Builder { return &Builder{rec: rec} }

// row reads typed cells from one staging row, tagging errors with the
// 1-based data row number.
type row struct {
	rel   *domain.StagingRelation
	cells []string
	n     int
}

func (r row) raw(col string) (string, error) {
	i, ok := r.rel.Column(col)
	if !ok || i >= len(r.cells) {
		return "", &domain.IngestionError{Country: r.rel.Country, Year: r.rel.Year, Path: r.rel.Source, Column: col, Err: domain.ErrMissingColumn}
	}
	return r.cells[i], nil
}

func (r row) fail(err error) error {
	var re *domain.RecodeError
	if errors.As(err, &re) && re.Row == 0 {
		re.Row = r.n
	}
	return err
}

func (r row) code(col string) (int, error) {
	s, err := r.raw(col)
	if err != nil {
		return 0, err
	}
	v, err := recode.Code(col, s)
	return v, r.fail(err)
}

func (r row) id(col string) (int64, error) {
	s, err := r.raw(col)
	if err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, r.fail(&domain.RecodeError{Field: col, RawValue: s})
	}
	return int64(f), nil
}

// parentID applies the parent identifier rule: the -9 sentinel is no parent.
func (r row) parentID(col string) (*int64, error) {
	v, err := r.id(col)
	if err != nil {
		return nil, err
	}
	if v == recode.Sentinel {
		return nil, nil
	}
	return &v, nil
}

func (r row) float(col string) (float64, error) {
	s, err := r.raw(col)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, r.fail(&domain.RecodeError{Field: col, RawValue: s})
	}
	return f, nil
}

// wealth applies the wealth rule: the -9.0 sentinel is zero wealth.
func (r row) wealth(col string) (float64, error) {
	f, err := r.float(col)
	if err != nil {
		return 0, err
	}
	if f == recode.Sentinel {
		return 0, nil
	}
	return f, nil
}

func (r row) indicator(col string) (bool, error) {
	c, err := r.code(col)
	if err != nil {
		return false, err
	}
	v, err := recode.Indicator(col, c)
	return v, r.fail(err)
}

// Build projects rel into the three entity tables. Rows keep staging order
// and still contain the duplicates produced by the person-grain extract.
func (b *Builder) Build(rel domain.StagingRelation) (domain.Tables, error) {
	if rel.Country != b.rec.Country() {
		return domain.Tables{}, fmt.Errorf("builder: relation for %s handed to %s recoder", rel.Country, b.rec.Country())
	}
	t := domain.Tables{
		Country:      rel.Country,
		Year:         rel.Year,
		Households:   make([]domain.Household, 0, rel.Len()),
		BenefitUnits: make([]domain.BenefitUnit, 0, rel.Len()),
		Persons:      make([]domain.Person, 0, rel.Len()),
	}
	for i, cells := range rel.Rows {
		r := row{rel: &rel, cells: cells, n: i + 1}
		hh, err := b.household(r)
		if err != nil {
			return domain.Tables{}, err
		}
		t.Households = append(t.Households, hh)
	}
	for i, cells := range rel.Rows {
		r := row{rel: &rel, cells: cells, n: i + 1}
		bu, err := b.benefitUnit(r)
		if err != nil {
			return domain.Tables{}, err
		}
		t.BenefitUnits = append(t.BenefitUnits, bu)
	}
	for i, cells := range rel.Rows {
		r := row{rel: &rel, cells: cells, n: i + 1}
		p, err := b.person(r)
		if err != nil {
			return domain.Tables{}, err
		}
		t.Persons = append(t.Persons, p)
	}
	return t, nil
}

func (b *Builder) household(r row) (domain.Household, error) {
	id, err := r.id(ColHouseholdID)
	if err != nil {
		return domain.Household{}, err
	}
	return domain.Household{Key: domain.NewKey(id, r.rel.Year)}, nil
}

func (b *Builder) benefitUnit(r row) (domain.BenefitUnit, error) {
	var bu domain.BenefitUnit
	id, err := r.id(ColBenefitUnitID)
	if err != nil {
		return bu, err
	}
	hh, err := r.id(ColHouseholdID)
	if err != nil {
		return bu, err
	}
	bu.Key = domain.NewKey(id, r.rel.Year)
	bu.Household = domain.NewKey(hh, r.rel.Year)
	bu.Household.WorkingID = domain.DefaultParentRef

	regionCode, err := r.code(recode.ColRegion)
	if err != nil {
		return bu, err
	}
	if bu.Region, err = b.rec.Region(regionCode); err != nil {
		return bu, r.fail(err)
	}
	q, err := r.code(recode.ColIncomeQuintile)
	if err != nil {
		return bu, err
	}
	if bu.IncomeQuintile, err = recode.Quintile(q); err != nil {
		return bu, r.fail(err)
	}
	if bu.HomeOwner, err = r.indicator(recode.ColHomeOwner); err != nil {
		return bu, err
	}
	if bu.LiquidWealth, err = r.wealth(ColLiquidWealth); err != nil {
		return bu, err
	}
	if bu.PensionWealth, err = r.wealth(ColPensionWealth); err != nil {
		return bu, err
	}
	if bu.HousingWealth, err = r.wealth(ColHousingWealth); err != nil {
		return bu, err
	}
	return bu, nil
}

func (b *Builder) person(r row) (domain.Person, error) { //nolint:cyclop
	var p domain.Person
	id, err := r.id(ColPersonID)
	if err != nil {
		return p, err
	}
	buID, err := r.id(ColBenefitUnitID)
	if err != nil {
		return p, err
	}
	p.Key = domain.NewKey(id, r.rel.Year)
	p.BenefitUnit = domain.NewKey(buID, r.rel.Year)
	p.BenefitUnit.WorkingID = domain.DefaultParentRef

	if p.MotherID, err = r.parentID(ColMotherID); err != nil {
		return p, err
	}
	if p.FatherID, err = r.parentID(ColFatherID); err != nil {
		return p, err
	}
	if p.Age, err = r.code(ColAge); err != nil {
		return p, err
	}

	codes := make(map[string]int, 7)
	for _, col := range []string{recode.ColGender, recode.ColHealth, recode.ColEducation, recode.ColMotherEducation, recode.ColFatherEducation, recode.ColActivity, recode.ColCareWho} {
		if codes[col], err = r.code(col); err != nil {
			return p, err
		}
	}
	if p.Gender, err = recode.Gender(codes[recode.ColGender]); err != nil {
		return p, r.fail(err)
	}
	if p.Health, err = recode.Health(codes[recode.ColHealth]); err != nil {
		return p, r.fail(err)
	}
	if p.Education, err = recode.Education(recode.ColEducation, codes[recode.ColEducation]); err != nil {
		return p, r.fail(err)
	}
	if p.MotherEducation, err = recode.Education(recode.ColMotherEducation, codes[recode.ColMotherEducation]); err != nil {
		return p, r.fail(err)
	}
	if p.FatherEducation, err = recode.Education(recode.ColFatherEducation, codes[recode.ColFatherEducation]); err != nil {
		return p, r.fail(err)
	}
	if p.CareProvidedTo, err = recode.CareWho(codes[recode.ColCareWho]); err != nil {
		return p, r.fail(err)
	}

	if p.PotentialHourlyEarnings, err = r.float(ColEarnings); err != nil {
		return p, err
	}
	if p.Activity, err = recode.Activity(codes[recode.ColActivity], p.PotentialHourlyEarnings); err != nil {
		return p, r.fail(err)
	}
	if p.HoursWorkedWeekly, err = r.code(ColHoursWorked); err != nil {
		return p, err
	}
	if p.HoursWorkedWeekly == recode.Sentinel {
		p.HoursWorkedWeekly = 0
	}
	if p.Weight, err = r.float(ColWeight); err != nil {
		return p, err
	}

	flags := []struct {
		col string
		dst *bool
	}{
		{recode.ColInEducation, &p.InEducation},
		{recode.ColReturnedToEdu, &p.ReturnedToEducation},
		{recode.ColLongTermSick, &p.LongTermSick},
		{recode.ColNeedsCare, &p.NeedsSocialCare},
		{recode.ColLeftEducation, &p.LeftEducation},
		{recode.ColAdultChild, &p.AdultChild},
		{recode.ColHomeOwner, &p.HomeOwner},
	}
	for _, f := range flags {
		if *f.dst, err = r.indicator(f.col); err != nil {
			return p, err
		}
	}
	return p, nil
}
