package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/pkg/domain"
	"startpop/testutil"
)

type staticSource struct {
	units   []domain.BenefitUnit
	persons []domain.Person
}

func (s staticSource) Households() []domain.Household     { return nil }
func (s staticSource) BenefitUnits() []domain.BenefitUnit { return s.units }
func (s staticSource) Persons() []domain.Person           { return s.persons }

func person(id, unit int64, age int, g domain.Gender, w float64) domain.Person {
	return domain.Person{Key: domain.NewKey(id, 2017), BenefitUnit: domain.NewKey(unit, 2017), Age: age, Gender: g, Weight: w, Activity: domain.ActivityEmployedOrSelfEmployed}
}

func source() staticSource {
	return staticSource{
		units: []domain.BenefitUnit{
			{Key: domain.NewKey(10, 2017), Region: domain.RegionUKI},
			{Key: domain.NewKey(20, 2017), Region: domain.RegionUKC},
		},
		persons: []domain.Person{
			person(1, 10, 30, domain.GenderFemale, 1),
			person(2, 10, 45, domain.GenderMale, 3),
			person(3, 20, 70, domain.GenderFemale, 2),
			person(4, 20, 8, domain.GenderMale, 2),
		},
	}
}

func ids(ps []domain.Person) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.Key.ID
	}
	return out
}

func TestPredicates(t *testing.T) {
	src := source()
	assert.Equal(t, []int64{1, 2}, ids(Filter(src, AgeBetween(18, 65))))
	assert.Equal(t, []int64{1, 3}, ids(Filter(src, GenderIs(domain.GenderFemale))))
	assert.Equal(t, []int64{3, 4}, ids(Filter(src, RegionIs(src, domain.RegionUKC))))
	assert.Equal(t, []int64{1}, ids(Filter(src, And(AgeBetween(18, 65), GenderIs(domain.GenderFemale), RegionIs(src, domain.RegionUKI)))))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(Filter(src, And())))
	assert.Equal(t, []int64{3, 4}, ids(Filter(src, Not(AgeBetween(18, 65)))))
	assert.Len(t, Filter(src, ActivityIs(domain.ActivityRetired)), 0)
}

func TestWeightedAggregates(t *testing.T) {
	src := source()
	assert.InDelta(t, 8.0, WeightedCount(src.Persons()), 1e-9)
	mean, ok := WeightedMean(src.Persons(), func(p domain.Person) float64 { return float64(p.Age) })
	require.True(t, ok)
	assert.InDelta(t, (30*1+45*3+70*2+8*2)/8.0, mean, 1e-9)

	_, ok = WeightedMean(nil, func(domain.Person) float64 { return 1 })
	assert.False(t, ok)
}

func TestPublicPackagesStayIndependentOfInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "cohort is a public consumer API")
	testutil.AssertNoDirectImports(t, "../domain", testutil.InternalImportForbidden, "domain is imported by every layer")
}
