package recode

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/config"
	"startpop/pkg/domain"
)

func assertRecodeError(t *testing.T, err error, field, raw string) {
	t.Helper()
	var re *domain.RecodeError
	require.True(t, errors.As(err, &re), "expected RecodeError, got %v", err)
	assert.Equal(t, field, re.Field)
	assert.Equal(t, raw, re.RawValue)
}

func TestHealthTotality(t *testing.T) {
	want := []domain.Health{domain.HealthPoor, domain.HealthFair, domain.HealthGood, domain.HealthVeryGood, domain.HealthExcellent}
	for i, w := range want {
		got, err := Health(i + 1)
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
	for _, bad := range []int{0, 6, Sentinel} {
		_, err := Health(bad)
		assertRecodeError(t, err, ColHealth, strconv.Itoa(bad))
	}
}

func TestEducationSentinelIsLow(t *testing.T) {
	cases := map[int]domain.Education{
		1:  domain.EducationHigh,
		2:  domain.EducationMedium,
		3:  domain.EducationLow,
		-9: domain.EducationLow,
	}
	for _, field := range []string{ColEducation, ColMotherEducation, ColFatherEducation} {
		for raw, want := range cases {
			got, err := Education(field, raw)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%s=%d", field, raw)
		}
		_, err := Education(field, 4)
		assertRecodeError(t, err, field, "4")
	}
}

func TestGender(t *testing.T) {
	f, err := Gender(0)
	require.NoError(t, err)
	assert.Equal(t, domain.GenderFemale, f)
	m, err := Gender(1)
	require.NoError(t, err)
	assert.Equal(t, domain.GenderMale, m)
	_, err = Gender(2)
	assertRecodeError(t, err, ColGender, "2")
}

func TestActivityEarningsCorrection(t *testing.T) {
	cases := []struct {
		raw      int
		earnings float64
		want     domain.Activity
	}{
		{1, 0.00, domain.ActivityNotEmployed},
		{1, 0.0099, domain.ActivityNotEmployed},
		{1, 0.01, domain.ActivityEmployedOrSelfEmployed},
		{1, 12.5, domain.ActivityEmployedOrSelfEmployed},
		{2, 0, domain.ActivityStudent},
		{3, 20, domain.ActivityNotEmployed},
		{4, 0, domain.ActivityRetired},
	}
	for _, tc := range cases {
		got, err := Activity(tc.raw, tc.earnings)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "les_c4=%d earnings=%v", tc.raw, tc.earnings)
	}
	_, err := Activity(5, 10)
	assertRecodeError(t, err, ColActivity, "5")
}

func TestIndicators(t *testing.T) {
	for col := range indicatorColumns {
		f, err := Indicator(col, 0)
		require.NoError(t, err)
		assert.False(t, f)
		tr, err := Indicator(col, 1)
		require.NoError(t, err)
		assert.True(t, tr)
		_, err = Indicator(col, 2)
		assertRecodeError(t, err, col, "2")
	}
	_, err := Indicator(ColHealth, 1)
	require.Error(t, err)
}

func TestQuintileAndCare(t *testing.T) {
	for i, want := range []domain.Quintile{domain.QuintileQ1, domain.QuintileQ2, domain.QuintileQ3, domain.QuintileQ4, domain.QuintileQ5} {
		got, err := Quintile(i + 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := Quintile(0)
	assertRecodeError(t, err, ColIncomeQuintile, "0")

	for i, want := range []domain.CareWho{domain.CareNone, domain.CareOnlyPartner, domain.CarePartnerAndOther, domain.CareOnlyOther} {
		got, err := CareWho(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = CareWho(4)
	assertRecodeError(t, err, ColCareWho, "4")
}

func TestRegionPerCountry(t *testing.T) {
	cfg := config.Default()
	uk, err := New(cfg, domain.CountryUK)
	require.NoError(t, err)
	region, err := uk.Region(8)
	require.NoError(t, err)
	assert.Equal(t, domain.RegionUKI, region)
	assert.Equal(t, "London", region.Label())

	it, err := New(cfg, domain.CountryIT)
	require.NoError(t, err)
	_, err = it.Region(8)
	assertRecodeError(t, err, ColRegion, "8")

	for code, want := range map[int]domain.Region{1: domain.RegionITC, 2: domain.RegionITH, 3: domain.RegionITI, 4: domain.RegionITF, 5: domain.RegionITG} {
		got, err := it.Region(code)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNewRequiresRegionTable(t *testing.T) {
	_, err := New(config.Default(), domain.Country("FR"))
	require.Error(t, err)
}

func TestCodeParsing(t *testing.T) {
	v, err := Code(ColHealth, " 3 ")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = Code(ColHealth, "3.0")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = Code(ColEducation, "-9")
	require.NoError(t, err)
	assert.Equal(t, -9, v)

	for _, bad := range []string{"", "abc", "2.5", "NaN", "+Inf", "1e19", "-9.3e18", "9223372036854775807", "2147483648"} {
		_, err := Code(ColHealth, bad)
		assertRecodeError(t, err, ColHealth, bad)
	}
}

func TestRecodeDispatcher(t *testing.T) {
	r, err := New(config.Default(), domain.CountryUK)
	require.NoError(t, err)

	cases := []struct {
		col  string
		raw  string
		want any
	}{
		{ColHealth, "3", domain.HealthGood},
		{ColEducation, "-9", domain.EducationLow},
		{ColFatherEducation, "1", domain.EducationHigh},
		{ColGender, "0", domain.GenderFemale},
		{ColActivity, "1", domain.ActivityEmployedOrSelfEmployed},
		{ColLongTermSick, "1", true},
		{ColHomeOwner, "0", false},
		{ColIncomeQuintile, "5", domain.QuintileQ5},
		{ColRegion, "8", domain.RegionUKI},
		{ColCareWho, "2", domain.CarePartnerAndOther},
	}
	for _, tc := range cases {
		got, err := r.Recode(tc.col, tc.raw)
		require.NoError(t, err, tc.col)
		assert.Equal(t, tc.want, got, tc.col)
	}

	_, err = r.Recode("idperson", "1")
	require.Error(t, err)
	_, err = r.Recode(ColRegion, "3")
	assertRecodeError(t, err, ColRegion, "3")
}
