package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/pkg/domain"
)

func TestEntityDescriptorsValidate(t *testing.T) {
	require.NoError(t, ValidateEntities(domain.CountryUK, 2017))
	require.NoError(t, Registry().Validate())
	require.NoError(t, Membership().Validate(Registry()))
}

func TestEntityValuesMatchDescriptors(t *testing.T) {
	mother := int64(7)
	hh := domain.Household{Key: domain.NewKey(1, 2017)}
	bu := domain.BenefitUnit{
		Key:            domain.NewKey(10, 2017),
		Household:      hh.Key,
		Region:         domain.RegionUKI,
		IncomeQuintile: domain.QuintileQ2,
	}
	p := domain.Person{
		Key:         domain.NewKey(100, 2017),
		BenefitUnit: bu.Key,
		Gender:      domain.GenderMale,
		MotherID:    &mother,
	}
	require.NoError(t, Household(domain.CountryUK, 2017).CheckRow(hh.Values()))
	require.NoError(t, BenefitUnit(domain.CountryUK, 2017).CheckRow(bu.Values()))
	require.NoError(t, Person(domain.CountryUK, 2017).CheckRow(p.Values()))

	p.MotherID = nil
	require.NoError(t, Person(domain.CountryUK, 2017).CheckRow(p.Values()), "mother id is nullable")
}

func TestCheckRowRejectsMismatches(t *testing.T) {
	tbl := Household(domain.CountryUK, 2017)
	require.Error(t, tbl.CheckRow([]any{int64(1), 2017, 0}))
	require.Error(t, tbl.CheckRow([]any{int64(1), 2017, 0, nil}))
	require.Error(t, tbl.CheckRow([]any{"1", 2017, 0, 0}))
}

func TestValidateCatchesBrokenDescriptors(t *testing.T) {
	cases := map[string]Table{
		"no name":      {Columns: []Column{{Name: "a", Type: TypeText}}, PrimaryKey: []string{"a"}},
		"no pk":        {Name: "t", Columns: []Column{{Name: "a", Type: TypeText}}},
		"nullable pk":  {Name: "t", Columns: []Column{{Name: "a", Type: TypeText, Nullable: true}}, PrimaryKey: []string{"a"}},
		"dup column":   {Name: "t", Columns: []Column{{Name: "a", Type: TypeText}, {Name: "a", Type: TypeText}}, PrimaryKey: []string{"a"}},
		"bad type":     {Name: "t", Columns: []Column{{Name: "a", Type: "blob"}}, PrimaryKey: []string{"a"}},
		"missing fk":   {Name: "t", Columns: []Column{{Name: "a", Type: TypeText}}, PrimaryKey: []string{"a"}, ForeignKeys: []ForeignKey{{Columns: []string{"b"}, RefTable: "x", RefColumns: []string{"id"}}}},
		"fk arity":     {Name: "t", Columns: []Column{{Name: "a", Type: TypeText}}, PrimaryKey: []string{"a"}, ForeignKeys: []ForeignKey{{Columns: []string{"a"}, RefTable: "x", RefColumns: []string{"id", "y"}}}},
		"unique ghost": {Name: "t", Columns: []Column{{Name: "a", Type: TypeText}}, PrimaryKey: []string{"a"}, Unique: [][]string{{"z"}}},
	}
	for name, tbl := range cases {
		assert.Error(t, tbl.Validate(), name)
	}

	ref := Table{Name: "x", Columns: []Column{{Name: "id", Type: TypeInteger}}, PrimaryKey: []string{"id"}}
	typed := Table{Name: "t", Columns: []Column{{Name: "a", Type: TypeText}}, PrimaryKey: []string{"a"}, ForeignKeys: []ForeignKey{{Columns: []string{"a"}, RefTable: "x", RefColumns: []string{"id"}}}}
	assert.Error(t, typed.Validate(ref), "type mismatch across foreign key")
}

func TestCreateDDLDialects(t *testing.T) {
	bu := BenefitUnit(domain.CountryIT, 2019)
	lite := bu.CreateDDL(SQLite)
	assert.Contains(t, lite, `CREATE TABLE "benefitunit_it_2019"`)
	assert.Contains(t, lite, `"home_owner" INTEGER NOT NULL`)
	assert.Contains(t, lite, `PRIMARY KEY ("id", "simulation_time", "simulation_run", "working_id")`)
	assert.Contains(t, lite, `FOREIGN KEY ("household_id", "household_time", "household_run", "household_working_id") REFERENCES "household_it_2019"`)

	pg := bu.CreateDDL(Postgres)
	assert.Contains(t, pg, `"home_owner" BOOLEAN NOT NULL`)
	assert.Contains(t, pg, `"liquid_wealth" DOUBLE PRECISION NOT NULL`)

	p := Person(domain.CountryIT, 2019).CreateDDL(Postgres)
	assert.Contains(t, p, `"mother_id" BIGINT,`)
}

func TestInsertAndSelectSQL(t *testing.T) {
	hh := Household(domain.CountryUK, 2017)
	assert.Equal(t, `INSERT INTO "household_uk_2017" ("id", "simulation_time", "simulation_run", "working_id") VALUES (?, ?, ?, ?)`, hh.InsertSQL(SQLite))
	assert.Equal(t, `INSERT INTO "household_uk_2017" ("id", "simulation_time", "simulation_run", "working_id") VALUES ($1, $2, $3, $4)`, hh.InsertSQL(Postgres))
	assert.True(t, strings.HasSuffix(hh.SelectSQL(), `ORDER BY "id", "simulation_time", "simulation_run", "working_id"`))
}

func TestStagingDescriptor(t *testing.T) {
	rel, err := domain.NewStagingRelation(domain.CountryUK, 2017, "x.csv", []string{"idhh", "careWho"}, [][]string{{"1", "0"}})
	require.NoError(t, err)
	tbl := Staging(rel)
	require.NoError(t, tbl.Validate())
	assert.Equal(t, "staging_uk_2017", tbl.Name)
	assert.Equal(t, []string{"row_number", "idhh", "careWho"}, tbl.ColumnNames())
	assert.Contains(t, tbl.CreateDDL(SQLite), `"careWho" TEXT,`)
}

func TestScriptRoundTripsThroughSplit(t *testing.T) {
	script := Script(SQLite, true, Entities(domain.CountryUK, 2017)...)
	stmts := SplitStatements(script)
	require.Len(t, stmts, 3)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
		assert.True(t, strings.HasSuffix(s, ";"))
	}
}

func TestSplitStatementsHandlesTail(t *testing.T) {
	stmts := SplitStatements("-- header\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT)")
	assert.Equal(t, []string{"CREATE TABLE a (x INT);", "CREATE TABLE b (y INT)"}, stmts)
}

func TestTableNamesAreSafe(t *testing.T) {
	assert.True(t, SafeName(TableName(domain.EntityPerson, domain.CountryUK, 2017)))
	assert.True(t, SafeName(StagingTableName(domain.CountryIT, 2020)))
	assert.False(t, SafeName(TableName(domain.EntityPerson, domain.Country(`U"K`), 2017)))
}
