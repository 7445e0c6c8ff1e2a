package schema

import (
	"fmt"
	"regexp"
	"strings"

	"startpop/pkg/domain"
)

// Registry table names.
const (
	RegistryTableName   = "processed_population"
	MembershipTableName = "processed_household"
)

var keyColumns = []Column{
	{Name: "id", Type: TypeInteger},
	{Name: "simulation_time", Type: TypeInteger},
	{Name: "simulation_run", Type: TypeInteger},
	{Name: "working_id", Type: TypeInteger},
}

var keyNames = []string{"id", "simulation_time", "simulation_run", "working_id"}

// TableName returns the per-(country, year) name of an entity table.
func TableName(entity domain.EntityType, country domain.Country, year int) string {
	return fmt.Sprintf("%s_%s_%d", entity, country.Slug(), year)
}

// StagingTableName returns the staging relation name for (country, year).
func StagingTableName(country domain.Country, year int) string {
	return fmt.Sprintf("staging_%s_%d", country.Slug(), year)
}

// Household returns the household table descriptor. It is the root and
// carries no foreign key.
func Household(country domain.Country, year int) Table {
	return Table{
		Name:       TableName(domain.EntityHousehold, country, year),
		Columns:    append([]Column(nil), keyColumns...),
		PrimaryKey: keyNames,
	}
}

// BenefitUnit returns the benefit unit table descriptor.
func BenefitUnit(country domain.Country, year int) Table {
	cols := append([]Column(nil), keyColumns...)
	cols = append(cols,
		Column{Name: "household_id", Type: TypeInteger},
		Column{Name: "household_time", Type: TypeInteger},
		Column{Name: "household_run", Type: TypeInteger},
		Column{Name: "household_working_id", Type: TypeInteger},
		Column{Name: "region", Type: TypeText},
		Column{Name: "income_quintile", Type: TypeText},
		Column{Name: "home_owner", Type: TypeBoolean},
		Column{Name: "liquid_wealth", Type: TypeReal},
		Column{Name: "pension_wealth", Type: TypeReal},
		Column{Name: "housing_wealth", Type: TypeReal},
	)
	return Table{
		Name:       TableName(domain.EntityBenefitUnit, country, year),
		Columns:    cols,
		PrimaryKey: keyNames,
		ForeignKeys: []ForeignKey{{
			Columns:    []string{"household_id", "household_time", "household_run", "household_working_id"},
			RefTable:   TableName(domain.EntityHousehold, country, year),
			RefColumns: keyNames,
		}},
	}
}

// Person returns the person table descriptor.
func Person(country domain.Country, year int) Table {
	cols := append([]Column(nil), keyColumns...)
	cols = append(cols,
		Column{Name: "benefitunit_id", Type: TypeInteger},
		Column{Name: "benefitunit_time", Type: TypeInteger},
		Column{Name: "benefitunit_run", Type: TypeInteger},
		Column{Name: "prid", Type: TypeInteger},
		Column{Name: "age", Type: TypeInteger},
		Column{Name: "gender", Type: TypeText},
		Column{Name: "health", Type: TypeText},
		Column{Name: "education", Type: TypeText},
		Column{Name: "mother_education", Type: TypeText},
		Column{Name: "father_education", Type: TypeText},
		Column{Name: "activity_status", Type: TypeText},
		Column{Name: "care_provided_to", Type: TypeText},
		Column{Name: "hours_worked_weekly", Type: TypeInteger},
		Column{Name: "potential_hourly_earnings", Type: TypeReal},
		Column{Name: "weight", Type: TypeReal},
		Column{Name: "mother_id", Type: TypeInteger, Nullable: true},
		Column{Name: "father_id", Type: TypeInteger, Nullable: true},
		Column{Name: "in_education", Type: TypeBoolean},
		Column{Name: "returned_to_education", Type: TypeBoolean},
		Column{Name: "long_term_sick", Type: TypeBoolean},
		Column{Name: "needs_social_care", Type: TypeBoolean},
		Column{Name: "left_education", Type: TypeBoolean},
		Column{Name: "adult_child", Type: TypeBoolean},
		Column{Name: "home_owner", Type: TypeBoolean},
	)
	return Table{
		Name:       TableName(domain.EntityPerson, country, year),
		Columns:    cols,
		PrimaryKey: keyNames,
		ForeignKeys: []ForeignKey{{
			Columns:    []string{"benefitunit_id", "benefitunit_time", "benefitunit_run", "prid"},
			RefTable:   TableName(domain.EntityBenefitUnit, country, year),
			RefColumns: keyNames,
		}},
	}
}

// Entities returns the three entity descriptors in dependency order.
func Entities(country domain.Country, year int) []Table {
	return []Table{Household(country, year), BenefitUnit(country, year), Person(country, year)}
}

// Staging returns the staging descriptor for a relation: a row number key
// followed by every raw column as nullable text.
func Staging(rel domain.StagingRelation) Table {
	cols := make([]Column, 0, len(rel.Columns)+1)
	cols = append(cols, Column{Name: "row_number", Type: TypeInteger})
	for _, c := range rel.Columns {
		cols = append(cols, Column{Name: c, Type: TypeText, Nullable: true})
	}
	return Table{
		Name:       StagingTableName(rel.Country, rel.Year),
		Columns:    cols,
		PrimaryKey: []string{"row_number"},
	}
}

// Registry returns the processed population registry descriptor.
func Registry() Table {
	return Table{
		Name: RegistryTableName,
		Columns: []Column{
			{Name: "id", Type: TypeText},
			{Name: "country", Type: TypeText},
			{Name: "start_year", Type: TypeInteger},
			{Name: "population_size", Type: TypeInteger},
			{Name: "created_at", Type: TypeText},
		},
		PrimaryKey: []string{"id"},
		Unique:     [][]string{{"country", "start_year", "population_size"}},
	}
}

// Membership returns the descriptor linking a processed population to the
// households it owns.
func Membership() Table {
	return Table{
		Name: MembershipTableName,
		Columns: []Column{
			{Name: "processed_id", Type: TypeText},
			{Name: "household_id", Type: TypeInteger},
			{Name: "household_time", Type: TypeInteger},
			{Name: "household_run", Type: TypeInteger},
			{Name: "household_working_id", Type: TypeInteger},
		},
		PrimaryKey: []string{"processed_id", "household_id", "household_time", "household_run", "household_working_id"},
		ForeignKeys: []ForeignKey{{
			Columns:    []string{"processed_id"},
			RefTable:   RegistryTableName,
			RefColumns: []string{"id"},
		}},
	}
}

// ValidateEntities checks the three entity descriptors against each other.
func ValidateEntities(country domain.Country, year int) error {
	hh, bu, p := Household(country, year), BenefitUnit(country, year), Person(country, year)
	if err := hh.Validate(); err != nil {
		return err
	}
	if err := bu.Validate(hh); err != nil {
		return err
	}
	return p.Validate(bu)
}

// SplitStatements splits a semicolon-terminated DDL script into executable
// statements, dropping blank lines and "--" comment lines.
func SplitStatements(ddl string) []string {
	var stmts []string
	var current strings.Builder
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}
	for _, line := range strings.Split(ddl, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}

var safeIdent = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SafeName reports whether a generated table name is a plain lower-case identifier.
func SafeName(name string) bool { return safeIdent.MatchString(name) }
