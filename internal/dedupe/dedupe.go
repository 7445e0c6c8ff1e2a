// Package dedupe removes rows that are identical across every column.
package dedupe

import (
	"fmt"
	"sort"
	"strings"

	"startpop/pkg/domain"
)

// Row is any entity table row.
type Row interface {
	PrimaryKey() domain.EntityKey
	Values() []any
}

// Rows returns the distinct rows of in, keeping the first occurrence of each
// and stable-sorting the survivors by primary key. in is not modified.
func Rows[T Row](in []T) []T {
	seen := make(map[string]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, r := range in {
		fp := fingerprint(r.Values())
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PrimaryKey().Less(out[j].PrimaryKey())
	})
	return out
}

// Tables deduplicates the household and benefit unit tables. Persons are
// sorted but kept as-is: the extract is at person grain.
func Tables(t domain.Tables) (domain.Tables, Stats) {
	out := domain.Tables{Country: t.Country, Year: t.Year}
	out.Households = Rows(t.Households)
	out.BenefitUnits = Rows(t.BenefitUnits)
	out.Persons = append([]domain.Person(nil), t.Persons...)
	sort.SliceStable(out.Persons, func(i, j int) bool { return out.Persons[i].Key.Less(out.Persons[j].Key) })
	return out, Stats{
		HouseholdsRemoved:   len(t.Households) - len(out.Households),
		BenefitUnitsRemoved: len(t.BenefitUnits) - len(out.BenefitUnits),
	}
}

// Stats reports how many rows Tables collapsed.
type Stats struct {
	HouseholdsRemoved   int
	BenefitUnitsRemoved int
}

// fingerprint encodes values with their dynamic type so 1 and "1" differ.
func fingerprint(values []any) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%T=%v\x1f", v, v)
	}
	return b.String()
}
