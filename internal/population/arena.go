// Package population holds assembled starting populations. Entities live in
// an immutable arena addressed by composite key; a ProcessedPopulation owns a
// household set and derives its benefit units and persons from the arena.
package population

import (
	"sort"

	"startpop/pkg/domain"
)

// Arena indexes one (country, year) table set by key. It is read-only after
// construction and may be shared by any number of populations.
type Arena struct {
	country domain.Country
	year    int

	households []domain.Household
	units      map[domain.EntityKey]domain.BenefitUnit
	persons    map[domain.EntityKey]domain.Person

	householdIndex   map[domain.EntityKey]struct{}
	unitsByHousehold map[domain.EntityKey][]domain.EntityKey
	personsByUnit    map[domain.EntityKey][]domain.EntityKey
}

// NewArena indexes tables. Children referencing a missing parent or keys
// appearing twice are integrity errors.
func NewArena(t domain.Tables) (*Arena, error) {
	a := &Arena{
		country:          t.Country,
		year:             t.Year,
		households:       append([]domain.Household(nil), t.Households...),
		units:            make(map[domain.EntityKey]domain.BenefitUnit, len(t.BenefitUnits)),
		persons:          make(map[domain.EntityKey]domain.Person, len(t.Persons)),
		householdIndex:   make(map[domain.EntityKey]struct{}, len(t.Households)),
		unitsByHousehold: make(map[domain.EntityKey][]domain.EntityKey, len(t.Households)),
		personsByUnit:    make(map[domain.EntityKey][]domain.EntityKey, len(t.BenefitUnits)),
	}
	sort.SliceStable(a.households, func(i, j int) bool { return a.households[i].Key.Less(a.households[j].Key) })
	for _, h := range a.households {
		if _, dup := a.householdIndex[h.Key]; dup {
			return nil, &domain.IntegrityError{Entity: domain.EntityHousehold, Key: h.Key, Reason: "duplicate primary key"}
		}
		a.householdIndex[h.Key] = struct{}{}
	}
	for _, b := range t.BenefitUnits {
		if _, dup := a.units[b.Key]; dup {
			return nil, &domain.IntegrityError{Entity: domain.EntityBenefitUnit, Key: b.Key, Reason: "duplicate primary key"}
		}
		if _, ok := a.householdIndex[b.Household]; !ok {
			return nil, &domain.IntegrityError{Entity: domain.EntityBenefitUnit, Key: b.Key, Reason: "household " + b.Household.String() + " not found"}
		}
		a.units[b.Key] = b
		a.unitsByHousehold[b.Household] = append(a.unitsByHousehold[b.Household], b.Key)
	}
	for _, p := range t.Persons {
		if _, dup := a.persons[p.Key]; dup {
			return nil, &domain.IntegrityError{Entity: domain.EntityPerson, Key: p.Key, Reason: "duplicate primary key"}
		}
		if _, ok := a.units[p.BenefitUnit]; !ok {
			return nil, &domain.IntegrityError{Entity: domain.EntityPerson, Key: p.Key, Reason: "benefit unit " + p.BenefitUnit.String() + " not found"}
		}
		a.persons[p.Key] = p
		a.personsByUnit[p.BenefitUnit] = append(a.personsByUnit[p.BenefitUnit], p.Key)
	}
	for _, keys := range a.unitsByHousehold {
		sortKeys(keys)
	}
	for _, keys := range a.personsByUnit {
		sortKeys(keys)
	}
	return a, nil
}

func sortKeys(keys []domain.EntityKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Country returns the arena's country.
func (a *Arena) Country() domain.Country { return a.country }

// Year returns the arena's start year.
func (a *Arena) Year() int { return a.year }

// Households returns every household in key order.
func (a *Arena) Households() []domain.Household {
	return append([]domain.Household(nil), a.households...)
}

// Has reports whether the arena holds household key.
func (a *Arena) Has(key domain.EntityKey) bool {
	_, ok := a.householdIndex[key]
	return ok
}

// BenefitUnitsOf returns the benefit units of household in key order.
func (a *Arena) BenefitUnitsOf(household domain.EntityKey) []domain.BenefitUnit {
	keys := a.unitsByHousehold[household]
	out := make([]domain.BenefitUnit, len(keys))
	for i, k := range keys {
		out[i] = a.units[k]
	}
	return out
}

// PersonsOf returns the members of benefit unit in key order.
func (a *Arena) PersonsOf(unit domain.EntityKey) []domain.Person {
	keys := a.personsByUnit[unit]
	out := make([]domain.Person, len(keys))
	for i, k := range keys {
		out[i] = a.persons[k]
	}
	return out
}

// PersonCount returns the number of persons living in household.
func (a *Arena) PersonCount(household domain.EntityKey) int {
	n := 0
	for _, u := range a.unitsByHousehold[household] {
		n += len(a.personsByUnit[u])
	}
	return n
}

// Tables returns a copy of the full table set in key order.
func (a *Arena) Tables() domain.Tables {
	t := domain.Tables{Country: a.country, Year: a.year, Households: a.Households()}
	for _, h := range a.households {
		for _, b := range a.BenefitUnitsOf(h.Key) {
			t.BenefitUnits = append(t.BenefitUnits, b)
			t.Persons = append(t.Persons, a.PersonsOf(b.Key)...)
		}
	}
	sort.SliceStable(t.BenefitUnits, func(i, j int) bool { return t.BenefitUnits[i].Key.Less(t.BenefitUnits[j].Key) })
	sort.SliceStable(t.Persons, func(i, j int) bool { return t.Persons[i].Key.Less(t.Persons[j].Key) })
	return t.Clone()
}

// SelectHouseholds returns households in key order until their cumulative
// person count reaches size. size <= 0 selects every household.
func (a *Arena) SelectHouseholds(size int) []domain.EntityKey {
	out := make([]domain.EntityKey, 0, len(a.households))
	total := 0
	for _, h := range a.households {
		if size > 0 && total >= size {
			break
		}
		out = append(out, h.Key)
		total += a.PersonCount(h.Key)
	}
	return out
}
