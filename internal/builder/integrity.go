package builder

import (
	"startpop/pkg/domain"
)

// CheckIntegrity verifies primary key uniqueness in every table and that
// each benefit unit and person resolves to exactly one parent in the same
// (time, run) scope. It runs on deduplicated tables.
func CheckIntegrity(t domain.Tables) error {
	households := make(map[domain.EntityKey]struct{}, len(t.Households))
	for _, h := range t.Households {
		if _, dup := households[h.Key]; dup {
			return &domain.IntegrityError{Entity: domain.EntityHousehold, Key: h.Key, Reason: "duplicate primary key"}
		}
		households[h.Key] = struct{}{}
	}
	units := make(map[domain.EntityKey]struct{}, len(t.BenefitUnits))
	for _, b := range t.BenefitUnits {
		if _, dup := units[b.Key]; dup {
			return &domain.IntegrityError{Entity: domain.EntityBenefitUnit, Key: b.Key, Reason: "duplicate primary key; benefit unit rows disagree on household or attributes"}
		}
		units[b.Key] = struct{}{}
		if !b.Household.SameScope(b.Key) {
			return &domain.IntegrityError{Entity: domain.EntityBenefitUnit, Key: b.Key, Reason: "household reference " + b.Household.String() + " outside row scope"}
		}
		if _, ok := households[b.Household]; !ok {
			return &domain.IntegrityError{Entity: domain.EntityBenefitUnit, Key: b.Key, Reason: "household " + b.Household.String() + " not found"}
		}
	}
	persons := make(map[domain.EntityKey]struct{}, len(t.Persons))
	for _, p := range t.Persons {
		if _, dup := persons[p.Key]; dup {
			return &domain.IntegrityError{Entity: domain.EntityPerson, Key: p.Key, Reason: "duplicate primary key"}
		}
		persons[p.Key] = struct{}{}
		if !p.BenefitUnit.SameScope(p.Key) {
			return &domain.IntegrityError{Entity: domain.EntityPerson, Key: p.Key, Reason: "benefit unit reference " + p.BenefitUnit.String() + " outside row scope"}
		}
		if _, ok := units[p.BenefitUnit]; !ok {
			return &domain.IntegrityError{Entity: domain.EntityPerson, Key: p.Key, Reason: "benefit unit " + p.BenefitUnit.String() + " not found"}
		}
	}
	return nil
}
