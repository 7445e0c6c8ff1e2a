// Package cohort is the read-only consumer side of a starting population:
// stateless predicate filters and weighted aggregates over the entity sets.
package cohort

import "startpop/pkg/domain"

// Source exposes snapshot reads of a population.
type Source interface {
	Households() []domain.Household
	BenefitUnits() []domain.BenefitUnit
	Persons() []domain.Person
}

// Predicate selects persons.
type Predicate func(domain.Person) bool

// AgeBetween matches persons aged lo..hi inclusive.
func AgeBetween(lo, hi int) Predicate {
	return func(p domain.Person) bool { return p.Age >= lo && p.Age <= hi }
}

// GenderIs matches persons of gender g.
func GenderIs(g domain.Gender) Predicate {
	return func(p domain.Person) bool { return p.Gender == g }
}

// ActivityIs matches persons with activity status a.
func ActivityIs(a domain.Activity) Predicate {
	return func(p domain.Person) bool { return p.Activity == a }
}

// RegionIs matches persons whose benefit unit in src lies in region r. The
// benefit unit set is read once when the predicate is built.
func RegionIs(src Source, r domain.Region) Predicate {
	in := make(map[domain.EntityKey]struct{})
	for _, b := range src.BenefitUnits() {
		if b.Region == r {
			in[b.Key] = struct{}{}
		}
	}
	return func(p domain.Person) bool {
		_, ok := in[p.BenefitUnit]
		return ok
	}
}

// And matches persons satisfying every predicate; no predicates matches all.
func And(preds ...Predicate) Predicate {
	return func(p domain.Person) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// Not inverts pred.
func Not(pred Predicate) Predicate {
	return func(p domain.Person) bool { return !pred(p) }
}

// Filter returns the persons of src matching pred, in key order.
func Filter(src Source, pred Predicate) []domain.Person {
	var out []domain.Person
	for _, p := range src.Persons() {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// WeightedCount sums the survey weights of persons.
func WeightedCount(persons []domain.Person) float64 {
	var total float64
	for _, p := range persons {
		total += p.Weight
	}
	return total
}

// WeightedMean returns the weight-averaged value over persons. ok is false
// when the total weight is zero.
func WeightedMean(persons []domain.Person, value func(domain.Person) float64) (mean float64, ok bool) {
	var sum, weights float64
	for _, p := range persons {
		sum += p.Weight * value(p)
		weights += p.Weight
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}
