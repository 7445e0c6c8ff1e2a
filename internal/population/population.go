package population

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"startpop/pkg/cohort"
	"startpop/pkg/domain"
)

var _ cohort.Source = (*ProcessedPopulation)(nil)

// ProcessedPopulation is the assembled population for one PopulationKey.
// Benefit units and persons are never stored independently: they are
// recomputed from scratch out of the arena whenever the household set has
// changed since they were last read.
type ProcessedPopulation struct {
	id        uuid.UUID
	key       domain.PopulationKey
	createdAt time.Time
	arena     *Arena

	mu         sync.Mutex
	households []domain.Household
	version    uint64

	derivedVersion uint64
	units          []domain.BenefitUnit
	persons        []domain.Person
	recomputes     int
}

// New returns a population owning the given household keys.
func New(id uuid.UUID, key domain.PopulationKey, createdAt time.Time, arena *Arena, households []domain.EntityKey) (*ProcessedPopulation, error) {
	p := &ProcessedPopulation{id: id, key: key, createdAt: createdAt, arena: arena}
	hs := make([]domain.Household, len(households))
	for i, k := range households {
		hs[i] = domain.Household{Key: k}
	}
	if err := p.SetHouseholds(hs); err != nil {
		return nil, err
	}
	return p, nil
}

// ID returns the registry id of the population.
func (p *ProcessedPopulation) ID() uuid.UUID { return p.id }

// Key returns the population key.
func (p *ProcessedPopulation) Key() domain.PopulationKey { return p.key }

// CreatedAt returns when the population was first committed.
func (p *ProcessedPopulation) CreatedAt() time.Time { return p.createdAt }

// Arena returns the shared entity arena.
func (p *ProcessedPopulation) Arena() *Arena { return p.arena }

// Households returns a copy of the owned household set in key order.
func (p *ProcessedPopulation) Households() []domain.Household {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Household(nil), p.households...)
}

// HouseholdKeys returns the owned household keys in key order.
func (p *ProcessedPopulation) HouseholdKeys() []domain.EntityKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EntityKey, len(p.households))
	for i, h := range p.households {
		out[i] = h.Key
	}
	return out
}

// SetHouseholds replaces the owned household set. Every household must be
// present in the arena; duplicates collapse. Derived views are invalidated
// and rebuilt on next read.
func (p *ProcessedPopulation) SetHouseholds(households []domain.Household) error {
	seen := make(map[domain.EntityKey]struct{}, len(households))
	next := make([]domain.Household, 0, len(households))
	for _, h := range households {
		if !p.arena.Has(h.Key) {
			return &domain.IntegrityError{Entity: domain.EntityHousehold, Key: h.Key, Reason: fmt.Sprintf("not part of %s %d", p.arena.Country(), p.arena.Year())}
		}
		if _, dup := seen[h.Key]; dup {
			continue
		}
		seen[h.Key] = struct{}{}
		next = append(next, h)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Key.Less(next[j].Key) })

	p.mu.Lock()
	defer p.mu.Unlock()
	p.households = next
	p.version++
	return nil
}

// BenefitUnits returns the benefit units of the owned households.
func (p *ProcessedPopulation) BenefitUnits() []domain.BenefitUnit {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.derive()
	return append([]domain.BenefitUnit(nil), p.units...)
}

// Persons returns the members of the owned benefit units.
func (p *ProcessedPopulation) Persons() []domain.Person {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.derive()
	out := make([]domain.Person, len(p.persons))
	copy(out, p.persons)
	for i := range out {
		out[i] = clonePerson(out[i])
	}
	return out
}

// Recomputations returns how many times the derived views were rebuilt.
func (p *ProcessedPopulation) Recomputations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recomputes
}

// derive rebuilds both derived views when they are stale. Callers hold mu.
func (p *ProcessedPopulation) derive() {
	if p.derivedVersion == p.version {
		return
	}
	units := make([]domain.BenefitUnit, 0, len(p.households))
	persons := make([]domain.Person, 0, len(p.households))
	for _, h := range p.households {
		for _, b := range p.arena.BenefitUnitsOf(h.Key) {
			units = append(units, b)
			persons = append(persons, p.arena.PersonsOf(b.Key)...)
		}
	}
	sort.SliceStable(units, func(i, j int) bool { return units[i].Key.Less(units[j].Key) })
	sort.SliceStable(persons, func(i, j int) bool { return persons[i].Key.Less(persons[j].Key) })
	p.units, p.persons = units, persons
	p.derivedVersion = p.version
	p.recomputes++
}

// Tables returns the owned subset as entity tables.
func (p *ProcessedPopulation) Tables() domain.Tables {
	return domain.Tables{
		Country:      p.key.Country,
		Year:         p.key.StartYear,
		Households:   p.Households(),
		BenefitUnits: p.BenefitUnits(),
		Persons:      p.Persons(),
	}
}

// Record returns the registry record describing the population.
func (p *ProcessedPopulation) Record() domain.RegistryRecord {
	return domain.RegistryRecord{ID: p.id, Key: p.key, Households: p.HouseholdKeys(), CreatedAt: p.createdAt}
}

func clonePerson(pp domain.Person) domain.Person {
	if pp.MotherID != nil {
		v := *pp.MotherID
		pp.MotherID = &v
	}
	if pp.FatherID != nil {
		v := *pp.FatherID
		pp.FatherID = &v
	}
	return pp
}
