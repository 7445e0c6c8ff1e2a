package domain

import "fmt"

// Defaults assigned to every row of a freshly built population.
const (
	DefaultSimulationRun = 0
	DefaultWorkingID     = 0
	DefaultParentRef     = 0
)

// EntityKey is the composite primary key (id, simulation_time, simulation_run,
// working_id) shared by every entity table.
type EntityKey struct {
	ID             int64 `json:"id"`
	SimulationTime int   `json:"simulation_time"`
	SimulationRun  int   `json:"simulation_run"`
	WorkingID      int   `json:"working_id"`
}

// NewKey returns the key of a newly built row for the given start year.
func NewKey(id int64, year int) EntityKey {
	return EntityKey{ID: id, SimulationTime: year, SimulationRun: DefaultSimulationRun, WorkingID: DefaultWorkingID}
}

// SameScope reports whether both keys live in the same (time, run) scope.
func (k EntityKey) SameScope(o EntityKey) bool {
	return k.SimulationTime == o.SimulationTime && k.SimulationRun == o.SimulationRun
}

// Less orders keys by id, then time, run and working id.
func (k EntityKey) Less(o EntityKey) bool {
	if k.ID != o.ID {
		return k.ID < o.ID
	}
	if k.SimulationTime != o.SimulationTime {
		return k.SimulationTime < o.SimulationTime
	}
	if k.SimulationRun != o.SimulationRun {
		return k.SimulationRun < o.SimulationRun
	}
	return k.WorkingID < o.WorkingID
}

func (k EntityKey) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", k.ID, k.SimulationTime, k.SimulationRun, k.WorkingID)
}

func (k EntityKey) values() []any {
	return []any{k.ID, k.SimulationTime, k.SimulationRun, k.WorkingID}
}

// PopulationKey identifies one starting-population cross-section.
type PopulationKey struct {
	Country        Country `json:"country"`
	StartYear      int     `json:"start_year"`
	PopulationSize int     `json:"population_size"`
}

func (k PopulationKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Country, k.StartYear, k.PopulationSize)
}

// Validate rejects keys that cannot address an extract.
func (k PopulationKey) Validate() error {
	if k.Country == "" {
		return fmt.Errorf("population key: country required")
	}
	if k.StartYear <= 0 {
		return fmt.Errorf("population key: start year must be positive, got %d", k.StartYear)
	}
	if k.PopulationSize < 0 {
		return fmt.Errorf("population key: population size must not be negative, got %d", k.PopulationSize)
	}
	return nil
}
