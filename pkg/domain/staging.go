package domain

import (
	"fmt"
	"strings"
)

// StagingRelation is one year's raw extract scoped to (country, year). Cells
// are kept as their raw text; recoding happens when entity tables are built.
type StagingRelation struct {
	Country Country
	Year    int
	Source  string
	Columns []string
	Rows    [][]string

	index map[string]int
}

// NewStagingRelation indexes columns and returns the relation. Duplicate
// column names are rejected.
func NewStagingRelation(country Country, year int, source string, columns []string, rows [][]string) (StagingRelation, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if _, dup := index[name]; dup {
			return StagingRelation{}, fmt.Errorf("duplicate column %q", name)
		}
		index[name] = i
	}
	return StagingRelation{
		Country: country,
		Year:    year,
		Source:  source,
		Columns: columns,
		Rows:    rows,
		index:   index,
	}, nil
}

// Column returns the position of name.
func (s StagingRelation) Column(name string) (int, bool) {
	if s.index == nil {
		for i, c := range s.Columns {
			if c == name {
				return i, true
			}
		}
		return 0, false
	}
	i, ok := s.index[name]
	return i, ok
}

// Missing returns the names in want that the relation lacks, in want order.
func (s StagingRelation) Missing(want []string) []string {
	var out []string
	for _, name := range want {
		if _, ok := s.Column(name); !ok {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the number of rows.
func (s StagingRelation) Len() int { return len(s.Rows) }
