package testutil

import (
	"strconv"
	"strings"
)

// Columns is the extract header written by CSV.
var Columns = []string{
	"idhh", "idbenefitunit", "drgn1", "ydses_c5", "dhh_owned",
	"liquid_wealth", "tot_pen", "nvmhome",
	"idperson", "idmother", "idfather", "dag", "dgn", "dhe", "deh_c3",
	"dehm_c3", "dehf_c3", "les_c4", "potential_earnings_hourly", "lhw",
	"ded", "der", "dlltsd", "need_socare", "sedex", "adultchildflag",
	"careWho", "dwt",
}

// Row is one person-grain extract row keyed by column name.
type Row map[string]string

// Person returns a row for an employed adult with every column populated.
func Person(household, benefitUnit, person int64) Row {
	return Row{
		"idhh":                      strconv.FormatInt(household, 10),
		"idbenefitunit":             strconv.FormatInt(benefitUnit, 10),
		"drgn1":                     "8",
		"ydses_c5":                  "3",
		"dhh_owned":                 "1",
		"liquid_wealth":             "1000.5",
		"tot_pen":                   "-9",
		"nvmhome":                   "250000",
		"idperson":                  strconv.FormatInt(person, 10),
		"idmother":                  "-9",
		"idfather":                  "-9",
		"dag":                       "40",
		"dgn":                       "1",
		"dhe":                       "3",
		"deh_c3":                    "2",
		"dehm_c3":                   "-9",
		"dehf_c3":                   "-9",
		"les_c4":                    "1",
		"potential_earnings_hourly": "15.5",
		"lhw":                       "37",
		"ded":                       "0",
		"der":                       "0",
		"dlltsd":                    "0",
		"need_socare":               "0",
		"sedex":                     "0",
		"adultchildflag":            "0",
		"careWho":                   "0",
		"dwt":                       "1.25",
	}
}

// With returns a copy of r with the given column/value pairs applied.
func (r Row) With(kv ...string) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// Without returns a copy of r lacking the named columns.
func (r Row) Without(cols ...string) Row {
	out := r.With()
	for _, c := range cols {
		delete(out, c)
	}
	return out
}

// CSV renders rows under the Columns header. Columns missing from every row
// are left out of the header.
func CSV(rows ...Row) string {
	var header []string
	for _, c := range Columns {
		for _, r := range rows {
			if _, ok := r[c]; ok {
				header = append(header, c)
				break
			}
		}
	}
	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	b.WriteByte('\n')
	for _, r := range rows {
		cells := make([]string, len(header))
		for i, c := range header {
			cells[i] = r[c]
		}
		b.WriteString(strings.Join(cells, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

// SampleRows is a three-household extract:
//
//	household 1: benefit unit 10 (persons 100, 101), benefit unit 11 (person 102, their child)
//	household 2: benefit unit 20 (person 200, retired)
//	household 3: benefit unit 30 (persons 300, 301, 302)
//
// Person 302 is a child with no earnings, raw employed status and missing
// education, exercising the recoding corrections.
func SampleRows() []Row {
	return []Row{
		Person(1, 10, 100),
		Person(1, 10, 101).With("dgn", "0", "dag", "38", "dhe", "4", "deh_c3", "1", "careWho", "1"),
		Person(1, 11, 102).With("dag", "20", "idmother", "101", "idfather", "100", "ded", "1", "les_c4", "2",
			"adultchildflag", "1", "potential_earnings_hourly", "0", "lhw", "-9", "ydses_c5", "1",
			"liquid_wealth", "-9", "nvmhome", "-9", "dehm_c3", "1", "dehf_c3", "2", "dhh_owned", "0"),
		Person(2, 20, 200).With("dag", "71", "les_c4", "4", "dhe", "2", "dlltsd", "1", "need_socare", "1",
			"drgn1", "1", "ydses_c5", "2", "tot_pen", "120000", "dwt", "0.8", "potential_earnings_hourly", "0", "lhw", "0"),
		Person(3, 30, 300).With("drgn1", "13", "ydses_c5", "5", "dwt", "2"),
		Person(3, 30, 301).With("drgn1", "13", "ydses_c5", "5", "dgn", "0", "dag", "35", "dwt", "2"),
		Person(3, 30, 302).With("drgn1", "13", "ydses_c5", "5", "dwt", "2", "dag", "8", "dgn", "0",
			"dhe", "3", "deh_c3", "-9", "les_c4", "1", "potential_earnings_hourly", "0.00", "lhw", "0",
			"idmother", "301", "idfather", "300", "dehm_c3", "2", "dehf_c3", "2"),
	}
}

// SampleCSV renders SampleRows.
func SampleCSV() string { return CSV(SampleRows()...) }

// SamplePersonsPerHousehold lists the person count of each sample household in key order.
var SamplePersonsPerHousehold = []int{3, 1, 3}
