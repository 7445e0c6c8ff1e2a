// Package extract loads one year's survey CSV into a staging relation.
// Cell values are kept as raw text; recoding happens downstream.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"startpop/internal/blob/core"
	"startpop/internal/config"
	"startpop/pkg/domain"
)

// Raw column lists per entity table. The extract header must be a superset
// of their union.
var (
	HouseholdColumns = []string{"idhh"}

	BenefitUnitColumns = []string{
		"idbenefitunit", "idhh", "drgn1", "ydses_c5", "dhh_owned",
		"liquid_wealth", "tot_pen", "nvmhome",
	}

	PersonColumns = []string{
		"idperson", "idbenefitunit", "idhh", "idmother", "idfather",
		"dag", "dgn", "dhe", "deh_c3", "dehm_c3", "dehf_c3", "les_c4",
		"potential_earnings_hourly", "lhw", "ded", "der", "dlltsd",
		"need_socare", "sedex", "adultchildflag", "dhh_owned", "careWho", "dwt",
	}
)

// RequiredColumns returns the union of the entity column lists in first-seen order.
func RequiredColumns() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{HouseholdColumns, BenefitUnitColumns, PersonColumns} {
		for _, c := range list {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Loader reads extracts from a blob source.
type Loader struct {
	src    core.Reader
	cfg    config.Config
	logger *zap.Logger
}

// NewLoader returns a loader over src. A nil logger disables logging.
func NewLoader(src core.Reader, cfg config.Config, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{src: src, cfg: cfg, logger: logger}
}

// Load reads the configured extract for (country, year).
func (l *Loader) Load(ctx context.Context, country domain.Country, year int) (domain.StagingRelation, error) {
	return l.LoadKey(ctx, country, year, l.cfg.ExtractKey(country, year))
}

// LoadKey reads the extract at an explicit blob key.
func (l *Loader) LoadKey(ctx context.Context, country domain.Country, year int, key string) (domain.StagingRelation, error) {
	if err := ctx.Err(); err != nil {
		return domain.StagingRelation{}, err
	}
	_, rc, err := l.src.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return domain.StagingRelation{}, &domain.IngestionError{Country: country, Year: year, Path: key, Err: domain.ErrMissingInput}
		}
		return domain.StagingRelation{}, &domain.IngestionError{Country: country, Year: year, Path: key, Err: err}
	}
	defer func() { _ = rc.Close() }()
	rel, err := Parse(rc, country, year, key)
	if err != nil {
		return domain.StagingRelation{}, err
	}
	l.logger.Debug("extract loaded",
		zap.String("country", string(country)),
		zap.Int("year", year),
		zap.String("source", key),
		zap.String("driver", string(l.src.Driver())),
		zap.Int("rows", rel.Len()),
	)
	return rel, nil
}

// Parse reads CSV from r. The header row names the columns; every required
// column must be present. Values are trimmed but otherwise left untouched.
func Parse(r io.Reader, country domain.Country, year int, source string) (domain.StagingRelation, error) {
	fail := func(column string, err error) (domain.StagingRelation, error) {
		return domain.StagingRelation{}, &domain.IngestionError{Country: country, Year: year, Path: source, Column: column, Err: err}
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fail("", fmt.Errorf("empty extract"))
	}
	if err != nil {
		return fail("", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	// Unnamed columns (a written-out row index, a trailing comma) carry no
	// variable and are dropped.
	var keep []int
	var columns []string
	for i, h := range header {
		if h = strings.TrimSpace(h); h != "" {
			keep = append(keep, i)
			columns = append(columns, h)
		}
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail("", err)
		}
		row := make([]string, len(keep))
		for j, i := range keep {
			row[j] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
	rel, err := domain.NewStagingRelation(country, year, source, columns, rows)
	if err != nil {
		return fail("", err)
	}
	if missing := rel.Missing(RequiredColumns()); len(missing) > 0 {
		return fail(missing[0], fmt.Errorf("%w: %s", domain.ErrMissingColumn, strings.Join(missing, ", ")))
	}
	return rel, nil
}

// AvailableYears lists the start years with an extract for country under
// src, sorted. Keys not matching <slug>/<prefix>_<year>.csv are ignored.
func AvailableYears(ctx context.Context, src core.Lister, cfg config.Config, country domain.Country) ([]int, error) {
	prefix := path.Join(country.Slug(), cfg.Input.Prefix) + "_"
	infos, err := src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list extracts for %s: %w", country, err)
	}
	var years []int
	for _, info := range infos {
		y, ok := strings.CutSuffix(strings.TrimPrefix(info.Key, prefix), ".csv")
		if !ok {
			continue
		}
		year, err := strconv.Atoi(y)
		if err != nil || year <= 0 || cfg.ExtractKey(country, year) != info.Key {
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}
