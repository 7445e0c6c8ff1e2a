// Package sqlstore implements domain.PersistentStore over database/sql. The
// sqlite and postgres packages supply the connection, the dialect and the
// per-key guard; everything else is shared.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"startpop/internal/schema"
	"startpop/pkg/domain"
)

// Guard takes the store-level lock for key inside tx. It must block until
// no other transaction holds the lock for the same (country, start year).
type Guard func(ctx context.Context, tx *sql.Tx, key domain.PopulationKey) error

// Dialect bundles what differs between SQL backends.
type Dialect struct {
	Name schema.Dialect
	// TableExistsSQL takes one bind parameter, the table name, and returns
	// a single count column.
	TableExistsSQL string
	Guard          Guard
	// BeginTx optionally replaces db.BeginTx.
	BeginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists staging relations, entity tables and the registry.
type Store struct {
	db      *sql.DB
	dialect Dialect
	driver  string
}

var _ domain.PersistentStore = (*Store)(nil)

// New wraps db and ensures the registry tables exist.
func New(ctx context.Context, db *sql.DB, driver string, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d, driver: driver}
	if err := s.ensureRegistry(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureRegistry(ctx context.Context) error {
	script := schema.Script(s.dialect.Name, true, schema.Registry(), schema.Membership())
	for _, stmt := range schema.SplitStatements(script) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the storage driver identifier.
func (s *Store) Driver() string { return s.driver }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction begins a transaction, takes the guard for key and runs fn.
// Any error rolls the transaction back.
func (s *Store) RunInTransaction(ctx context.Context, key domain.PopulationKey, fn func(domain.Transaction) error) error {
	var (
		tx  *sql.Tx
		err error
	)
	if s.dialect.BeginTx != nil {
		tx, err = s.dialect.BeginTx(ctx, s.db)
	} else {
		tx, err = s.db.BeginTx(ctx, nil)
	}
	if err != nil {
		return &domain.CacheError{Key: key, Op: string(domain.StageGuard), Err: fmt.Errorf("begin tx: %w", err)}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if s.dialect.Guard != nil {
		if err := s.dialect.Guard(ctx, tx, key); err != nil {
			return &domain.CacheError{Key: key, Op: string(domain.StageGuard), Err: err}
		}
	}
	if err := fn(&transaction{view: view{ctx: ctx, q: tx, d: s.dialect}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.CacheError{Key: key, Op: string(domain.StageCommit), Err: fmt.Errorf("commit: %w", err)}
	}
	committed = true
	return nil
}

// View runs fn against committed state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	return fn(view{ctx: ctx, q: s.db, d: s.dialect})
}

type view struct {
	ctx context.Context
	q   querier
	d   Dialect
}

type transaction struct {
	view
}

func (v view) tableExists(name string) (bool, error) {
	var n int
	if err := v.q.QueryRowContext(v.ctx, v.d.TableExistsSQL, name).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return n > 0, nil
}

func (v view) FindRegistry(key domain.PopulationKey) (domain.RegistryRecord, bool, error) {
	ph := func(n int) string { return schema.Placeholder(v.d.Name, n) }
	q := fmt.Sprintf(`SELECT "id", "created_at" FROM %s WHERE "country" = %s AND "start_year" = %s AND "population_size" = %s`,
		schema.Quote(schema.RegistryTableName), ph(1), ph(2), ph(3))
	var id, created string
	err := v.q.QueryRowContext(v.ctx, q, string(key.Country), key.StartYear, key.PopulationSize).Scan(&id, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RegistryRecord{}, false, nil
	}
	if err != nil {
		return domain.RegistryRecord{}, false, fmt.Errorf("select registry: %w", err)
	}
	rec := domain.RegistryRecord{Key: key}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return domain.RegistryRecord{}, false, fmt.Errorf("decode registry id: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return domain.RegistryRecord{}, false, fmt.Errorf("decode created_at: %w", err)
	}
	mq := fmt.Sprintf(`SELECT "household_id", "household_time", "household_run", "household_working_id" FROM %s WHERE "processed_id" = %s ORDER BY "household_id", "household_time", "household_run", "household_working_id"`,
		schema.Quote(schema.MembershipTableName), ph(1))
	rows, err := v.q.QueryContext(v.ctx, mq, id)
	if err != nil {
		return domain.RegistryRecord{}, false, fmt.Errorf("select membership: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var k domain.EntityKey
		if err := rows.Scan(&k.ID, &k.SimulationTime, &k.SimulationRun, &k.WorkingID); err != nil {
			return domain.RegistryRecord{}, false, fmt.Errorf("scan membership: %w", err)
		}
		rec.Households = append(rec.Households, k)
	}
	if err := rows.Err(); err != nil {
		return domain.RegistryRecord{}, false, fmt.Errorf("iterate membership: %w", err)
	}
	return rec, true, nil
}

func (tx *transaction) InsertRegistry(rec domain.RegistryRecord) error {
	fail := func(err error) error {
		return &domain.CacheError{Key: rec.Key, Op: string(domain.StageCommit), Err: err}
	}
	if _, exists, err := tx.FindRegistry(rec.Key); err != nil {
		return fail(err)
	} else if exists {
		return fail(domain.ErrRegistered)
	}
	if ok, err := tx.tableExists(schema.TableName(domain.EntityHousehold, rec.Key.Country, rec.Key.StartYear)); err != nil {
		return fail(err)
	} else if !ok {
		return fail(fmt.Errorf("tables %s %d: %w", rec.Key.Country, rec.Key.StartYear, domain.ErrNotFound))
	}
	reg := schema.Registry()
	if _, err := tx.q.ExecContext(tx.ctx, reg.InsertSQL(tx.d.Name),
		rec.ID.String(), string(rec.Key.Country), rec.Key.StartYear, rec.Key.PopulationSize,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fail(fmt.Errorf("insert registry: %w", err))
	}
	mem := schema.Membership()
	for _, k := range rec.Households {
		if _, err := tx.q.ExecContext(tx.ctx, mem.InsertSQL(tx.d.Name), rec.ID.String(), k.ID, k.SimulationTime, k.SimulationRun, k.WorkingID); err != nil {
			return fail(fmt.Errorf("insert membership %s: %w", k, err))
		}
	}
	return nil
}

func (tx *transaction) exec(stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.q.ExecContext(tx.ctx, stmt); err != nil {
			return fmt.Errorf("execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}

// recreate drops tables in reverse order and creates them in order.
func (tx *transaction) recreate(tables ...schema.Table) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if !schema.SafeName(tables[i].Name) {
			return fmt.Errorf("refusing table name %q", tables[i].Name)
		}
		if err := tx.exec(tables[i].DropDDL()); err != nil {
			return err
		}
	}
	return tx.exec(schema.SplitStatements(schema.Script(tx.d.Name, false, tables...))...)
}

func (tx *transaction) ReplaceStaging(rel domain.StagingRelation) error {
	tbl := schema.Staging(rel)
	if err := tbl.Validate(); err != nil {
		return err
	}
	if err := tx.recreate(tbl); err != nil {
		return err
	}
	insert := tbl.InsertSQL(tx.d.Name)
	args := make([]any, len(tbl.Columns))
	for i, row := range rel.Rows {
		args[0] = i + 1
		for j := range rel.Columns {
			if j < len(row) {
				args[j+1] = row[j]
			} else {
				args[j+1] = nil
			}
		}
		if _, err := tx.q.ExecContext(tx.ctx, insert, args...); err != nil {
			return fmt.Errorf("insert staging row %d: %w", i+1, err)
		}
	}
	return nil
}

func (tx *transaction) ReplaceTables(t domain.Tables) error {
	hh := schema.Household(t.Country, t.Year)
	bu := schema.BenefitUnit(t.Country, t.Year)
	pp := schema.Person(t.Country, t.Year)
	if err := schema.ValidateEntities(t.Country, t.Year); err != nil {
		return err
	}
	if err := tx.recreate(hh, bu, pp); err != nil {
		return err
	}
	for _, h := range t.Households {
		if err := tx.insert(hh, h.Values()); err != nil {
			return err
		}
	}
	for _, b := range t.BenefitUnits {
		if err := tx.insert(bu, b.Values()); err != nil {
			return err
		}
	}
	for _, p := range t.Persons {
		if err := tx.insert(pp, p.Values()); err != nil {
			return err
		}
	}
	return nil
}

func (tx *transaction) insert(tbl schema.Table, values []any) error {
	if err := tbl.CheckRow(values); err != nil {
		return err
	}
	if _, err := tx.q.ExecContext(tx.ctx, tbl.InsertSQL(tx.d.Name), values...); err != nil {
		return fmt.Errorf("insert %s: %w", tbl.Name, err)
	}
	return nil
}

func (v view) LoadTables(country domain.Country, year int) (domain.Tables, error) {
	hh := schema.Household(country, year)
	ok, err := v.tableExists(hh.Name)
	if err != nil {
		return domain.Tables{}, err
	}
	if !ok {
		return domain.Tables{}, fmt.Errorf("tables %s %d: %w", country, year, domain.ErrNotFound)
	}
	t := domain.Tables{Country: country, Year: year}
	if err := v.scan(hh, func(rows *sql.Rows) error {
		var h domain.Household
		if err := rows.Scan(keyDest(&h.Key)...); err != nil {
			return err
		}
		t.Households = append(t.Households, h)
		return nil
	}); err != nil {
		return domain.Tables{}, err
	}
	if err := v.scan(schema.BenefitUnit(country, year), func(rows *sql.Rows) error {
		var b domain.BenefitUnit
		var region, quintile string
		dest := append(keyDest(&b.Key), keyDest(&b.Household)...)
		dest = append(dest, &region, &quintile, &b.HomeOwner, &b.LiquidWealth, &b.PensionWealth, &b.HousingWealth)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		b.Region, b.IncomeQuintile = domain.Region(region), domain.Quintile(quintile)
		t.BenefitUnits = append(t.BenefitUnits, b)
		return nil
	}); err != nil {
		return domain.Tables{}, err
	}
	if err := v.scan(schema.Person(country, year), func(rows *sql.Rows) error {
		var p domain.Person
		var gender, health, edu, medu, fedu, activity, care string
		var mother, father sql.NullInt64
		dest := append(keyDest(&p.Key), keyDest(&p.BenefitUnit)...)
		dest = append(dest, &p.Age, &gender, &health, &edu, &medu, &fedu, &activity, &care,
			&p.HoursWorkedWeekly, &p.PotentialHourlyEarnings, &p.Weight, &mother, &father,
			&p.InEducation, &p.ReturnedToEducation, &p.LongTermSick, &p.NeedsSocialCare,
			&p.LeftEducation, &p.AdultChild, &p.HomeOwner)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		p.Gender, p.Health = domain.Gender(gender), domain.Health(health)
		p.Education, p.MotherEducation, p.FatherEducation = domain.Education(edu), domain.Education(medu), domain.Education(fedu)
		p.Activity, p.CareProvidedTo = domain.Activity(activity), domain.CareWho(care)
		if mother.Valid {
			p.MotherID = &mother.Int64
		}
		if father.Valid {
			p.FatherID = &father.Int64
		}
		t.Persons = append(t.Persons, p)
		return nil
	}); err != nil {
		return domain.Tables{}, err
	}
	return t, nil
}

func keyDest(k *domain.EntityKey) []any {
	return []any{&k.ID, &k.SimulationTime, &k.SimulationRun, &k.WorkingID}
}

func (v view) scan(tbl schema.Table, each func(*sql.Rows) error) error {
	rows, err := v.q.QueryContext(v.ctx, tbl.SelectSQL())
	if err != nil {
		return fmt.Errorf("select %s: %w", tbl.Name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := each(rows); err != nil {
			return fmt.Errorf("scan %s: %w", tbl.Name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", tbl.Name, err)
	}
	return nil
}
