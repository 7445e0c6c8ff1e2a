// Package config assembles the immutable configuration handed to every
// pipeline stage: input location, storage backend and the per-country region
// tables used to recode raw drgn1 codes.
package config

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"startpop/pkg/domain"
)

// RegionTable maps a raw drgn1 code to a region for one country. Tables for
// UK and IT may only name that country's built-in regions; any other country
// declares its own region identifiers.
type RegionTable map[int]domain.Region

func (t RegionTable) clone() RegionTable {
	out := make(RegionTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Input describes where yearly extracts are read from.
type Input struct {
	Prefix      string
	Driver      string
	Root        string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Storage selects the backing store for tables and the registry.
type Storage struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Log configures the zap logger.
type Log struct {
	Level  string
	Format string
}

// Config is passed by value. Region tables are copied on read and replaced
// wholesale on write, so a Config shared between concurrent builds never
// changes underneath them.
type Config struct {
	Input    Input
	Storage  Storage
	RedisURL string
	Log      Log

	regions map[domain.Country]RegionTable
}

// Default returns the built-in configuration with the UK and IT region tables.
func Default() Config {
	return Config{
		Input:   Input{Prefix: "population_initial", Driver: "fs", Root: "./input"},
		Storage: Storage{Driver: "sqlite", SQLitePath: "./startpop.db"},
		Log:     Log{Level: "info", Format: "json"},
		regions: map[domain.Country]RegionTable{
			domain.CountryUK: {
				1:  domain.RegionUKC,
				2:  domain.RegionUKD,
				4:  domain.RegionUKE,
				5:  domain.RegionUKF,
				6:  domain.RegionUKG,
				7:  domain.RegionUKH,
				8:  domain.RegionUKI,
				9:  domain.RegionUKJ,
				10: domain.RegionUKK,
				11: domain.RegionUKL,
				12: domain.RegionUKM,
				13: domain.RegionUKN,
			},
			domain.CountryIT: {
				1: domain.RegionITC,
				2: domain.RegionITH,
				3: domain.RegionITI,
				4: domain.RegionITF,
				5: domain.RegionITG,
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// process environment, in that order of precedence (environment wins).
//
//	STARTPOP_CONFIG: YAML file path (optional)
//	STARTPOP_INPUT_PREFIX: extract file prefix (default population_initial)
//	STARTPOP_INPUT_DRIVER: fs|memory|s3 (default fs)
//	STARTPOP_INPUT_ROOT: extract directory when driver=fs (default ./input)
//	STARTPOP_INPUT_S3_BUCKET / _REGION / _ENDPOINT / _PATH_STYLE: s3 source
//	STARTPOP_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	STARTPOP_SQLITE_PATH: sqlite file (default ./startpop.db)
//	STARTPOP_POSTGRES_DSN: postgres DSN when driver=postgres
//	STARTPOP_REDIS_URL: redis URL for the cross-process build lock (optional)
//	STARTPOP_LOG_LEVEL / STARTPOP_LOG_FORMAT: zap level and json|console
func Load() (Config, error) {
	cfg := Default()
	if p := os.Getenv("STARTPOP_CONFIG"); p != "" {
		var err error
		cfg, err = LoadFile(p, cfg)
		if err != nil {
			return Config{}, err
		}
	}
	cfg, err := applyEnv(cfg, os.Getenv)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at p onto base.
func LoadFile(p string, base Config) (Config, error) {
	f, err := os.Open(p)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return FromYAML(f, base)
}

type fileConfig struct {
	Input struct {
		Prefix string `yaml:"prefix"`
		Driver string `yaml:"driver"`
		Root   string `yaml:"root"`
		S3     struct {
			Bucket    string `yaml:"bucket"`
			Region    string `yaml:"region"`
			Endpoint  string `yaml:"endpoint"`
			PathStyle *bool  `yaml:"path_style"`
		} `yaml:"s3"`
	} `yaml:"input"`
	Storage struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	RedisURL string `yaml:"redis_url"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Regions map[string]map[int]string `yaml:"regions"`
}

// FromYAML overlays the YAML document read from r onto base. A country listed
// under regions replaces that country's whole table.
func FromYAML(r io.Reader, base Config) (Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg := base
	setString(&cfg.Input.Prefix, fc.Input.Prefix)
	setString(&cfg.Input.Driver, fc.Input.Driver)
	setString(&cfg.Input.Root, fc.Input.Root)
	setString(&cfg.Input.S3Bucket, fc.Input.S3.Bucket)
	setString(&cfg.Input.S3Region, fc.Input.S3.Region)
	setString(&cfg.Input.S3Endpoint, fc.Input.S3.Endpoint)
	if fc.Input.S3.PathStyle != nil {
		cfg.Input.S3PathStyle = *fc.Input.S3.PathStyle
	}
	setString(&cfg.Storage.Driver, fc.Storage.Driver)
	setString(&cfg.Storage.SQLitePath, fc.Storage.SQLitePath)
	setString(&cfg.Storage.PostgresDSN, fc.Storage.PostgresDSN)
	setString(&cfg.RedisURL, fc.RedisURL)
	setString(&cfg.Log.Level, fc.Log.Level)
	setString(&cfg.Log.Format, fc.Log.Format)
	for rawCountry, codes := range fc.Regions {
		country, err := domain.ParseCountry(rawCountry)
		if err != nil {
			return Config{}, fmt.Errorf("regions: %w", err)
		}
		table := make(RegionTable, len(codes))
		for code, name := range codes {
			table[code] = domain.Region(strings.ToUpper(strings.TrimSpace(name)))
		}
		next, err := cfg.WithRegions(country, table)
		if err != nil {
			return Config{}, err
		}
		cfg = next
	}
	return cfg, nil
}

func applyEnv(cfg Config, getenv func(string) string) (Config, error) {
	setString(&cfg.Input.Prefix, getenv("STARTPOP_INPUT_PREFIX"))
	setString(&cfg.Input.Driver, getenv("STARTPOP_INPUT_DRIVER"))
	setString(&cfg.Input.Root, getenv("STARTPOP_INPUT_ROOT"))
	setString(&cfg.Input.S3Bucket, getenv("STARTPOP_INPUT_S3_BUCKET"))
	setString(&cfg.Input.S3Region, getenv("STARTPOP_INPUT_S3_REGION"))
	setString(&cfg.Input.S3Endpoint, getenv("STARTPOP_INPUT_S3_ENDPOINT"))
	if v := strings.TrimSpace(getenv("STARTPOP_INPUT_S3_PATH_STYLE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("STARTPOP_INPUT_S3_PATH_STYLE: invalid boolean %q", v)
		}
		cfg.Input.S3PathStyle = b
	}
	setString(&cfg.Storage.Driver, getenv("STARTPOP_STORAGE_DRIVER"))
	setString(&cfg.Storage.SQLitePath, getenv("STARTPOP_SQLITE_PATH"))
	setString(&cfg.Storage.PostgresDSN, getenv("STARTPOP_POSTGRES_DSN"))
	setString(&cfg.RedisURL, getenv("STARTPOP_REDIS_URL"))
	setString(&cfg.Log.Level, getenv("STARTPOP_LOG_LEVEL"))
	setString(&cfg.Log.Format, getenv("STARTPOP_LOG_FORMAT"))
	return cfg, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate checks driver names and region tables.
func (c Config) Validate() error {
	switch c.Input.Driver {
	case "fs", "memory", "s3":
	default:
		return fmt.Errorf("unknown input driver %s", c.Input.Driver)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %s", c.Storage.Driver)
	}
	if c.Input.Prefix == "" {
		return fmt.Errorf("input prefix required")
	}
	for country, table := range c.regions {
		if err := validateTable(country, table); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(country domain.Country, table RegionTable) error {
	if len(table) == 0 {
		return fmt.Errorf("regions %s: table is empty", country)
	}
	seen := make(map[domain.Region]int, len(table))
	builtin := country.HasBuiltinRegions()
	for code, region := range table {
		switch {
		case region == "":
			return fmt.Errorf("regions %s: code %d maps to an empty region", country, code)
		case region.Known():
			if owner, _ := region.Country(); owner != country {
				return fmt.Errorf("regions %s: region %s belongs to %s", country, region, owner)
			}
		case builtin:
			return fmt.Errorf("regions %s: code %d maps to unknown region %s", country, code, region)
		}
		if prev, dup := seen[region]; dup {
			return fmt.Errorf("regions %s: region %s mapped by codes %d and %d", country, region, prev, code)
		}
		seen[region] = code
	}
	return nil
}

// WithRegions returns a copy of c whose table for country is replaced.
func (c Config) WithRegions(country domain.Country, table RegionTable) (Config, error) {
	if err := validateTable(country, table); err != nil {
		return Config{}, err
	}
	next := make(map[domain.Country]RegionTable, len(c.regions)+1)
	for k, v := range c.regions {
		next[k] = v
	}
	next[country] = table.clone()
	c.regions = next
	return c, nil
}

// Regions returns a copy of the region table for country.
func (c Config) Regions(country domain.Country) (RegionTable, bool) {
	t, ok := c.regions[country]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Countries lists countries with a region table, sorted.
func (c Config) Countries() []domain.Country {
	out := make([]domain.Country, 0, len(c.regions))
	for k := range c.regions {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExtractFileName returns <prefix>_<year>.csv.
func (c Config) ExtractFileName(year int) string {
	return fmt.Sprintf("%s_%d.csv", c.Input.Prefix, year)
}

// ExtractKey returns the blob key of the extract for (country, year).
func (c Config) ExtractKey(country domain.Country, year int) string {
	return path.Join(country.Slug(), c.ExtractFileName(year))
}
