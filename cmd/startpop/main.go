// Command startpop resolves starting populations for one country over one or
// more start years, building and registering any that are missing.
//
//	startpop -country UK -years 2017-2019 -size 20000
//	startpop -country UK -list
//	startpop -country UK -years 2020 -import ./population_initial_2020.csv
//
// Configuration comes from STARTPOP_* environment variables and an optional
// YAML file named by STARTPOP_CONFIG; see internal/config.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"startpop/internal/blob/core"
	"startpop/internal/config"
	"startpop/internal/extract"
	"startpop/internal/infra/blob"
	lockredis "startpop/internal/infra/lock/redis"
	"startpop/internal/infra/persistence"
	"startpop/internal/metrics"
	"startpop/internal/platform/logger"
	"startpop/internal/registry"
	"startpop/pkg/cohort"
	"startpop/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type options struct {
	country     domain.Country
	years       []int
	size        int
	parallel    int
	metricsAddr string
	list        bool
	importPath  string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("startpop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		opts    options
		country string
		years   string
	)
	fs.StringVar(&country, "country", "", "country code, e.g. UK or IT")
	fs.StringVar(&years, "years", "", "start years: comma separated list and/or ranges, e.g. 2017,2019-2021")
	fs.IntVar(&opts.size, "size", 0, "population size in persons (0 selects every household)")
	fs.IntVar(&opts.parallel, "parallel", 4, "years resolved concurrently")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus /metrics on this address while running")
	fs.BoolVar(&opts.list, "list", false, "list the start years with an extract for -country and exit")
	fs.StringVar(&opts.importPath, "import", "", "validate this CSV and store it as the extract for -country and the single -years value")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	c, err := domain.ParseCountry(country)
	if err != nil {
		return options{}, err
	}
	opts.country = c
	if opts.list {
		if opts.importPath != "" {
			return options{}, fmt.Errorf("-list and -import are exclusive")
		}
		return opts, nil
	}
	if opts.years, err = parseYears(years); err != nil {
		return options{}, err
	}
	if opts.importPath != "" && len(opts.years) != 1 {
		return options{}, fmt.Errorf("-import needs exactly one start year, got %d", len(opts.years))
	}
	if opts.size < 0 {
		return options{}, fmt.Errorf("size must not be negative")
	}
	return opts, nil
}

// parseYears accepts "2017", "2017,2018" and "2017-2019", deduplicated and sorted.
func parseYears(raw string) ([]int, error) {
	seen := map[int]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || to < from {
				return nil, fmt.Errorf("invalid year range %q", part)
			}
		}
		for y := from; y <= to; y++ {
			seen[y] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("at least one start year required")
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(stderr, "startpop: %v\n", err)
		}
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startpop: %v\n", err)
		return 2
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "startpop")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startpop: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()
	if _, ok := cfg.Regions(opts.country); !ok {
		_, _ = fmt.Fprintf(stderr, "startpop: no region table configured for %s (configured: %v)\n", opts.country, cfg.Countries())
		return 2
	}

	var failed int
	switch {
	case opts.list:
		err = list(ctx, cfg, opts, stdout)
	case opts.importPath != "":
		err = importExtract(ctx, cfg, opts, log, stdout)
	default:
		failed, err = run(ctx, cfg, opts, log, stdout, stderr)
	}
	if err != nil {
		log.Error("startpop failed", zap.Error(err))
		_, _ = fmt.Fprintf(stderr, "startpop: %v\n", err)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func list(ctx context.Context, cfg config.Config, opts options, stdout io.Writer) error {
	src, err := blob.Open(ctx, cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	years, err := extract.AvailableYears(ctx, src, cfg, opts.country)
	if err != nil {
		return err
	}
	for _, y := range years {
		_, _ = fmt.Fprintln(stdout, y)
	}
	return nil
}

// importExtract checks the file parses as an extract before storing it, so a
// later build never meets a file with missing columns.
func importExtract(ctx context.Context, cfg config.Config, opts options, log *zap.Logger, stdout io.Writer) error {
	data, err := os.ReadFile(opts.importPath)
	if err != nil {
		return fmt.Errorf("read extract: %w", err)
	}
	year := opts.years[0]
	rel, err := extract.Parse(bytes.NewReader(data), opts.country, year, opts.importPath)
	if err != nil {
		return err
	}
	src, err := blob.Open(ctx, cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	key := cfg.ExtractKey(opts.country, year)
	info, err := src.Put(ctx, key, bytes.NewReader(data), core.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"country": string(opts.country), "year": strconv.Itoa(year)},
	})
	if err != nil {
		return fmt.Errorf("store extract: %w", err)
	}
	log.Info("extract imported", zap.String("key", info.Key), zap.Int("rows", rel.Len()), zap.Int64("bytes", info.Size))
	_, _ = fmt.Fprintf(stdout, "%s\trows=%d\n", info.Key, rel.Len())
	return nil
}

// run resolves every requested year and reports how many failed.
func run(ctx context.Context, cfg config.Config, opts options, log *zap.Logger, stdout, stderr io.Writer) (int, error) {
	src, err := blob.Open(ctx, cfg.Input)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	store, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return 0, fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	promReg := prometheus.NewRegistry()
	regOpts := []registry.Option{
		registry.WithLogger(log),
		registry.WithMetrics(metrics.New(promReg)),
		registry.WithParallelism(opts.parallel),
	}
	if cfg.RedisURL != "" {
		client, err := lockredis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return 0, err
		}
		defer func() { _ = client.Close() }()
		regOpts = append(regOpts, registry.WithBuildLock(lockredis.New(client, lockredis.WithLogger(log))))
	}
	reg := registry.New(store, registry.NewPipeline(cfg, src, log), regOpts...)

	g, gctx := errgroup.WithContext(ctx)
	var server *http.Server
	if opts.metricsAddr != "" {
		ln, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return 0, fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		log.Info("metrics listening", zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var results []registry.Result
	g.Go(func() error {
		results = reg.Batch(gctx, registry.Years(opts.country, opts.size, opts.years...))
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			_, _ = fmt.Fprintf(stderr, "%s\tFAILED\t%v\n", res.Key, res.Err)
			continue
		}
		p := res.Population
		persons := p.Persons()
		_, _ = fmt.Fprintf(stdout, "%s\t%s\thouseholds=%d\tbenefit_units=%d\tpersons=%d\tweighted=%.2f\n",
			res.Key, p.ID(), len(p.HouseholdKeys()), len(p.BenefitUnits()), len(persons), cohort.WeightedCount(persons))
	}
	return failed, nil
}
