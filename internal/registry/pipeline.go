package registry

import (
	"context"

	"go.uber.org/zap"

	"startpop/internal/blob/core"
	"startpop/internal/builder"
	"startpop/internal/config"
	"startpop/internal/dedupe"
	"startpop/internal/extract"
	"startpop/internal/recode"
	"startpop/pkg/domain"
)

// Pipeline turns one (country, year) extract into deduplicated, checked
// entity tables.
type Pipeline interface {
	Extract(ctx context.Context, country domain.Country, year int) (domain.StagingRelation, error)
	Build(ctx context.Context, rel domain.StagingRelation) (domain.Tables, error)
}

// SurveyPipeline reads extracts from a blob source and runs the recode,
// build, dedupe and integrity stages over them.
type SurveyPipeline struct {
	cfg    config.Config
	loader *extract.Loader
	logger *zap.Logger
}

var _ Pipeline = (*SurveyPipeline)(nil)

// NewPipeline returns the survey pipeline over src. A nil logger disables logging.
func NewPipeline(cfg config.Config, src core.Reader, logger *zap.Logger) *SurveyPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SurveyPipeline{cfg: cfg, loader: extract.NewLoader(src, cfg, logger), logger: logger}
}

func stageErr(stage domain.Stage, err error) error {
	return &domain.BuildError{Stage: stage, Err: err}
}

// Extract loads the staging relation for (country, year).
func (p *SurveyPipeline) Extract(ctx context.Context, country domain.Country, year int) (domain.StagingRelation, error) {
	rel, err := p.loader.Load(ctx, country, year)
	if err != nil {
		return domain.StagingRelation{}, stageErr(domain.StageExtract, err)
	}
	return rel, nil
}

// Build recodes and projects rel into entity tables, removes duplicate
// households and benefit units, and verifies referential integrity.
func (p *SurveyPipeline) Build(ctx context.Context, rel domain.StagingRelation) (domain.Tables, error) {
	if err := ctx.Err(); err != nil {
		return domain.Tables{}, stageErr(domain.StageBuild, err)
	}
	rec, err := recode.New(p.cfg, rel.Country)
	if err != nil {
		return domain.Tables{}, stageErr(domain.StageRecode, err)
	}
	tables, err := builder.New(rec).Build(rel)
	if err != nil {
		return domain.Tables{}, stageErr(domain.StageOf(err, domain.StageBuild), err)
	}
	before := len(tables.Households) + len(tables.BenefitUnits)
	tables, stats := dedupe.Tables(tables)
	p.logger.Debug("tables deduplicated",
		zap.String("country", string(rel.Country)),
		zap.Int("year", rel.Year),
		zap.Int("rows_before", before),
		zap.Int("households_removed", stats.HouseholdsRemoved),
		zap.Int("benefit_units_removed", stats.BenefitUnitsRemoved),
	)
	if err := builder.CheckIntegrity(tables); err != nil {
		return domain.Tables{}, stageErr(domain.StageIntegrity, err)
	}
	return tables, nil
}
