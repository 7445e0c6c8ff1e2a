package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/config"
	blobmemory "startpop/internal/infra/blob/memory"
	"startpop/pkg/domain"
	fixtures "startpop/testutil"
)

func TestSurveyPipelineBuildsSample(t *testing.T) {
	cfg := config.Default()
	src := blobmemory.New()
	require.NoError(t, src.PutString(context.Background(), "uk/population_initial_2017.csv", fixtures.SampleCSV()))
	p := NewPipeline(cfg, src, nil)

	rel, err := p.Extract(context.Background(), domain.CountryUK, 2017)
	require.NoError(t, err)
	tables, err := p.Build(context.Background(), rel)
	require.NoError(t, err)
	assert.Len(t, tables.Households, 3)
	assert.Len(t, tables.BenefitUnits, 4)
	assert.Len(t, tables.Persons, 7)
}

func TestSurveyPipelineStages(t *testing.T) {
	p := NewPipeline(config.Default(), blobmemory.New(), nil)

	_, err := p.Extract(context.Background(), domain.CountryUK, 2017)
	requireStage(t, err, domain.StageExtract)

	rel, err := domain.NewStagingRelation("FR", 2017, "fr.csv", nil, nil)
	require.NoError(t, err)
	_, err = p.Build(context.Background(), rel)
	requireStage(t, err, domain.StageRecode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Build(ctx, rel)
	requireStage(t, err, domain.StageBuild)
}
