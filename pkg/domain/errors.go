package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by the typed errors below.
var (
	ErrMissingInput  = errors.New("input extract not found")
	ErrMissingColumn = errors.New("required column missing")
	ErrNotFound      = errors.New("not found")
	ErrLockHeld      = errors.New("build lock held")
	ErrRegistered    = errors.New("population already registered")
)

// IngestionError reports a missing or malformed input file or column.
type IngestionError struct {
	Country Country
	Year    int
	Path    string
	Column  string
	Err     error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingest %s %d", e.Country, e.Year)
	if e.Path != "" {
		msg += " from " + e.Path
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestionError) Unwrap() error { return e.Err }

// RecodeError reports a raw value outside a field's documented domain.
type RecodeError struct {
	Field    string
	RawValue string
	Row      int
}

func (e *RecodeError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("recode %s: value %q not in domain (row %d)", e.Field, e.RawValue, e.Row)
	}
	return fmt.Sprintf("recode %s: value %q not in domain", e.Field, e.RawValue)
}

// IntegrityError reports a foreign-key or uniqueness violation.
type IntegrityError struct {
	Entity EntityType
	Key    EntityKey
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity %s %s: %s", e.Entity, e.Key, e.Reason)
}

// CacheError reports a registry-level failure to take the build guard or to commit.
type CacheError struct {
	Key PopulationKey
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Stage names a step of the population build pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageGuard     Stage = "guard"
	StageLoad      Stage = "load"
	StageExtract   Stage = "extract"
	StageRecode    Stage = "recode"
	StageBuild     Stage = "build"
	StageDedupe    Stage = "dedupe"
	StageIntegrity Stage = "integrity"
	StageCommit    Stage = "commit"
)

// BuildError is what a registry caller sees when a population build fails.
type BuildError struct {
	Key   PopulationKey
	Stage Stage
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s failed at %s: %v", e.Key, e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// StageOf classifies err into the stage that most likely produced it. It is
// used when a lower layer returns an untagged error.
func StageOf(err error, fallback Stage) Stage {
	var (
		buildErr     *BuildError
		recodeErr    *RecodeError
		ingestErr    *IngestionError
		integrityErr *IntegrityError
		cacheErr     *CacheError
	)
	switch {
	case errors.As(err, &buildErr):
		return buildErr.Stage
	case errors.As(err, &recodeErr):
		return StageRecode
	case errors.As(err, &ingestErr):
		return StageExtract
	case errors.As(err, &integrityErr):
		return StageIntegrity
	case errors.As(err, &cacheErr):
		if cacheErr.Op == string(StageCommit) {
			return StageCommit
		}
		return StageGuard
	default:
		return fallback
	}
}
