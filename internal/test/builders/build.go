package builders

import (
	"errors"
	"time"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// BuildStatsBuilder helps build BuildStats for testing
type BuildStatsBuilder struct {
	stats entities.BuildStats
}

// NewBuildStatsBuilder creates a builder for a clean build with sensible defaults
func NewBuildStatsBuilder() *BuildStatsBuilder {
	return &BuildStatsBuilder{
		stats: entities.BuildStats{
			Cycle:          1,
			Hash:           "0123456789abcdef0123",
			ChangedModules: []string{"src/index.js"},
			Duration:       25 * time.Millisecond,
		},
	}
}

// WithCycle sets the cycle the stats answer
func (b *BuildStatsBuilder) WithCycle(cycle uint64) *BuildStatsBuilder {
	b.stats.Cycle = cycle
	return b
}

// WithHash sets the build hash
func (b *BuildStatsBuilder) WithHash(hash string) *BuildStatsBuilder {
	b.stats.Hash = hash
	return b
}

// WithErrors sets the compile errors
func (b *BuildStatsBuilder) WithErrors(errs ...string) *BuildStatsBuilder {
	b.stats.Errors = errs
	return b
}

// WithWarnings sets the compile warnings
func (b *BuildStatsBuilder) WithWarnings(warnings ...string) *BuildStatsBuilder {
	b.stats.Warnings = warnings
	return b
}

// WithChangedModules sets the changed modules; none means an unchanged build
func (b *BuildStatsBuilder) WithChangedModules(modules ...string) *BuildStatsBuilder {
	b.stats.ChangedModules = modules
	return b
}

// WithFailure marks the pipeline itself as broken
func (b *BuildStatsBuilder) WithFailure(err error) *BuildStatsBuilder {
	b.stats.Failure = err
	return b
}

// Build returns a copy of the stats
func (b *BuildStatsBuilder) Build() entities.BuildStats {
	stats := b.stats
	stats.Errors = append([]string(nil), b.stats.Errors...)
	stats.Warnings = append([]string(nil), b.stats.Warnings...)
	stats.ChangedModules = append([]string(nil), b.stats.ChangedModules...)
	return stats
}

// CleanBuild returns a successful build for cycle
func CleanBuild(cycle uint64) entities.BuildStats {
	return NewBuildStatsBuilder().WithCycle(cycle).Build()
}

// UnchangedBuild returns a successful build that changed nothing
func UnchangedBuild(cycle uint64) entities.BuildStats {
	return NewBuildStatsBuilder().WithCycle(cycle).WithChangedModules().Build()
}

// FailedBuild returns a build with compile errors
func FailedBuild(cycle uint64, errs ...string) entities.BuildStats {
	if len(errs) == 0 {
		errs = []string{"src/index.js: unexpected token"}
	}
	return NewBuildStatsBuilder().WithCycle(cycle).WithErrors(errs...).Build()
}

// BrokenPipeline returns a build whose pipeline failed to run
func BrokenPipeline(cycle uint64) entities.BuildStats {
	return NewBuildStatsBuilder().
		WithCycle(cycle).
		WithFailure(errors.New("build command not found")).
		Build()
}
