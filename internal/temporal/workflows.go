package temporal

import (
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/efebarandurmaz/semmed/internal/config"
)

const maxAttempts = 3

// IngestInput holds the workflow parameters. Empty paths fall back to the
// worker's configuration.
type IngestInput struct {
	PredicationsPath  string
	SemanticTypesPath string

	// PrebuildCache builds the document cache before loading.
	PrebuildCache bool
	// ForceRebuild discards an existing cache when prebuilding.
	ForceRebuild bool
}

func (in IngestInput) predicationsPath(cfg *config.Config) string {
	if in.PredicationsPath != "" {
		return in.PredicationsPath
	}
	return cfg.Data.PredicationsPath()
}

func (in IngestInput) semanticTypesPath(cfg *config.Config) string {
	if in.SemanticTypesPath != "" {
		return in.SemanticTypesPath
	}
	return cfg.Data.SemanticTypesPath()
}

// IngestOutput holds the workflow result.
type IngestOutput struct {
	Prebuild *ActivityResult
	Load     ActivityResult
}

// IngestWorkflow optionally prebuilds the cache, then loads the dump into
// the worker's sink.
func IngestWorkflow(ctx workflow.Context, input IngestInput) (*IngestOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		HeartbeatTimeout:    10 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    maxAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	output := &IngestOutput{}

	if input.PrebuildCache {
		var prebuild ActivityResult
		if err := workflow.ExecuteActivity(ctx, PrebuildCacheActivity, input).Get(ctx, &prebuild); err != nil {
			return nil, fmt.Errorf("prebuild cache: %w", err)
		}
		output.Prebuild = &prebuild
		logger.Info("Cache prebuilt", "documents", prebuild.Documents, "cache_hit", prebuild.CacheHit)
	}

	if err := workflow.ExecuteActivity(ctx, LoadActivity, input).Get(ctx, &output.Load); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	logger.Info("Load complete", "documents", output.Load.Documents, "cache_hit", output.Load.CacheHit)

	return output, nil
}
