package preflight

import (
	"context"

	"sdqueue/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Models directory", cfg.Paths.ModelsDir),
	}

	if cfg.Engine.Binary != "" {
		results = append(results, CheckBinary("sd binary", cfg.Engine.Binary))
	}
	if cfg.Model.Path != "" {
		results = append(results, CheckFile("Model", cfg.Model.Path))
	}
	if cfg.Model.VAE != "" {
		results = append(results, CheckFile("VAE", cfg.Model.VAE))
	}
	if cfg.Model.Upscaler != "" {
		results = append(results, CheckFile("Upscaler", cfg.Model.Upscaler))
	}
	if cfg.Events.RedisURL != "" {
		results = append(results, CheckRedis(ctx, cfg.Events.RedisURL))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
