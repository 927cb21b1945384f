package preflight

import (
	"context"
	"time"

	"ffarm/internal/api"
	"ffarm/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every worker check. client may be nil to skip the master
// check.
func RunAll(ctx context.Context, cfg *config.Config, client *api.Client) []Result {
	if cfg == nil {
		return nil
	}

	results := CheckBinaries(EncoderRequirements(cfg))
	results = append(results,
		CheckDirectoryAccess("Scratch directory", cfg.Worker.ScratchDir),
		CheckFreeSpace("Scratch free space", cfg.Worker.ScratchDir, cfg.Worker.MinFreeGiB),
	)
	if client != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		results = append(results, CheckMaster(checkCtx, client))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
