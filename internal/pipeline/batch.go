package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bureau-cli/internal/model"
)

// BatchResult summarizes a RunBatch call.
type BatchResult struct {
	Results   []RunResult      `json:"results"`
	Errors    map[string]error `json:"-"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
}

// RunBatch runs the pipeline for each report with at most concurrency
// reports in flight. A failing report never stops the others; its error is
// collected in Errors. The returned error is only ever ctx's.
func (o *Orchestrator) RunBatch(ctx context.Context, reportIDs []string, concurrency int) (*BatchResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	start := time.Now()

	var (
		mu  sync.Mutex
		out = &BatchResult{
			Results: make([]RunResult, 0, len(reportIDs)),
			Errors:  make(map[string]error),
		}
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, id := range reportIDs {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := o.RunPipeline(gCtx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[id] = err
				out.Failed++
				if res == nil {
					res = &RunResult{ReportID: id, Status: model.ReportStatusFailed}
				}
			} else {
				out.Completed++
			}
			out.Results = append(out.Results, *res)
			return nil
		})
	}

	_ = g.Wait()

	zap.L().Info("pipeline: batch complete",
		zap.Int("reports", len(reportIDs)),
		zap.Int("completed", out.Completed),
		zap.Int("failed", out.Failed),
		zap.Int("concurrency", concurrency),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return out, ctx.Err()
}
