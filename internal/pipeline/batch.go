package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/neuralsubd/internal/host"
)

// BatchResult holds the outcome of one object in a batch.
type BatchResult struct {
	Object string
	Result *Result
	Err    error
}

// Batch runs every object through RunObject on a pool of workers. Results
// keep the order of objs. The returned error combines every failure and is
// nil only when all objects succeeded.
func Batch(ctx context.Context, objs []*host.Object, opts Options, workers int) ([]BatchResult, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(objs) {
		workers = len(objs)
	}

	log := opts.log().Named("batch")
	results := make([]BatchResult, len(objs))
	var processed atomic.Int64
	start := time.Now()

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				obj := objs[idx]
				res, err := RunObject(ctx, obj, opts)
				results[idx] = BatchResult{Object: obj.Name, Result: res, Err: err}
				n := processed.Add(1)
				log.Debug("object done",
					zap.String("object", obj.Name),
					zap.Int64("done", n),
					zap.Int("total", len(objs)),
					zap.Error(err),
				)
			}
		}()
	}

	for i := range objs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var errs error
	for _, r := range results {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Object, r.Err))
		}
	}
	log.Info("batch finished",
		zap.Int("objects", len(objs)),
		zap.Int("failed", len(multierr.Errors(errs))),
		zap.Duration("took", time.Since(start)),
	)
	return results, errs
}
