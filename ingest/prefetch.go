package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/sitemapper/types"
)

// fetchFunc reads the canonical records of ids.
type fetchFunc func(ctx context.Context, ids []string) (map[string]*types.ItemRecord, error)

type fetchResult struct {
	recs map[string]*types.ItemRecord
	err  error
}

// prefetcher reads batches of item state ahead of the consumer.
// At most concurrency reads run at a time and at most window batches are
// fetched but not yet consumed. Batches are delivered in submission order.
type prefetcher struct {
	futures chan chan fetchResult
	cancel  context.CancelFunc
	g       *errgroup.Group
	done    chan struct{}
}

func startPrefetch(ctx context.Context, batches [][]string, concurrency, window int, fetch fetchFunc) *prefetcher {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	p := &prefetcher{
		futures: make(chan chan fetchResult, max(window, 1)),
		cancel:  cancel,
		g:       g,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		defer close(p.futures)
		for _, ids := range batches {
			fut := make(chan fetchResult, 1)
			select {
			case p.futures <- fut:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				recs, err := fetch(gctx, ids)
				fut <- fetchResult{recs: recs, err: err}
				return err
			})
		}
	}()
	return p
}

// next returns the next batch in order. ok is false once every batch was
// delivered.
func (p *prefetcher) next(ctx context.Context) (recs map[string]*types.ItemRecord, ok bool, err error) {
	var fut chan fetchResult
	select {
	case fut, ok = <-p.futures:
		if !ok {
			return nil, false, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	select {
	case res := <-fut:
		return res.recs, true, res.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// stop cancels outstanding reads and waits for them.
func (p *prefetcher) stop() {
	p.cancel()
	<-p.done
	_ = p.g.Wait()
}
