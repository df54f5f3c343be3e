package cubestream

import (
	"context"
	"sync"
)

// fetchOutcome carries one fetched tile or its error from a worker to the
// consuming goroutine.
type fetchOutcome struct {
	res *TileResult
	err error
}

// forEachTile fetches tiles on a bounded worker pool and hands each result
// to fn on the calling goroutine, so fn needs no locking. Tile visitation
// order is the deterministic enumeration order, but completion order is
// not guaranteed; callers must be order-independent (the reducer's merge
// rule is, materialize placement is positional).
//
// The first fetch or fn error cancels outstanding work and is returned;
// the reduction never continues past a failed tile.
func (vc *VirtualCube) forEachTile(ctx context.Context, tiles []Tile, fn func(*TileResult) error) error {
	if len(tiles) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := vc.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tiles) {
		workers = len(tiles)
	}

	work := make(chan Tile)
	results := make(chan fetchOutcome, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range work {
				res, err := vc.Fetch(ctx, tile)
				select {
				case results <- fetchOutcome{res: res, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed work to workers.
	go func() {
		defer close(work)
		for _, tile := range tiles {
			select {
			case work <- tile:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when workers finish.
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for outcome := range results {
		if firstErr != nil {
			continue // draining so workers can exit
		}
		if outcome.err != nil {
			firstErr = outcome.err
			cancel()
			continue
		}
		if err := fn(outcome.res); err != nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
