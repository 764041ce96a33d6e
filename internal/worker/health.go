package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChainHealth is the observed state of one chain adapter
type ChainHealth struct {
	ChainID   string    `json:"chain_id"`
	Kind      string    `json:"kind"`
	Healthy   bool      `json:"healthy"`
	ChainTime time.Time `json:"chain_time,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ChainHealth queries every adapter in parallel for its current chain time
func (wm *WorkerManager) ChainHealth(ctx context.Context) []ChainHealth {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make([]ChainHealth, 0, len(wm.adapters))
	)

	g, gctx := errgroup.WithContext(ctx)
	for chainID, a := range wm.adapters {
		chainID, a := chainID, a
		g.Go(func() error {
			h := ChainHealth{ChainID: chainID, Kind: string(a.Kind())}
			now, err := a.Now(gctx)
			if err != nil {
				h.Error = err.Error()
			} else {
				h.Healthy = true
				h.ChainTime = now
			}

			mu.Lock()
			results = append(results, h)
			mu.Unlock()
			// errors are reported per chain
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].ChainID < results[j].ChainID
	})
	return results
}
