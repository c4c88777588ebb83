package health

import (
	"context"
	"sync"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// Prober aggregates health across the configured connector fleet. Probes run
// concurrently; a slow connector delays only its own entry.
type Prober struct{}

// NewProber creates a connector fleet prober
func NewProber() *Prober {
	return &Prober{}
}

// ProbeAll checks the /health endpoint of every connector in the map and
// returns results keyed by source type.
func (p *Prober) ProbeAll(ctx context.Context, connectors map[types.SourceType]string) map[types.SourceType]Result {
	results := make(map[types.SourceType]Result, len(connectors))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for st, baseURL := range connectors {
		wg.Add(1)
		go func(st types.SourceType, baseURL string) {
			defer wg.Done()
			res := NewHTTPChecker(baseURL + "/health").Check(ctx)
			mu.Lock()
			results[st] = res
			mu.Unlock()
		}(st, baseURL)
	}

	wg.Wait()
	return results
}
