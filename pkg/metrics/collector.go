package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/storage"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// Collector periodically refreshes the gauge families that mirror stored
// state: source counts, in-flight runs, and queue depths.
type Collector struct {
	store    storage.Store
	events   *queue.EventQueue
	embed    *queue.EmbeddingQueue
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector
func NewCollector(store storage.Store, events *queue.EventQueue, embed *queue.EmbeddingQueue) *Collector {
	return &Collector{
		store:    store,
		events:   events,
		embed:    embed,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the collection loop
func (c *Collector) Start() {
	go c.run()
}

// Stop halts the collection loop
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.collect()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) collect() {
	c.collectSources()
	c.collectRuns()
	c.collectQueues()
}

func (c *Collector) collectSources() {
	sources, err := c.store.ListSources()
	if err != nil {
		log.WithComponent("metrics").Debug().Err(err).Msg("Failed to collect source metrics")
		return
	}

	counts := make(map[[2]string]int)
	for _, src := range sources {
		if src.IsDeleted {
			continue
		}
		counts[[2]string{string(src.Type), string(src.SyncStatus)}]++
	}

	SourcesTotal.Reset()
	for key, n := range counts {
		SourcesTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

func (c *Collector) collectRuns() {
	running, err := c.store.ListSyncRunsByStatus(types.SyncRunRunning)
	if err != nil {
		log.WithComponent("metrics").Debug().Err(err).Msg("Failed to collect sync run metrics")
		return
	}

	counts := make(map[string]int)
	for _, run := range running {
		counts[string(run.SourceType)]++
	}

	SyncRunsInFlight.Reset()
	for st, n := range counts {
		SyncRunsInFlight.WithLabelValues(st).Set(float64(n))
	}
}

func (c *Collector) collectQueues() {
	if stats, err := c.events.Stats(); err == nil {
		setDepths(EventQueueDepth, stats)
	}
	if stats, err := c.embed.Stats(); err == nil {
		setDepths(EmbeddingQueueDepth, stats)
	}
}

func setDepths(g *prometheus.GaugeVec, stats types.QueueStats) {
	g.WithLabelValues(string(types.QueueStatusPending)).Set(float64(stats.Pending))
	g.WithLabelValues(string(types.QueueStatusProcessing)).Set(float64(stats.Processing))
	g.WithLabelValues(string(types.QueueStatusCompleted)).Set(float64(stats.Completed))
	g.WithLabelValues(string(types.QueueStatusFailed)).Set(float64(stats.Failed))
	g.WithLabelValues(string(types.QueueStatusDeadLetter)).Set(float64(stats.DeadLetter))
}
