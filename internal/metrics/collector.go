package metrics

import (
	"context"
	"time"

	"github.com/tijarahlabs/storesync/internal/entity"
	"github.com/tijarahlabs/storesync/internal/journal"
)

const collectInterval = 15 * time.Second

// Collector periodically refreshes the gauges that describe stored state.
type Collector struct {
	journal *journal.Journal
	stopCh  chan struct{}
}

// NewCollector creates a collector reading journal lengths from j.
func NewCollector(j *journal.Journal) *Collector {
	return &Collector{
		journal: j,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting in the background until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, typ := range entity.All() {
		n, err := c.journal.Length(ctx, typ)
		if err != nil {
			continue
		}
		JournalLength.WithLabelValues(string(typ)).Set(float64(n))
	}
}
