package metrics

import (
	"time"

	"github.com/epicenterlabs/epicenter/pkg/epicenter"
)

// Collector polls a running Epicenter's workspaces on a ticker and updates
// the package's gauges: workspace count, per-table row counts, and
// per-materializer failure counts pulled from each workspace's Observer
// Bus. Grounded on the teacher's pkg/manager/metrics_collector.go
// collect-on-start-then-tick pattern.
type Collector struct {
	ep       *epicenter.Epicenter
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a collector for ep, polling every interval.
func NewCollector(ep *epicenter.Epicenter, interval time.Duration) *Collector {
	return &Collector{ep: ep, interval: interval, stopCh: make(chan struct{})}
}

// Start begins polling in the background, collecting once immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop ends polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	workspaces := c.ep.Workspaces()
	WorkspacesTotal.Set(float64(len(workspaces)))

	for _, w := range workspaces {
		doc := w.Document()
		for _, table := range doc.TableNames() {
			TablesTotal.WithLabelValues(w.ID, table).Set(float64(len(doc.GetAll(table))))
		}
		for _, m := range w.Materializers() {
			MaterializerFailuresTotal.WithLabelValues(w.ID, m.Name()).Set(float64(w.Bus().FailureCount(m.Name())))
		}
	}
}
