package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreInfo is read at scrape time. ok is false while no database is open.
type StoreInfo interface {
	Info() (name string, version int, ok bool)
}

// StoreCollector exports kvmirror_store_info{name,engine,version} = 1.
// Nothing is exported until the store is open.
type StoreCollector struct {
	store  StoreInfo
	engine string
	desc   *prometheus.Desc
}

// NewStoreCollector creates a collector for store.
func NewStoreCollector(store StoreInfo, engine string) *StoreCollector {
	return &StoreCollector{
		store:  store,
		engine: engine,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "info"),
			"Opened mirror store",
			[]string{"name", "engine", "version"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	name, version, ok := c.store.Info()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, 1,
		name, c.engine, strconv.Itoa(version))
}
