package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStatFunc reports pool connection counts. Taking a function keeps
// this package free of a pgxpool import.
type DBPoolStatFunc func() (total, idle, acquired int32)

type dbPoolCollector struct {
	statFunc DBPoolStatFunc

	totalDesc    *prometheus.Desc
	idleDesc     *prometheus.Desc
	acquiredDesc *prometheus.Desc
}

// NewDBPoolCollector exposes connection-pool gauges sampled at scrape time.
func NewDBPoolCollector(statFunc DBPoolStatFunc) prometheus.Collector {
	return &dbPoolCollector{
		statFunc: statFunc,
		totalDesc: prometheus.NewDesc(
			"warden_db_pool_total_conns",
			"Connections currently held by the pool.",
			nil, nil,
		),
		idleDesc: prometheus.NewDesc(
			"warden_db_pool_idle_conns",
			"Pool connections sitting idle.",
			nil, nil,
		),
		acquiredDesc: prometheus.NewDesc(
			"warden_db_pool_acquired_conns",
			"Pool connections checked out by callers.",
			nil, nil,
		),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	total, idle, acquired := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(acquired))
}
