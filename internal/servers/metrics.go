package servers

import (
	"math"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Poly_Maker/internal/data"
	"Poly_Maker/internal/latency"
)

// collector exports engine state at scrape time. Nothing is duplicated into
// Prometheus-owned metrics; every value is read from the live components.
type collector struct {
	registry *data.Registry
	metrics  *latency.Metrics
	counters func() map[string]uint64

	latencyDesc *prometheus.Desc
	booksDesc   *prometheus.Desc
	ageDesc     *prometheus.Desc
	counterDesc *prometheus.Desc
}

func newCollector(d Deps) *collector {
	return &collector{
		registry: d.Registry,
		metrics:  d.Metrics,
		counters: d.Counters,
		latencyDesc: prometheus.NewDesc("maker_latency_seconds",
			"Pipeline stage latency over the retained window.", []string{"stage"}, nil),
		booksDesc: prometheus.NewDesc("maker_books",
			"Registered books by state.", []string{"state"}, nil),
		ageDesc: prometheus.NewDesc("maker_book_age_seconds",
			"Time since the last mutation of each book.", []string{"market"}, nil),
		counterDesc: prometheus.NewDesc("maker_events_total",
			"Component counters.", []string{"name"}, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.latencyDesc
	ch <- c.booksDesc
	ch <- c.ageDesc
	ch <- c.counterDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.metrics != nil {
		for _, st := range latency.Stages() {
			vals := c.metrics.Samples(st, "")
			if len(vals) == 0 {
				continue
			}
			var sum float64
			for _, v := range vals {
				sum += v.Seconds()
			}
			ps := c.metrics.Percentiles(st, "", 50, 90, 99)
			q := map[float64]float64{0.5: ps[0].Seconds(), 0.9: ps[1].Seconds(), 0.99: ps[2].Seconds()}
			ch <- prometheus.MustNewConstSummary(c.latencyDesc, uint64(len(vals)), sum, q, st.String())
		}
	}

	var ready, cold float64
	for m, b := range c.registry.All() {
		if !b.Initialized() {
			cold++
			continue
		}
		ready++
		if age := b.AgeMillis(); !math.IsInf(age, 1) {
			ch <- prometheus.MustNewConstMetric(c.ageDesc, prometheus.GaugeValue, age/1000, m)
		}
	}
	ch <- prometheus.MustNewConstMetric(c.booksDesc, prometheus.GaugeValue, ready, "initialized")
	ch <- prometheus.MustNewConstMetric(c.booksDesc, prometheus.GaugeValue, cold, "uninitialized")

	if c.counters != nil {
		counts := c.counters()
		names := make([]string, 0, len(counts))
		for n := range counts {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			ch <- prometheus.MustNewConstMetric(c.counterDesc, prometheus.CounterValue, float64(counts[n]), n)
		}
	}
}

func metricsHandler(d Deps) echo.HandlerFunc {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(d))
	return echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
