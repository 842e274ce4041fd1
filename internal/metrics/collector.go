// Package metrics exposes published entities and poll statistics to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/entity"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

// Poll cycle results
const (
	ResultOK         = "ok"
	ResultFetchError = "fetch_error"
	ResultCalcError  = "calculation_error"
)

type sample struct {
	name  string
	unit  string
	class string
	value float64
}

// Collector implements prometheus.Collector for sonnenBatterie entities.
// It is also an entity.Presenter, so it sees every value the registry publishes.
type Collector struct {
	mu      sync.RWMutex
	samples map[string]sample

	// Metrics
	sensorValue *prometheus.Desc
	info        *prometheus.Desc

	cycles       *prometheus.CounterVec
	duration     prometheus.Histogram
	disabled     prometheus.Gauge
	entities     prometheus.Gauge
	lastSuccess  prometheus.Gauge
	publishError prometheus.Counter

	host string
}

// NewCollector creates a new sonnenBatterie collector
func NewCollector(host string) *Collector {
	return &Collector{
		samples: make(map[string]sample),
		host:    host,
		sensorValue: prometheus.NewDesc(
			"sonnenbatterie_sensor_value",
			"Current value of a published sonnenBatterie sensor",
			[]string{"entity_id", "name", "unit", "class"},
			nil,
		),
		info: prometheus.NewDesc(
			"sonnenbatterie_info",
			"SonnenBatterie monitor information",
			[]string{"host"},
			nil,
		),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sonnenbatterie_poll_cycles_total",
			Help: "Number of poll cycles by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sonnenbatterie_poll_duration_seconds",
			Help:    "Duration of a complete poll cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		disabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sonnenbatterie_disabled_sensors",
			Help: "Number of sensors disabled because their field was missing",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sonnenbatterie_entities",
			Help: "Number of published entities",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sonnenbatterie_last_success_timestamp_seconds",
			Help: "Unix time of the last poll cycle that fetched a snapshot",
		}),
		publishError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonnenbatterie_publish_errors_total",
			Help: "Number of failed publish operations",
		}),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sensorValue
	ch <- c.info
	c.cycles.Describe(ch)
	c.duration.Describe(ch)
	c.disabled.Describe(ch)
	c.entities.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.publishError.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, c.host)

	c.mu.RLock()
	for id, s := range c.samples {
		ch <- prometheus.MustNewConstMetric(c.sensorValue, prometheus.GaugeValue, s.value, id, s.name, s.unit, s.class)
	}
	c.mu.RUnlock()

	c.cycles.Collect(ch)
	c.duration.Collect(ch)
	c.disabled.Collect(ch)
	c.entities.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.publishError.Collect(ch)
}

// Register implements entity.Presenter
func (c *Collector) Register(e *entity.Entity) error {
	c.store(e)
	return nil
}

// UpdateState implements entity.Presenter
func (c *Collector) UpdateState(e *entity.Entity) error {
	c.store(e)
	return nil
}

// UpdateAttributes implements entity.Presenter. Attributes are not exported.
func (c *Collector) UpdateAttributes(*entity.Entity) error {
	return nil
}

// store keeps numeric values only; text states have no gauge representation
func (c *Collector) store(e *entity.Entity) {
	if _, isText := e.Value.(string); isText {
		return
	}
	v, err := sonnen.Float(e.Value)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.samples[e.ID] = sample{name: e.Name, unit: e.Unit, class: e.Class, value: v}
	c.mu.Unlock()
}

// Sensors returns the number of sensors with an exported value
func (c *Collector) Sensors() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// CycleDone records the outcome of one poll cycle
func (c *Collector) CycleDone(result string, took time.Duration) {
	c.cycles.WithLabelValues(result).Inc()
	c.duration.Observe(took.Seconds())
	if result != ResultFetchError {
		c.lastSuccess.SetToCurrentTime()
	}
}

// SetDisabled records the size of the disabled sensor set
func (c *Collector) SetDisabled(n int) {
	c.disabled.Set(float64(n))
}

// SetEntities records the number of registered entities
func (c *Collector) SetEntities(n int) {
	c.entities.Set(float64(n))
}

// PublishFailed counts a failed publish operation
func (c *Collector) PublishFailed() {
	c.publishError.Inc()
}
