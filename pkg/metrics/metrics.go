// Package metrics exposes sensor values and refresh outcomes to prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/nergy-se/enpal/pkg/sensor"
	"github.com/nergy-se/enpal/pkg/state"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultImplausible = "implausible"
	ResultNoData      = "nodata"
)

type Collector struct {
	value    *prometheus.GaugeVec
	refresh  *prometheus.CounterVec
	sensors  prometheus.Gauge
	duration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "enpal_sensor_value",
			Help: "Last plausible value of a sensor.",
		}, []string{"unique_id", "measurement", "field", "unit"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enpal_refresh_total",
			Help: "Sensor refreshes by result.",
		}, []string{"result"}),
		sensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enpal_sensors",
			Help: "Number of registered sensors.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enpal_query_duration_seconds",
			Help:    "Duration of one sensor refresh query.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	reg.MustRegister(c.value, c.refresh, c.sensors, c.duration)
	for _, r := range []string{ResultOK, ResultError, ResultImplausible, ResultNoData} {
		c.refresh.WithLabelValues(r)
	}
	return c
}

// Result maps a refresh error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, sensor.ErrImplausible):
		return ResultImplausible
	case errors.Is(err, sensor.ErrNoData):
		return ResultNoData
	}
	return ResultError
}

// ObserveRefresh records one refresh of d that took took and ended with err.
func (c *Collector) ObserveRefresh(d sensor.Descriptor, st state.State, took time.Duration, err error) {
	c.duration.Observe(took.Seconds())
	c.refresh.WithLabelValues(Result(err)).Inc()
	if err != nil {
		if Result(err) == ResultError {
			c.Forget(d)
		}
		return
	}
	if st.Value != nil {
		c.value.WithLabelValues(d.UniqueID, d.Measurement, d.Field, st.Unit).Set(*st.Value)
	}
}

// Forget removes every value series of d.
func (c *Collector) Forget(d sensor.Descriptor) {
	c.value.DeletePartialMatch(prometheus.Labels{"unique_id": d.UniqueID})
}

func (c *Collector) SetSensors(n int) {
	c.sensors.Set(float64(n))
}
