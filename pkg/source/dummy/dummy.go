// Package dummy is a random data source used when no InfluxDB is available.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
	"github.com/nergy-se/enpal/pkg/influx"
	"github.com/nergy-se/enpal/pkg/metric"
	"github.com/sirupsen/logrus"
)

var ErrFailing = errors.New("dummy: source failing")

type Dummy struct {
	table   *metric.Table
	failing bool
	rnd     *rand.Rand
	sync.Mutex
}

func New(table *metric.Table) *Dummy {
	return &Dummy{
		table: table,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetFailing makes every query return ErrFailing until reset.
func (d *Dummy) SetFailing(b bool) {
	d.Lock()
	d.failing = b
	d.Unlock()
	logrus.Info("dummy: failing: ", b)
}

func unitFor(k metric.Key, md metric.Metadata) string {
	if k.Field == metric.FieldStorageLevel {
		return "%"
	}
	switch md.DeviceClass {
	case types.DeviceClassPower:
		return "W"
	case types.DeviceClassEnergy:
		return "kWh"
	case types.DeviceClassFrequency:
		return "Hz"
	case types.DeviceClassTemperature:
		return "°C"
	case types.DeviceClassVoltage:
		return "V"
	case types.DeviceClassCurrent:
		return "A"
	case types.DeviceClassBattery:
		return "%"
	}
	return ""
}

func (d *Dummy) value(k metric.Key) float64 {
	switch k.Field {
	case metric.FieldGridFrequency:
		return 49.9 + d.rnd.Float64()*0.2
	case metric.FieldBatteryTemperature:
		return 15 + d.rnd.Float64()*15
	case metric.FieldStorageLevel:
		return d.rnd.Float64() * 100
	}
	return float64(d.rnd.Intn(5000))
}

func (d *Dummy) record(k metric.Key, now time.Time) (influx.Record, bool) {
	md, ok := d.table.Lookup(k)
	if !ok {
		return influx.Record{}, false
	}
	return influx.Record{
		Measurement: k.Measurement,
		Field:       k.Field,
		Value:       d.value(k),
		Unit:        unitFor(k, md),
		Time:        now,
	}, true
}

func (d *Dummy) LastPerField(ctx context.Context) ([]influx.Record, error) {
	d.Lock()
	defer d.Unlock()
	if d.failing {
		return nil, ErrFailing
	}
	now := time.Now()
	var records []influx.Record
	for _, k := range d.table.Keys() {
		if r, ok := d.record(k, now); ok {
			records = append(records, r)
		}
	}
	return records, nil
}

func (d *Dummy) Latest(ctx context.Context, measurement, field string) (*influx.Record, error) {
	d.Lock()
	defer d.Unlock()
	if d.failing {
		return nil, ErrFailing
	}
	r, ok := d.record(metric.Key{Measurement: measurement, Field: field}, time.Now())
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Handler toggles failure with /fail?on=true and /fail?on=false.
func (d *Dummy) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		on := req.URL.Query().Get("on")
		switch on {
		case "true", "1":
			d.SetFailing(true)
		case "false", "0":
			d.SetFailing(false)
		default:
			d.Lock()
			failing := d.failing
			d.Unlock()
			fmt.Fprintf(w, "failing: %t\n", failing)
			return
		}
		fmt.Fprintf(w, "failing set to %s\n", on)
	})
}
