// Package discovery finds the metrics the box currently writes and registers
// one sensor per known metric.
package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/nergy-se/enpal/pkg/api/v1/config"
	"github.com/nergy-se/enpal/pkg/influx"
	"github.com/nergy-se/enpal/pkg/metric"
	"github.com/nergy-se/enpal/pkg/sensor"
	"github.com/sirupsen/logrus"
)

type Registry interface {
	RemoveEntry(entryID string) error
	Add(entryID string, descs []sensor.Descriptor) error
}

type Router struct {
	conf     *config.CliConfig
	source   influx.Querier
	table    *metric.Table
	registry Registry
}

func New(conf *config.CliConfig, source influx.Querier, table *metric.Table, registry Registry) *Router {
	return &Router{
		conf:     conf,
		source:   source,
		table:    table,
		registry: registry,
	}
}

// Discover returns a descriptor for every known metric written in the last hour.
func (r *Router) Discover(ctx context.Context) ([]sensor.Descriptor, error) {
	records, err := r.source.LastPerField(ctx)
	if err != nil {
		return nil, fmt.Errorf("error discovering metrics: %w", err)
	}

	seen := make(map[metric.Key]bool)
	var descs []sensor.Descriptor
	for _, rec := range records {
		k := metric.Key{Measurement: rec.Measurement, Field: rec.Field}
		if seen[k] {
			continue
		}
		seen[k] = true
		md, ok := r.table.Lookup(k)
		if !ok {
			logrus.Debugf("Not adding measurement: %s field: %s", rec.Measurement, rec.Field)
			continue
		}
		descs = append(descs, sensor.NewDescriptor(k, md, rec.Unit))
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].UniqueID < descs[j].UniqueID })
	return descs, nil
}

// Run replaces every entity of entryID with the currently discovered sensors.
// A missing connection parameter or a failed query leaves the registry untouched.
func (r *Router) Run(ctx context.Context, entryID string) ([]*sensor.Sensor, error) {
	if err := r.conf.Validate(); err != nil {
		logrus.WithField("entry", entryID).Error("discovery: ", err)
		return nil, err
	}

	descs, err := r.Discover(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.registry.RemoveEntry(entryID); err != nil {
		return nil, fmt.Errorf("error removing entities of %s: %w", entryID, err)
	}
	if err := r.registry.Add(entryID, descs); err != nil {
		return nil, fmt.Errorf("error adding entities to %s: %w", entryID, err)
	}

	sensors := make([]*sensor.Sensor, 0, len(descs))
	for _, d := range descs {
		sensors = append(sensors, sensor.New(d, r.source))
	}
	logrus.WithFields(logrus.Fields{"entry": entryID, "sensors": len(sensors)}).Info("discovery: done")
	return sensors, nil
}
