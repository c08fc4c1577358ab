package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/nergy-se/enpal/pkg/api/v1/types"
	"github.com/nergy-se/enpal/pkg/influx"
	"github.com/nergy-se/enpal/pkg/metric"
	"github.com/nergy-se/enpal/pkg/state"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoData      = errors.New("no data in refresh window")
	ErrImplausible = errors.New("implausible reading")
)

// Descriptor is everything needed to register one sensor entity.
type Descriptor struct {
	metric.Key
	metric.Metadata
	Unit     string
	UniqueID string
}

func NewDescriptor(k metric.Key, md metric.Metadata, unit string) Descriptor {
	return Descriptor{
		Key:      k,
		Metadata: md,
		Unit:     unit,
		UniqueID: UniqueID(k),
	}
}

func UniqueID(k metric.Key) string {
	return fmt.Sprintf("enpal_%s_%s", k.Measurement, k.Field)
}

// ObjectID is the unique id reduced to characters allowed in a discovery topic.
func (d Descriptor) ObjectID() string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		if r == '-' {
			return r
		}
		return '_'
	}, d.UniqueID)
}

type Sensor struct {
	desc   Descriptor
	source influx.Querier

	mu    sync.RWMutex
	state state.State
}

// New creates a sensor reading from source. All sensors share the same source.
func New(d Descriptor, source influx.Querier) *Sensor {
	return &Sensor{
		desc:   d,
		source: source,
		state: state.State{
			Icon:        d.Icon,
			DeviceClass: d.DeviceClass,
			Unit:        d.Unit,
			StateClass:  metric.StateClassFor(d.Unit),
			Field:       d.Field,
			Measurement: d.Measurement,
		},
	}
}

func (s *Sensor) Descriptor() Descriptor {
	return s.desc
}

func (s *Sensor) Snapshot() state.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.Value != nil {
		st.Value = state.Pointer(*st.Value)
	}
	if st.LastReset != nil {
		st.LastReset = state.Pointer(*st.LastReset)
	}
	return st
}

// Refresh fetches the newest value and updates the state.
// ErrNoData and ErrImplausible leave the previous state untouched. Any other
// error clears the value and sets the Error status.
func (s *Sensor) Refresh(ctx context.Context, now time.Time) error {
	logger := logrus.WithFields(logrus.Fields{
		"measurement": s.desc.Measurement,
		"field":       s.desc.Field,
	})

	rec, err := s.source.Latest(ctx, s.desc.Measurement, s.desc.Field)
	if err != nil {
		s.fail(now)
		return err
	}
	if rec == nil {
		logger.Debug("sensor: no value in refresh window, keeping previous")
		return ErrNoData
	}
	if !metric.Plausible(s.desc.Field, rec.Value) {
		logger.WithField("value", rec.Value).Debug("sensor: discarding implausible value")
		return ErrImplausible
	}

	v := metric.Round2(rec.Value)
	unit := s.desc.Unit
	if rec.Unit != "" {
		unit = rec.Unit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Value = &v
	st.Status = ""
	st.DeviceClass = s.desc.DeviceClass
	st.Unit = unit
	st.StateClass = metric.StateClassFor(unit)
	st.LastCheck = now
	st.LastReset = nil

	if metric.IsEnergyUnit(unit) {
		st.LastReset = state.Pointer(midnightUTC(now))
	}
	if s.desc.Key == storageKey {
		st.Icon = metric.StorageIcon(v)
	}
	s.state = st
	return nil
}

var storageKey = metric.Key{Measurement: metric.MeasurementSystem, Field: metric.FieldStorageLevel}

func (s *Sensor) fail(now time.Time) {
	s.mu.Lock()
	s.state.Value = nil
	s.state.Status = types.StatusError
	s.state.LastCheck = now
	s.mu.Unlock()
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
