package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nergy-se/enpal/pkg/api/v1/config"
	"github.com/nergy-se/enpal/pkg/api/v1/reading"
	"github.com/nergy-se/enpal/pkg/discovery"
	"github.com/nergy-se/enpal/pkg/influx"
	"github.com/nergy-se/enpal/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	records map[string]influx.Record
	failing bool
}

func newFakeSource(records ...influx.Record) *fakeSource {
	f := &fakeSource{records: map[string]influx.Record{}}
	for _, r := range records {
		f.records[r.Measurement+"/"+r.Field] = r
	}
	return f
}

func (f *fakeSource) setFailing(b bool) {
	f.mu.Lock()
	f.failing = b
	f.mu.Unlock()
}

func (f *fakeSource) LastPerField(ctx context.Context) ([]influx.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []influx.Record
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) Latest(ctx context.Context, measurement, field string) (*influx.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("connection refused")
	}
	r, ok := f.records[measurement+"/"+field]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string]string
}

func (f *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[topic] = string(payload)
	return nil
}

func (f *fakePublisher) get(topic string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[topic]
}

func testConfig(t *testing.T) *config.CliConfig {
	return &config.CliConfig{
		InfluxHost:      "box",
		InfluxPort:      8086,
		InfluxToken:     "secret",
		EntryID:         "home",
		Source:          "influx",
		Interval:        time.Second,
		Workers:         2,
		MQTTMode:        "embedded",
		DiscoveryPrefix: "homeassistant",
		StatePath:       filepath.Join(t.TempDir(), "registry.db"),
	}
}

func TestAppPublishesSensors(t *testing.T) {
	src := newFakeSource(
		influx.Record{Measurement: "system", Field: "Percent.Storage.Level", Value: 55, Unit: "%"},
		influx.Record{Measurement: "inverter", Field: "Power.DC.Total", Value: 1234.5678, Unit: "W"},
		influx.Record{Measurement: "inverter", Field: "Unknown.Field", Value: 1},
	)
	pub := &fakePublisher{msgs: map[string]string{}}
	ctx, cancel := context.WithCancel(context.Background())
	a := New(testConfig(t), WithSource(src), WithPublisher(pub))
	require.NoError(t, a.Start(ctx))

	stateTopic := "enpal/home/enpal_inverter_power_dc_total/state"
	assert.Eventually(t, func() bool {
		return pub.get(stateTopic) != "" && pub.get("enpal/home/enpal_system_percent_storage_level/state") != ""
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "online", pub.get("enpal/home/status"))
	assert.Len(t, a.Sensors(), 2)

	st := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(pub.get(stateTopic)), &st))
	assert.Equal(t, 1234.57, st["value"])

	cfg := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(pub.get("homeassistant/sensor/home/enpal_system_percent_storage_level/config")), &cfg))
	assert.Equal(t, "mdi:battery-50", cfg["icon"])

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/sensors", nil))
	var readings []reading.Reading
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readings))
	require.Len(t, readings, 2)
	assert.Equal(t, "enpal_inverter_Power.DC.Total", readings[0].UniqueID)

	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), `enpal_sensors 2`))

	cancel()
	a.Wait()
	assert.Equal(t, "offline", pub.get("enpal/home/status"))
}

func TestAppSensorError(t *testing.T) {
	src := newFakeSource(influx.Record{Measurement: "inverter", Field: "Power.DC.Total", Value: 10, Unit: "W"})
	src.setFailing(true)
	pub := &fakePublisher{msgs: map[string]string{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := New(testConfig(t), WithSource(src), WithPublisher(pub))
	require.NoError(t, a.Start(ctx))

	stateTopic := "enpal/home/enpal_inverter_power_dc_total/state"
	assert.Eventually(t, func() bool {
		return strings.Contains(pub.get(stateTopic), `"status":"Error"`)
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"enpal_inverter_Power.DC.Total"}, a.alarms.Active())

	src.setFailing(false)
	assert.Eventually(t, func() bool {
		return strings.Contains(pub.get(stateTopic), `"value":10`)
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.alarms.Active())

	cancel()
	a.Wait()
}

func TestAppStartInvalidConfig(t *testing.T) {
	conf := testConfig(t)
	conf.InfluxToken = ""
	a := New(conf, WithSource(newFakeSource()), WithPublisher(&fakePublisher{msgs: map[string]string{}}))
	err := a.Start(context.Background())
	assert.ErrorIs(t, err, config.ErrMissing)
}

func TestAppInvalidRediscover(t *testing.T) {
	conf := testConfig(t)
	conf.Rediscover = "not a cron spec"
	a := New(conf, WithSource(newFakeSource()), WithPublisher(&fakePublisher{msgs: map[string]string{}}))
	assert.Error(t, a.Start(context.Background()))
}

type blockingSource struct {
	*fakeSource
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Latest(ctx context.Context, measurement, field string) (*influx.Record, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.fakeSource.Latest(ctx, measurement, field)
}

func TestDiscoverWaitsForRefreshPass(t *testing.T) {
	src := &blockingSource{
		fakeSource: newFakeSource(influx.Record{Measurement: "inverter", Field: "Power.DC.Total", Value: 10, Unit: "W"}),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	pub := &fakePublisher{msgs: map[string]string{}}
	conf := testConfig(t)
	a := New(conf, WithSource(src), WithPublisher(pub))

	var err error
	a.registry, err = registry.Open(conf.StatePath, pub, conf.DiscoveryPrefix, "test")
	require.NoError(t, err)
	defer a.registry.Close()
	a.router = discovery.New(conf, src, a.table, a.registry)

	ctx := context.Background()
	require.NoError(t, a.discover(ctx))

	refreshed := make(chan struct{})
	go func() {
		a.refreshAll(ctx)
		close(refreshed)
	}()
	<-src.entered

	discovered := make(chan struct{})
	go func() {
		assert.NoError(t, a.discover(ctx))
		close(discovered)
	}()

	isClosed := func(c chan struct{}) func() bool {
		return func() bool {
			select {
			case <-c:
				return true
			default:
				return false
			}
		}
	}
	assert.Never(t, isClosed(discovered), 200*time.Millisecond, 10*time.Millisecond)

	close(src.release)
	assert.Eventually(t, isClosed(refreshed), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, isClosed(discovered), 2*time.Second, 10*time.Millisecond)

	// the reading of the finished pass was dropped by the new discovery
	assert.Empty(t, a.cache.Get())
	assert.Len(t, a.Sensors(), 1)
}
