package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/nergy-se/enpal/pkg/alarm"
	"github.com/nergy-se/enpal/pkg/api/v1/config"
	"github.com/nergy-se/enpal/pkg/api/v1/reading"
	"github.com/nergy-se/enpal/pkg/api/v1/types"
	"github.com/nergy-se/enpal/pkg/discovery"
	"github.com/nergy-se/enpal/pkg/influx"
	"github.com/nergy-se/enpal/pkg/metric"
	"github.com/nergy-se/enpal/pkg/metrics"
	"github.com/nergy-se/enpal/pkg/mqtt"
	"github.com/nergy-se/enpal/pkg/registry"
	"github.com/nergy-se/enpal/pkg/sensor"
	"github.com/nergy-se/enpal/pkg/source/dummy"
	"github.com/nergy-se/enpal/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
)

type App struct {
	wg     *sync.WaitGroup
	config *config.CliConfig

	table    *metric.Table
	source   influx.Querier
	dummy    *dummy.Dummy
	pub      mqtt.Publisher
	registry *registry.Registry
	router   *discovery.Router
	cron     *cron.Cron

	promReg *prometheus.Registry
	metrics *metrics.Collector
	alarms  alarm.ActiveAlarms
	cache   reading.Cache

	sensors []*sensor.Sensor
	mutex   sync.RWMutex

	// held for a whole refresh pass and for a discovery swap
	passMutex sync.Mutex

	closers []func()
}

type Option func(*App)

// WithSource replaces the data source built from the config.
func WithSource(q influx.Querier) Option {
	return func(a *App) {
		a.source = q
	}
}

// WithPublisher replaces the mqtt publisher built from the config.
func WithPublisher(p mqtt.Publisher) Option {
	return func(a *App) {
		a.pub = p
	}
}

func New(config *config.CliConfig, opts ...Option) *App {
	promReg := prometheus.NewRegistry()
	a := &App{
		wg:      &sync.WaitGroup{},
		config:  config,
		table:   metric.NewTable(),
		promReg: promReg,
		metrics: metrics.New(promReg),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *App) Start(ctx context.Context) error {
	if err := a.config.Validate(); err != nil {
		return err
	}

	n, err := metric.LoadOverlay(a.table, a.config.MetricsFile)
	if err != nil {
		return err
	}
	if n > 0 {
		logrus.Infof("loaded %d metrics from %s", n, a.config.MetricsFile)
	}

	if err := a.setupSource(); err != nil {
		return err
	}
	if err := a.setupPublisher(); err != nil {
		a.close()
		return err
	}

	a.registry, err = registry.Open(a.config.StatePath, a.pub, a.config.DiscoveryPrefix, version.Get().Short())
	if err != nil {
		a.close()
		return err
	}
	a.closers = append(a.closers, func() {
		if err := a.registry.Close(); err != nil {
			logrus.Error("registry: ", err)
		}
	})
	a.router = discovery.New(a.config, a.source, a.table, a.registry)

	if err := a.registry.SetAvailability(a.config.EntryID, true); err != nil {
		logrus.Error("error setting availability: ", err)
	}

	if a.config.Rediscover != "" {
		a.cron = cron.New()
		_, err := a.cron.AddFunc(a.config.Rediscover, func() {
			if err := a.discover(ctx); err != nil {
				logrus.Error("rediscover: ", err)
			}
		})
		if err != nil {
			a.close()
			return fmt.Errorf("error parsing Rediscover %q: %w", a.config.Rediscover, err)
		}
	}

	if a.config.MetricsAddr != "" {
		a.wg.Add(1)
		go a.serve(ctx)
	}

	a.wg.Add(1)
	go a.refreshLoop(ctx)
	return nil
}

func (a *App) Wait() {
	a.wg.Wait()
}

func (a *App) setupSource() error {
	if a.source != nil {
		return nil
	}
	switch a.config.SourceType() {
	case types.SourceTypeDummy:
		a.dummy = dummy.New(a.table)
		a.source = a.dummy
	case types.SourceTypeInflux:
		c := influx.New(a.config.InfluxURL(), a.config.Token(), a.config.InfluxOrg, a.config.InfluxBucket)
		a.source = c
		a.closers = append(a.closers, c.Close)
	default:
		return fmt.Errorf("unknown Source %q", a.config.Source)
	}
	return nil
}

func (a *App) setupPublisher() error {
	if a.pub != nil {
		return nil
	}
	switch a.config.Mode() {
	case types.MQTTModeEmbedded:
		broker, err := mqtt.Start(a.config.MQTTAddress)
		if err != nil {
			return err
		}
		a.pub = broker
		a.closers = append(a.closers, broker.Close)
	case types.MQTTModeExternal:
		ext, err := mqtt.Connect(mqtt.ExternalConfig{
			Broker:    a.config.MQTTBroker,
			ClientID:  "enpal-" + a.config.EntryID,
			Username:  a.config.MQTTUsername,
			Password:  a.config.MQTTPassword,
			WillTopic: fmt.Sprintf("enpal/%s/status", a.config.EntryID),
		})
		if err != nil {
			return err
		}
		a.pub = ext
		a.closers = append(a.closers, ext.Close)
	default:
		return fmt.Errorf("unknown MQTTMode %q", a.config.MQTTMode)
	}
	return nil
}

// close runs the closers in reverse order of creation.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) shutdown() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if err := a.registry.SetAvailability(a.config.EntryID, false); err != nil {
		logrus.Error("error setting availability: ", err)
	}
	a.close()
	logrus.Info("shutdown complete")
}

func (a *App) refreshLoop(ctx context.Context) {
	defer a.wg.Done()
	defer a.shutdown()

	if !a.discoverWithBackoff(ctx) {
		return
	}
	if a.cron != nil {
		a.cron.Start()
	}

	a.refreshAll(ctx)
	delay := calculateNextDelay(time.Now(), a.config.Interval)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	logrus.Debug("scheduling next refresh in ", delay)
	for {
		select {
		case <-timer.C:
			timer.Reset(calculateNextDelay(time.Now(), a.config.Interval))
			a.refreshAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// discoverWithBackoff retries discovery until it succeeds. It returns false if ctx is done first.
func (a *App) discoverWithBackoff(ctx context.Context) bool {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    5 * time.Minute,
		Factor: 2,
		Jitter: true,
	}
	for {
		err := a.discover(ctx)
		if err == nil {
			return true
		}
		if errors.Is(err, config.ErrMissing) {
			return false
		}
		d := b.Duration()
		logrus.WithField("retry", d).Warn("discovery failed: ", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
		}
	}
}

func (a *App) discover(ctx context.Context) error {
	a.passMutex.Lock()
	defer a.passMutex.Unlock()

	sensors, err := a.router.Run(ctx, a.config.EntryID)
	if err != nil {
		return err
	}

	a.mutex.Lock()
	old := a.sensors
	a.sensors = sensors
	a.mutex.Unlock()

	for _, s := range old {
		a.metrics.Forget(s.Descriptor())
	}
	a.cache.Reset()
	a.alarms.Clear()
	a.metrics.SetSensors(len(sensors))
	return nil
}

func (a *App) Sensors() []*sensor.Sensor {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	out := make([]*sensor.Sensor, len(a.sensors))
	copy(out, a.sensors)
	return out
}

func (a *App) refreshAll(ctx context.Context) {
	a.passMutex.Lock()
	defer a.passMutex.Unlock()

	workers := a.config.Workers
	if workers < 1 {
		workers = 1
	}
	now := time.Now()
	p := pool.New().WithMaxGoroutines(workers)
	for _, s := range a.Sensors() {
		s := s
		p.Go(func() {
			a.refresh(ctx, s, now)
		})
	}
	p.Wait()
}

func (a *App) refresh(ctx context.Context, s *sensor.Sensor, now time.Time) {
	d := s.Descriptor()
	start := time.Now()
	err := s.Refresh(ctx, now)
	st := s.Snapshot()
	a.metrics.ObserveRefresh(d, st, time.Since(start), err)

	logger := logrus.WithFields(logrus.Fields{"sensor": d.UniqueID})
	switch metrics.Result(err) {
	case metrics.ResultNoData, metrics.ResultImplausible:
		return
	case metrics.ResultError:
		if a.alarms.Add(d.UniqueID) {
			logger.Warn("sensor error: ", err)
		}
	case metrics.ResultOK:
		if a.alarms.Remove(d.UniqueID) {
			logger.Info("sensor recovered")
		}
	}

	a.cache.Set(reading.New(d.UniqueID, d.Name, st))
	if err := a.registry.Publish(a.config.EntryID, s); err != nil {
		logger.Error("error publishing state: ", err)
	}
}

// Handler serves /metrics, /healthz and /api/sensors.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		a.mutex.RLock()
		n := len(a.sensors)
		a.mutex.RUnlock()
		if n == 0 {
			http.Error(w, "no sensors discovered", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok %d sensors, %d in error\n", n, len(a.alarms.Active()))
	})
	mux.HandleFunc("GET /api/sensors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.cache.Get()); err != nil {
			logrus.Error("api: ", err)
		}
	})
	if a.dummy != nil {
		mux.Handle("/dummy/fail", a.dummy.Handler())
	}
	return mux
}

func (a *App) serve(ctx context.Context) {
	defer a.wg.Done()
	srv := &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("http: listening on %s", a.config.MetricsAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logrus.Error("http: ", err)
	}
}
