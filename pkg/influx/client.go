package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
)

const (
	DiscoveryWindow = time.Hour
	RefreshWindow   = 5 * time.Minute
)

// Record is the latest value of one measurement field.
type Record struct {
	Measurement string
	Field       string
	Value       float64
	Unit        string
	Time        time.Time
}

type Querier interface {
	// LastPerField returns the newest record of every (measurement, field) written within DiscoveryWindow.
	LastPerField(ctx context.Context) ([]Record, error)
	// Latest returns the newest record for one field within RefreshWindow, nil if there is none.
	Latest(ctx context.Context, measurement, field string) (*Record, error)
}

// Client is the one connection to the box database shared by discovery and every sensor.
type Client struct {
	client influxdb2.Client
	query  api.QueryAPI
	bucket string
}

func New(url, token, org, bucket string) *Client {
	c := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))
	return &Client{
		client: c,
		query:  c.QueryAPI(org),
		bucket: bucket,
	}
}

func (c *Client) Close() {
	c.client.Close()
}

func (c *Client) LastPerField(ctx context.Context) ([]Record, error) {
	res, err := c.query.Query(ctx, LastPerFieldQuery(c.bucket, DiscoveryWindow))
	if err != nil {
		return nil, fmt.Errorf("error querying last values: %w", err)
	}
	defer res.Close()

	seen := make(map[[2]string]bool)
	var records []Record
	for res.Next() {
		r, err := toRecord(res.Record())
		if err != nil {
			return nil, err
		}
		k := [2]string{r.Measurement, r.Field}
		if seen[k] {
			continue
		}
		seen[k] = true
		records = append(records, *r)
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("error reading last values: %w", res.Err())
	}
	return records, nil
}

func (c *Client) Latest(ctx context.Context, measurement, field string) (*Record, error) {
	res, err := c.query.Query(ctx, LatestQuery(c.bucket, measurement, field, RefreshWindow))
	if err != nil {
		return nil, fmt.Errorf("error querying %s/%s: %w", measurement, field, err)
	}
	defer res.Close()

	if !res.Next() {
		if res.Err() != nil {
			return nil, fmt.Errorf("error reading %s/%s: %w", measurement, field, res.Err())
		}
		return nil, nil
	}
	return toRecord(res.Record())
}

func LastPerFieldQuery(bucket string, window time.Duration) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> last()`, bucket, flux(window))
}

func LatestQuery(bucket, measurement, field string, window time.Duration) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r["_measurement"] == %q)
  |> filter(fn: (r) => r["_field"] == %q)
  |> last()`, bucket, flux(window), measurement, field)
}

// flux formats d as a flux duration literal, 1h0m0s is not valid flux.
func flux(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	}
	return strconv.FormatInt(int64(d/time.Second), 10) + "s"
}

func toRecord(fr *query.FluxRecord) (*Record, error) {
	v, err := ToFloat(fr.Value())
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", fr.Measurement(), fr.Field(), err)
	}
	r := &Record{
		Measurement: fr.Measurement(),
		Field:       fr.Field(),
		Value:       v,
		Time:        fr.Time(),
	}
	if u, ok := fr.ValueByKey("unit").(string); ok {
		r.Unit = u
	}
	return r, nil
}

// ToFloat converts a flux column value to float64.
func ToFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", t)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("value is null")
	}
	return 0, fmt.Errorf("unsupported value type %T", v)
}
