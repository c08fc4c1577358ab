package influx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	measurement string
	field       string
	value       float64
	unit        string
}

func annotatedCSV(rows ...row) string {
	var b strings.Builder
	b.WriteString("#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string,string\n")
	b.WriteString("#group,false,false,true,true,false,false,true,true,true\n")
	b.WriteString("#default,_result,,,,,,,,\n")
	b.WriteString(",result,table,_start,_stop,_time,_value,_field,_measurement,unit\n")
	for i, r := range rows {
		fmt.Fprintf(&b, ",,%d,2024-05-01T11:00:00Z,2024-05-01T12:00:00Z,2024-05-01T11:59:50Z,%v,%s,%s,%s\n",
			i, r.value, r.field, r.measurement, r.unit)
	}
	b.WriteString("\n")
	return b.String()
}

type fakeServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []string
	body    string
	status  int
}

func newFakeServer(t *testing.T, body string) *fakeServer {
	fs := &fakeServer{body: body, status: http.StatusOK}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fs.mu.Lock()
		fs.queries = append(fs.queries, r.URL.Path+"?"+r.URL.RawQuery+" "+string(b))
		status, body := fs.status, fs.body
		fs.mu.Unlock()
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"code":"unauthorized","message":"unauthorized access"}`)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func TestLastPerField(t *testing.T) {
	fs := newFakeServer(t, annotatedCSV(
		row{"inverter", "Power.DC.Total", 1234.5, "W"},
		row{"system", "Energy.Production.Total.Day", 12.3, "kWh"},
		row{"inverter", "Power.DC.Total", 1, "W"},
	))
	c := New(fs.URL, "token", "enpal", "solar")
	defer c.Close()

	records, err := c.LastPerField(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "inverter", records[0].Measurement)
	assert.Equal(t, "Power.DC.Total", records[0].Field)
	assert.Equal(t, 1234.5, records[0].Value)
	assert.Equal(t, "W", records[0].Unit)
	assert.Equal(t, "kWh", records[1].Unit)

	require.Len(t, fs.queries, 1)
	assert.Contains(t, fs.queries[0], "/api/v2/query?org=enpal")
	assert.Contains(t, fs.queries[0], `range(start: -1h)`)
}

func TestLatest(t *testing.T) {
	fs := newFakeServer(t, annotatedCSV(row{"inverter", "Frequency.Grid", 50.02, "Hz"}))
	c := New(fs.URL, "token", "enpal", "solar")
	defer c.Close()

	r, err := c.Latest(context.Background(), "inverter", "Frequency.Grid")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 50.02, r.Value)
	assert.Equal(t, "Hz", r.Unit)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 59, 50, 0, time.UTC), r.Time)
}

func TestLatestEmpty(t *testing.T) {
	fs := newFakeServer(t, "\n")
	c := New(fs.URL, "token", "enpal", "solar")
	defer c.Close()

	r, err := c.Latest(context.Background(), "inverter", "Frequency.Grid")
	assert.NoError(t, err)
	assert.Nil(t, r)
}

func TestLatestHTTPError(t *testing.T) {
	fs := newFakeServer(t, "")
	fs.status = http.StatusUnauthorized
	c := New(fs.URL, "token", "enpal", "solar")
	defer c.Close()

	_, err := c.Latest(context.Background(), "inverter", "Frequency.Grid")
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	assert.Equal(t, `from(bucket: "solar")
  |> range(start: -1h)
  |> last()`, LastPerFieldQuery("solar", DiscoveryWindow))

	assert.Equal(t, `from(bucket: "solar")
  |> range(start: -5m)
  |> filter(fn: (r) => r["_measurement"] == "system")
  |> filter(fn: (r) => r["_field"] == "Percent.Storage.Level")
  |> last()`, LatestQuery("solar", "system", "Percent.Storage.Level", RefreshWindow))

	assert.Contains(t, LatestQuery("solar", "a", "b", 90*time.Second), "range(start: -90s)")
}

func TestToFloat(t *testing.T) {
	var tests = []struct {
		name     string
		given    interface{}
		expected float64
		err      bool
	}{
		{name: "double", given: 1.5, expected: 1.5},
		{name: "long", given: int64(-4), expected: -4},
		{name: "unsigned", given: uint64(7), expected: 7},
		{name: "bool", given: true, expected: 1},
		{name: "numeric string", given: "42.1", expected: 42.1},
		{name: "text", given: "Running", err: true},
		{name: "null", given: nil, err: true},
		{name: "time", given: time.Now(), err: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			v, err := ToFloat(tt.given)
			if tt.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}
