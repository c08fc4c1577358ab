package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nergy-se/enpal/pkg/influx"
	"github.com/nergy-se/enpal/pkg/metric"
)

func main() {
	host := flag.String("host", "", "enpal box host")
	port := flag.Int("port", 8086, "influxdb port")
	token := flag.String("token", os.Getenv("ENPAL_TOKEN"), "influxdb token, defaults to $ENPAL_TOKEN")
	org := flag.String("org", "enpal", "")
	bucket := flag.String("bucket", "solar", "")

	discover := flag.Bool("discover", false, "list the last value of every field written the last hour")
	measurement := flag.String("measurement", "", "")
	field := flag.String("field", "", "")
	flag.Parse()

	if *host == "" || *token == "" {
		log.Fatal("-host and -token are required")
	}

	client := influx.New(fmt.Sprintf("http://%s:%d", *host, *port), *token, *org, *bucket)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	table := metric.NewTable()

	if *discover {
		records, err := client.LastPerField(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, r := range records {
			printRecord(table, r)
		}
		return
	}

	if !isFlagPassed("measurement") || !isFlagPassed("field") {
		log.Fatal("use -discover or -measurement and -field")
	}
	r, err := client.Latest(ctx, *measurement, *field)
	if err != nil {
		log.Fatal(err)
	}
	if r == nil {
		log.Printf("no value for %s %s the last %s", *measurement, *field, influx.RefreshWindow)
		return
	}
	printRecord(table, *r)
}

func printRecord(table *metric.Table, r influx.Record) {
	k := metric.Key{Measurement: r.Measurement, Field: r.Field}
	match := "unknown"
	if md, ok := table.Lookup(k); ok {
		match = fmt.Sprintf("icon=%s class=%s", md.Icon, md.DeviceClass)
		if !metric.Plausible(r.Field, r.Value) {
			match += " implausible"
		}
	}
	fmt.Printf("%s %-10s %-45s %12.2f %-4s %s\n", r.Time.Format(time.RFC3339), r.Measurement, r.Field, r.Value, r.Unit, match)
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
