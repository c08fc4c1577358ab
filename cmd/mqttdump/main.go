package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/nergy-se/enpal/pkg/mqtt"
	"github.com/sirupsen/logrus"
)

func main() {
	address := flag.String("addr", ":1883", "listen address")
	filter := flag.String("filter", "#", "topic filter to log")
	flag.Parse()

	// Create signals channel to run server until interrupted
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	broker, err := mqtt.Start(*address)
	if err != nil {
		logrus.Fatal(err)
	}
	defer broker.Close()

	err = broker.Subscribe(*filter, 1, func(topic string, payload []byte) {
		if len(payload) == 0 {
			logrus.WithField("topic", topic).Info("removed")
			return
		}
		logrus.WithField("topic", topic).Info(string(payload))
	})
	if err != nil {
		logrus.Error(err)
		return
	}

	// Run server until interrupted
	<-ctx.Done()
}
