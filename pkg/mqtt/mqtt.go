package mqtt

import (
	"fmt"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"
)

// Publisher sends one message. Retained messages are what Home Assistant
// reads discovery configs from.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// Embedded is a broker running inside the bridge. Home Assistant connects to it directly.
type Embedded struct {
	server *mqttv2.Server
}

// Start runs a broker listening on address until Close is called.
func Start(address string) (*Embedded, error) {
	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
	})

	// Allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: address})
	err := server.AddListener(tcp)
	if err != nil {
		return nil, fmt.Errorf("error adding mqtt listener %s: %w", address, err)
	}

	err = server.Serve()
	if err != nil {
		return nil, err
	}
	logrus.Infof("mqtt: embedded broker listening on %s", address)
	return &Embedded{server: server}, nil
}

func (e *Embedded) Close() {
	if err := e.server.Close(); err != nil {
		logrus.Error("mqtt: ", err)
	}
}

func (e *Embedded) Publish(topic string, payload []byte, retain bool) error {
	return e.server.Publish(topic, payload, retain, 0)
}

// Subscribe calls fn for every message matching filter, retained ones included.
func (e *Embedded) Subscribe(filter string, id int, fn func(topic string, payload []byte)) error {
	return e.server.Subscribe(filter, id, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}
