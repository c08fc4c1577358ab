package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// External publishes to a broker the bridge does not own, for example the
// mosquitto add-on of Home Assistant.
type External struct {
	client paho.Client
}

type ExternalConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic gets "offline" retained if the connection is lost.
	WillTopic string
}

func Connect(c ExternalConfig) (*External, error) {
	opts := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	if c.WillTopic != "" {
		opts.SetWill(c.WillTopic, "offline", 1, true)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logrus.Warnf("mqtt: connection to %s lost: %s", c.Broker, err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to mqtt broker %s", c.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("error connecting to mqtt broker %s: %w", c.Broker, err)
	}
	return &External{client: client}, nil
}

func (e *External) Publish(topic string, payload []byte, retain bool) error {
	token := e.client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	return token.Error()
}

func (e *External) Close() {
	e.client.Disconnect(250)
}
