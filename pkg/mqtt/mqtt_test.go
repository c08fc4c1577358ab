package mqtt

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type received struct {
	mu   sync.Mutex
	msgs map[string]string
}

func (r *received) add(topic string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[topic] = string(payload)
}

func (r *received) get(topic string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[topic]
}

func TestEmbeddedPublish(t *testing.T) {
	broker, err := Start(freeAddress(t))
	require.NoError(t, err)
	defer broker.Close()

	got := &received{msgs: map[string]string{}}
	require.NoError(t, broker.Subscribe("enpal/#", 1, got.add))

	require.NoError(t, broker.Publish("enpal/home/status", []byte("online"), true))
	assert.Eventually(t, func() bool {
		return got.get("enpal/home/status") == "online"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExternalPublish(t *testing.T) {
	addr := freeAddress(t)
	broker, err := Start(addr)
	require.NoError(t, err)
	defer broker.Close()

	got := &received{msgs: map[string]string{}}
	require.NoError(t, broker.Subscribe("homeassistant/#", 1, got.add))

	ext, err := Connect(ExternalConfig{
		Broker:    "tcp://" + addr,
		ClientID:  "enpal-test",
		WillTopic: "enpal/home/status",
	})
	require.NoError(t, err)
	defer ext.Close()

	require.NoError(t, ext.Publish("homeassistant/sensor/home/x/config", []byte(`{"name":"x"}`), true))
	assert.Eventually(t, func() bool {
		return got.get("homeassistant/sensor/home/x/config") == `{"name":"x"}`
	}, 2*time.Second, 10*time.Millisecond)
}
