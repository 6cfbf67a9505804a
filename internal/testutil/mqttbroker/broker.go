// Package mqttbroker runs an in-process MQTT broker for tests.
package mqttbroker

import (
	"fmt"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// Start runs a broker on a free localhost port that accepts every client,
// and returns that port. The broker is closed when the test ends.
func Start(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	tcp := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("test-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	require.NoError(t, server.AddListener(tcp))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	return port
}

// Client connects a plain paho client to the broker on port, standing in for the remote server side.
func Client(t *testing.T, port int, clientID string) mqtt.Client {
	t.Helper()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "MQTT connect timeout")
	require.NoError(t, token.Error())

	t.Cleanup(func() {
		client.Disconnect(100)
	})
	return client
}

// Collect subscribes client to filter and returns a channel fed with every matching publish.
func Collect(t *testing.T, client mqtt.Client, filter string) <-chan mqtt.Message {
	t.Helper()

	ch := make(chan mqtt.Message, 256)
	token := client.Subscribe(filter, 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case ch <- m:
		default:
		}
	})
	require.True(t, token.WaitTimeout(5*time.Second), "MQTT subscribe timeout")
	require.NoError(t, token.Error())
	return ch
}
