package mqttlink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/industruino/fleet-sim/pkg/logging"
)

type Config struct {
	Host     string
	Port     int
	ClientID string
	// Token is the device access token, sent as the MQTT username with an empty password.
	Token string

	KeepAlive      time.Duration
	CleanSession   bool
	ConnectTimeout time.Duration
	MaxRetries     int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.KeepAlive <= 0 {
		out.KeepAlive = 10 * time.Second
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 5
	}
	return out
}

// BrokerURL returns the tcp:// address of the broker.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// NewConn connects to the broker, retrying with exponential backoff.
// The client is disconnected when ctx is done.
func NewConn(ctx context.Context, cfg *Config, log *slog.Logger) (mqtt.Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	c := cfg.withDefaults()
	connAddr := c.BrokerURL()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetClientID(c.ClientID)
	opts.SetUsername(c.Token)
	opts.SetPassword("")
	opts.SetKeepAlive(c.KeepAlive)
	opts.SetCleanSession(c.CleanSession)
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", connAddr, "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("mqtt reconnecting", "broker", connAddr)
	})
	// a persistent session may deliver before our subscription handler is registered
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		log.Debug("mqtt message without handler", "topic", m.Topic())
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(c.ConnectTimeout) {
			return fmt.Errorf("connect to %s: timeout", connAddr)
		}
		if err := token.Error(); err != nil {
			log.Warn("failed to connect to MQTT broker", "broker", connAddr, "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.MaxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info("connected to MQTT broker", "broker", connAddr, "client_id", c.ClientID)

	go func() {
		<-ctx.Done()
		Close(client, log)
	}()

	return client, nil
}

// Close disconnects client if it is still connected.
func Close(client mqtt.Client, log *slog.Logger) {
	if log == nil {
		log = logging.Nop()
	}
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Info("MQTT connection closed")
	}
}
