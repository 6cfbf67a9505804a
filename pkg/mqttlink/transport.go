package mqttlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/industruino/fleet-sim/internal/model/messages"
	"github.com/industruino/fleet-sim/pkg/logging"
)

var (
	ErrTimeout = errors.New("mqtt operation timed out")
	// ErrPublishSuspended is returned while the publish breaker is open.
	ErrPublishSuspended = errors.New("publishing suspended after repeated failures")
)

type TransportOption func(*Transport)

// WithQoS sets the QoS used for publishing and subscribing (default 1).
func WithQoS(qos byte) TransportOption {
	return func(t *Transport) { t.qos = qos }
}

func WithTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithBuffer sets the capacity of the notification stream returned by Subscribe.
func WithBuffer(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.buffer = n
		}
	}
}

// WithBreaker trips the publish breaker after fails consecutive failures
// and keeps it open for openFor.
func WithBreaker(fails uint32, openFor time.Duration) TransportOption {
	return func(t *Transport) {
		t.breakerFails = fails
		t.breakerOpen = openFor
	}
}

func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// Transport adapts a paho client to publish calls and a channel of inbound notifications.
type Transport struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	buffer  int
	log     *slog.Logger

	breakerFails uint32
	breakerOpen  time.Duration
	breaker      *gobreaker.CircuitBreaker
}

func NewTransport(client mqtt.Client, opts ...TransportOption) *Transport {
	t := &Transport{
		client:       client,
		qos:          1,
		timeout:      5 * time.Second,
		buffer:       64,
		log:          logging.Nop(),
		breakerFails: 5,
		breakerOpen:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: t.breakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= t.breakerFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return t
}

// Publish sends payload to topic and waits for the broker acknowledgement (QoS>0).
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := t.breaker.Execute(func() (any, error) {
		token := t.client.Publish(topic, t.qos, false, payload)
		return nil, t.wait(ctx, token)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publish %s: %w", topic, ErrPublishSuspended)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers pattern and returns the stream of matching publishes.
// Delivery blocks the paho router while the stream is full; it gives up once ctx is done.
func (t *Transport) Subscribe(ctx context.Context, pattern string) (<-chan messages.Notification, error) {
	ch := make(chan messages.Notification, t.buffer)

	token := t.client.Subscribe(pattern, t.qos, func(_ mqtt.Client, m mqtt.Message) {
		n := messages.Notification{
			Topic:   m.Topic(),
			Payload: append([]byte(nil), m.Payload()...),
		}
		select {
		case ch <- n:
		case <-ctx.Done():
		}
	})
	if err := t.wait(ctx, token); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	t.log.Info("subscribed", "topic", pattern, "qos", t.qos)

	go func() {
		<-ctx.Done()
		if t.client.IsConnectionOpen() {
			t.client.Unsubscribe(pattern).WaitTimeout(time.Second)
		}
	}()
	return ch, nil
}

// Connected reports whether the underlying connection is currently open.
func (t *Transport) Connected() bool {
	return t.client != nil && t.client.IsConnectionOpen()
}

func (t *Transport) BreakerState() gobreaker.State {
	return t.breaker.State()
}

func (t *Transport) wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
