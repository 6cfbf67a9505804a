package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/industruino/fleet-sim/internal/model/messages"
)

type published struct {
	Topic   string
	Payload string
}

// fakeTransport records publishes and lets the test inject notifications.
type fakeTransport struct {
	mu         sync.Mutex
	subscribed string
	publishErr error

	notifications chan messages.Notification
	published     chan published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		notifications: make(chan messages.Notification, 64),
		published:     make(chan published, 256),
	}
}

func (f *fakeTransport) Subscribe(_ context.Context, pattern string) (<-chan messages.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = pattern
	return f.notifications, nil
}

func (f *fakeTransport) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	err := f.publishErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.published <- published{Topic: topic, Payload: string(payload)}
	return nil
}

func (f *fakeTransport) failPublishes(err error) {
	f.mu.Lock()
	f.publishErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) request(topic, payload string) {
	f.notifications <- messages.Notification{Topic: topic, Payload: []byte(payload)}
}

func (f *fakeTransport) next(t *testing.T) published {
	t.Helper()
	select {
	case p := <-f.published:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for publish")
		return published{}
	}
}

// runDispatcher starts d.Run in the background and stops it when the test ends.
func runDispatcher(t *testing.T, d *Dispatcher) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return done
}

var errBrokerDown = errors.New("broker down")
