package sensor_simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/industruino/fleet-sim/internal/metrics"
	"github.com/industruino/fleet-sim/internal/model"
	"github.com/industruino/fleet-sim/pkg/logging"
)

// DefaultInterval is the telemetry period of a sensor.
const DefaultInterval = 2 * time.Second

var (
	// ErrMalformedValue is returned for a set command whose value is not a finite number.
	ErrMalformedValue = errors.New("malformed value")
	// ErrChannelClosed means the sensor's command channel was closed under it.
	ErrChannelClosed = errors.New("command channel closed")
)

type Option func(*SensorSimulator)

func WithInterval(d time.Duration) Option {
	return func(s *SensorSimulator) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *SensorSimulator) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SensorSimulator) { s.metrics = m }
}

// SensorSimulator is one simulated device. It owns its reading and runs two
// loops over it: periodic telemetry and sequential command handling.
type SensorSimulator struct {
	mu    sync.Mutex
	value float64

	label    string
	interval time.Duration
	outbound chan<- model.Outgoing
	inbound  <-chan model.Command
	log      *slog.Logger
	metrics  *metrics.Metrics

	started atomic.Bool
	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
}

func NewSensorSimulator(initial float64, label string, outbound chan<- model.Outgoing,
	inbound <-chan model.Command, opts ...Option) *SensorSimulator {
	s := &SensorSimulator{
		value:    initial,
		label:    label,
		interval: DefaultInterval,
		outbound: outbound,
		inbound:  inbound,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("sensor", label)
	return s
}

func (s *SensorSimulator) Label() string { return s.label }

// Start launches the telemetry and command loops and returns immediately.
// Both loops stop when ctx is done; closing the command channel stops them too.
// Calling Start more than once has no effect.
func (s *SensorSimulator) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.publishLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.commandLoop(ctx); err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
	}()
}

// Wait blocks until both loops have exited. It returns ErrChannelClosed if the
// command channel was closed, nil if the sensor was cancelled.
func (s *SensorSimulator) Wait() error {
	s.wg.Wait()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *SensorSimulator) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.sendTelemetry(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *SensorSimulator) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-s.inbound:
			if !ok {
				s.log.Error("command channel closed")
				return ErrChannelClosed
			}
			if err := s.handle(ctx, cmd); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, ErrMalformedValue) {
					s.metrics.IncSetRejected(s.label)
				}
				s.log.Warn("command abandoned", "request_id", cmd.RequestID(), "error", err)
			}
		}
	}
}

func (s *SensorSimulator) handle(ctx context.Context, cmd model.Command) error {
	switch c := cmd.(type) {
	case model.GetValue:
		s.log.Debug("get value", "request_id", c.ID)
		return s.emit(ctx, model.CommandReply{ID: c.ID, Value: s.read()})

	case model.SetValue:
		v, err := ParseValue(c.Value)
		if err != nil {
			return err
		}
		text := s.write(v)
		s.log.Debug("set value", "request_id", c.ID, "value", text)
		if err := s.emit(ctx, model.CommandReply{ID: c.ID, Value: text}); err != nil {
			return err
		}
		// observers see the change without waiting for the next tick
		return s.sendTelemetry(ctx)

	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

func (s *SensorSimulator) sendTelemetry(ctx context.Context) error {
	return s.emit(ctx, model.Telemetry{Values: map[string]string{s.label: s.read()}})
}

func (s *SensorSimulator) emit(ctx context.Context, msg model.Outgoing) error {
	select {
	case s.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SensorSimulator) read() string {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()
	return FormatValue(v)
}

func (s *SensorSimulator) write(v float64) string {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
	return FormatValue(v)
}

// FormatValue renders a reading in its shortest exact decimal form: 30 -> "30", 23.4 -> "23.4".
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseValue parses the text of a set command. NaN and infinities are rejected.
func ParseValue(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedValue, text)
	}
	return v, nil
}
