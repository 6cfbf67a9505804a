package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/industruino/fleet-sim/internal/metrics"
	"github.com/industruino/fleet-sim/internal/model/messages"
	"github.com/industruino/fleet-sim/pkg/dedup"
	"github.com/industruino/fleet-sim/pkg/logging"
)

// DefaultOutboundCapacity is the size of the queue shared by all sensors.
const DefaultOutboundCapacity = 1024

var (
	ErrChannelClosed  = errors.New("channel closed unexpectedly")
	ErrAlreadyRunning = errors.New("dispatcher already running")
	ErrDuplicateLabel = errors.New("label already attached")
)

// Transport is the publish/subscribe link the dispatcher owns.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string) (<-chan messages.Notification, error)
}

// TelemetrySink receives every telemetry map after it has been published.
type TelemetrySink interface {
	WriteTelemetry(values map[string]string, at time.Time)
}

// Topics holds the fixed topics of the device API.
// ReplyTemplate must contain "{id}", which is replaced by the request id.
type Topics struct {
	Telemetry     string
	ReplyTemplate string
	Request       string
}

// DefaultTopics returns the ThingsBoard device API topics.
func DefaultTopics() Topics {
	return Topics{
		Telemetry:     "v1/devices/me/telemetry",
		ReplyTemplate: "v1/devices/me/rpc/response/{id}",
		Request:       "v1/devices/me/rpc/request/+",
	}
}

func (t Topics) ReplyTopic(id uint64) string {
	return strings.ReplaceAll(t.ReplyTemplate, "{id}", strconv.FormatUint(id, 10))
}

type Option func(*Dispatcher)

func WithTopics(t Topics) Option {
	return func(d *Dispatcher) { d.topics = t }
}

func WithOutboundCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.outboundCap = n
		}
	}
}

func WithDeduper(dd *dedup.Deduper) Option {
	return func(d *Dispatcher) { d.deduper = dd }
}

func WithTelemetrySink(s TelemetrySink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher bridges the transport and the sensors. It fans inbound RPC
// requests out to the addressed sensor and drains the shared outbound queue
// onto the transport. It never touches sensor state.
type Dispatcher struct {
	transport   Transport
	topics      Topics
	outboundCap int
	outbound    chan messages.Outgoing
	// written only by Attach, before Run
	directory map[string]chan<- messages.Command

	deduper *dedup.Deduper
	sink    TelemetrySink
	metrics *metrics.Metrics
	log     *slog.Logger

	running atomic.Bool
}

func New(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:   transport,
		topics:      DefaultTopics(),
		outboundCap: DefaultOutboundCapacity,
		directory:   make(map[string]chan<- messages.Command),
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.outbound = make(chan messages.Outgoing, d.outboundCap)
	return d
}

// Attach registers the command channel of the sensor labelled label.
// It must be called before Run.
func (d *Dispatcher) Attach(label string, inbound chan<- messages.Command) error {
	if d.running.Load() {
		return ErrAlreadyRunning
	}
	if label == "" {
		return fmt.Errorf("empty label")
	}
	if _, ok := d.directory[label]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
	}
	d.directory[label] = inbound
	return nil
}

// Outbound is the queue every sensor writes its telemetry and replies to.
func (d *Dispatcher) Outbound() chan<- messages.Outgoing {
	return d.outbound
}

// Labels returns the attached labels, sorted.
func (d *Dispatcher) Labels() []string {
	labels := make([]string, 0, len(d.directory))
	for l := range d.directory {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Run subscribes to the request topic and serves both directions until ctx is done.
// It returns nil on cancellation and ErrChannelClosed if either source is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	notifications, err := d.transport.Subscribe(ctx, d.topics.Request)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", d.topics.Request, err)
	}
	d.log.Info("dispatcher running", "sensors", d.Labels(), "requests", d.topics.Request)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-d.outbound:
			if !ok {
				return fmt.Errorf("outbound queue: %w", ErrChannelClosed)
			}
			d.publish(ctx, msg)
		case n, ok := <-notifications:
			if !ok {
				return fmt.Errorf("notification stream: %w", ErrChannelClosed)
			}
			d.route(n)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, msg messages.Outgoing) {
	switch m := msg.(type) {
	case messages.Telemetry:
		payload, err := json.Marshal(m.Values)
		if err != nil {
			d.log.Error("telemetry serialization failed", "error", err)
			return
		}
		if err := d.transport.Publish(ctx, d.topics.Telemetry, payload); err != nil {
			d.metrics.IncPublishFailure("telemetry")
			d.log.Warn("telemetry publish failed", "error", err)
			return
		}
		d.metrics.IncTelemetry()
		d.log.Debug("telemetry published", "payload", string(payload))
		if d.sink != nil {
			d.sink.WriteTelemetry(m.Values, time.Now().UTC())
		}

	case messages.CommandReply:
		topic := d.topics.ReplyTopic(m.ID)
		if err := d.transport.Publish(ctx, topic, []byte(m.Value)); err != nil {
			d.metrics.IncPublishFailure("reply")
			d.log.Warn("reply publish failed", "request_id", m.ID, "error", err)
			return
		}
		d.metrics.IncReply()
		d.log.Debug("reply published", "topic", topic, "value", m.Value)

	default:
		d.log.Warn("unknown outgoing message", "type", fmt.Sprintf("%T", msg))
	}
}

// route delivers n to its sensor without blocking: a sensor whose queue is full
// loses the request rather than stalling the whole fleet.
func (d *Dispatcher) route(n messages.Notification) {
	inbound, cmd, err := d.decode(n)
	if err != nil {
		d.drop(n, err)
		return
	}
	select {
	case inbound <- cmd:
		d.metrics.IncRouted(kindOf(cmd))
	default:
		d.drop(n, ErrSensorBusy)
	}
}

func kindOf(cmd messages.Command) string {
	if _, ok := cmd.(messages.SetValue); ok {
		return messages.KindSet
	}
	return messages.KindGet
}
