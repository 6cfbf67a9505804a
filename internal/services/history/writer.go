package history

import (
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/industruino/fleet-sim/pkg/logging"
)

// pointWriter is the part of api.WriteAPI the writer uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
}

var _ pointWriter = (api.WriteAPI)(nil)

// Writer mirrors published telemetry to InfluxDB through the async, batching WriteAPI.
// It tracks the last write error for the health endpoints.
type Writer struct {
	api     pointWriter
	log     *slog.Logger
	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

// NewWriter starts draining the async error channel of w.
func NewWriter(w api.WriteAPI, log *slog.Logger) *Writer {
	return newWriter(w, log)
}

func newWriter(w pointWriter, log *slog.Logger) *Writer {
	if log == nil {
		log = logging.Nop()
	}
	ww := &Writer{
		api:     w,
		log:     log,
		lastErr: time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				ww.log.Warn("influx write error", "error", err)
			}
		}
	}()
	return ww
}

// WriteTelemetry queues one point per numeric reading; it never blocks on the network.
func (w *Writer) WriteTelemetry(values map[string]string, at time.Time) {
	points := TelemetryToPoints(values, at)
	for _, p := range points {
		w.api.WritePoint(p)
	}
	w.mu.Lock()
	w.written += int64(len(points))
	w.mu.Unlock()
}

// LastErrorAge returns how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Written returns the number of points queued so far.
func (w *Writer) Written() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.written
}
