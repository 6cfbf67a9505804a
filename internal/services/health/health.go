package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Link reports broker connectivity.
type Link interface {
	Connected() bool
}

// ErrorAger reports how long ago a dependency last failed; nil means no such dependency.
type ErrorAger interface {
	LastErrorAge() time.Duration
}

type healthHandler struct {
	link    Link
	history ErrorAger
}

// NewHealthHandler serves /healthz. history may be nil when telemetry history is disabled.
func NewHealthHandler(link Link, history ErrorAger) http.Handler {
	return &healthHandler{link: link, history: history}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string   `json:"status"`
		MQTTConnected   bool     `json:"mqtt_connected"`
		HistoryEnabled  bool     `json:"history_enabled"`
		LastWriteErrorS *float64 `json:"last_write_error_age_sec,omitempty"`
	}
	st := status{
		MQTTConnected:  h.link != nil && h.link.Connected(),
		HistoryEnabled: h.history != nil,
	}
	historyOK := true
	if h.history != nil {
		age := h.history.LastErrorAge()
		s := age.Seconds()
		st.LastWriteErrorS = &s
		historyOK = age > 30*time.Second
	}

	switch {
	case st.MQTTConnected && historyOK:
		st.Status = "ok"
	case st.MQTTConnected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	link Link
}

// NewReadyHandler serves /readyz: 200 only while the broker link is up.
func NewReadyHandler(link Link) http.Handler {
	return &readyHandler{link: link}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.link != nil && h.link.Connected()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}

// Service is the name the simulator registers in the gRPC health service.
const Service = "fleet-sim"

// WatchLink mirrors link into the gRPC health server every period until ctx is done.
func WatchLink(ctx context.Context, srv *health.Server, link Link, period time.Duration) {
	update := func() {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if link.Connected() {
			st = healthpb.HealthCheckResponse_SERVING
		}
		srv.SetServingStatus(Service, st)
		srv.SetServingStatus("", st)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		update()
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
