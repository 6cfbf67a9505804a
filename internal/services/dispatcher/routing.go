package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/industruino/fleet-sim/internal/model/messages"
	"github.com/industruino/fleet-sim/pkg/dedup"
)

// Reasons an inbound request is dropped. None of them stops the dispatcher.
var (
	ErrDuplicate        = errors.New("duplicate delivery")
	ErrMalformedRequest = errors.New("malformed request payload")
	ErrUnknownLabel     = errors.New("unknown sensor label")
	ErrMissingParams    = errors.New("set request without params")
	ErrUnknownKind      = errors.New("unknown command kind")
	ErrSensorBusy       = errors.New("sensor command queue full")
)

// decode turns one inbound publish into a command for exactly one sensor.
func (d *Dispatcher) decode(n messages.Notification) (chan<- messages.Command, messages.Command, error) {
	// Dedup a topic+payload: una redelivery QoS1 ha lo stesso topic e lo stesso payload
	if !d.deduper.ShouldProcess(dedup.Key(n.Topic, n.Payload)) {
		return nil, nil, ErrDuplicate
	}

	var req messages.RPCRequest
	if err := json.Unmarshal(n.Payload, &req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	kind, label, err := messages.ParseMethod(req.Method)
	if err != nil {
		return nil, nil, err
	}

	id, err := messages.RequestIDFromTopic(n.Topic)
	if err != nil {
		return nil, nil, err
	}

	inbound, ok := d.directory[label]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}

	switch kind {
	case messages.KindGet:
		return inbound, messages.GetValue{ID: id}, nil
	case messages.KindSet:
		if req.Params == nil {
			return nil, nil, ErrMissingParams
		}
		return inbound, messages.SetValue{ID: id, Value: *req.Params}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// dropReason maps a decode error to its metric label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, messages.ErrMalformedMethod):
		return "malformed_method"
	case errors.Is(err, messages.ErrMalformedRequestID):
		return "malformed_request_id"
	case errors.Is(err, ErrUnknownLabel):
		return "unknown_label"
	case errors.Is(err, ErrMissingParams):
		return "missing_params"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrSensorBusy):
		return "sensor_busy"
	default:
		return "other"
	}
}

func (d *Dispatcher) drop(n messages.Notification, err error) {
	reason := dropReason(err)
	d.metrics.IncDropped(reason)

	switch reason {
	case "duplicate", "unknown_kind":
		d.log.Debug("request ignored", "topic", n.Topic, "reason", reason, "error", err)
	default:
		d.log.Warn("request dropped", "topic", n.Topic, "reason", reason, "error", err)
	}
}
