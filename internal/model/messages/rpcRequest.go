package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	KindGet = "get"
	KindSet = "set"
)

var (
	ErrMalformedMethod    = errors.New("method is not <kind>-<label>")
	ErrMalformedRequestID = errors.New("topic does not end with a numeric request id")
)

// RPCRequest is the JSON body of a server-side RPC request,
// e.g. {"method":"set-temp1","params":"30.0"}.
type RPCRequest struct {
	Method string  `json:"method"`
	Params *string `json:"params"`
}

// UnmarshalJSON accepts params as a JSON string or a bare number;
// null or a missing field leaves Params nil.
func (r *RPCRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Method = raw.Method
	r.Params = nil

	p := bytes.TrimSpace(raw.Params)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return nil
	}
	switch p[0] {
	case '"':
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return err
		}
		r.Params = &s
	default:
		var n json.Number
		if err := json.Unmarshal(p, &n); err != nil {
			return fmt.Errorf("params must be a string or a number: %w", err)
		}
		s := n.String()
		r.Params = &s
	}
	return nil
}

// ParseMethod splits "<kind>-<label>" on the first '-'; labels may contain dashes.
func ParseMethod(method string) (kind, label string, err error) {
	parts := strings.SplitN(method, "-", 2)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedMethod, method)
	}
	return parts[0], parts[1], nil
}

// RequestIDFromTopic reads the id from the last path segment,
// e.g. "v1/devices/me/rpc/request/42" -> 42.
func RequestIDFromTopic(topic string) (uint64, error) {
	seg := topic[strings.LastIndex(topic, "/")+1:]
	id, err := strconv.ParseUint(seg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedRequestID, topic)
	}
	return id, nil
}
