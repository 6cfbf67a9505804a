package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCRequest_Params(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		method  string
		params  *string
		wantErr bool
	}{
		{name: "string params", body: `{"method":"set-temp1","params":"30.0"}`, method: "set-temp1", params: strPtr("30.0")},
		{name: "numeric params", body: `{"method":"set-temp1","params":30.5}`, method: "set-temp1", params: strPtr("30.5")},
		{name: "null params", body: `{"method":"get-temp1","params":null}`, method: "get-temp1"},
		{name: "missing params", body: `{"method":"get-temp1"}`, method: "get-temp1"},
		{name: "object params", body: `{"method":"set-temp1","params":{"v":1}}`, wantErr: true},
		{name: "not json", body: `set-temp1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req RPCRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.params, req.Params)
		})
	}
}

func TestParseMethod(t *testing.T) {
	kind, label, err := ParseMethod("get-temp1")
	require.NoError(t, err)
	assert.Equal(t, KindGet, kind)
	assert.Equal(t, "temp1", label)

	// only the first dash separates kind from label
	kind, label, err = ParseMethod("set-boiler-room-2")
	require.NoError(t, err)
	assert.Equal(t, KindSet, kind)
	assert.Equal(t, "boiler-room-2", label)

	_, _, err = ParseMethod("get")
	assert.ErrorIs(t, err, ErrMalformedMethod)

	_, _, err = ParseMethod("")
	assert.ErrorIs(t, err, ErrMalformedMethod)
}

func TestRequestIDFromTopic(t *testing.T) {
	id, err := RequestIDFromTopic("v1/devices/me/rpc/request/42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	id, err = RequestIDFromTopic("7")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)

	for _, topic := range []string{"v1/devices/me/rpc/request/abc", "v1/devices/me/rpc/request/", "v1/devices/me/rpc/request/-1"} {
		_, err := RequestIDFromTopic(topic)
		assert.ErrorIs(t, err, ErrMalformedRequestID, topic)
	}
}

func strPtr(s string) *string { return &s }
