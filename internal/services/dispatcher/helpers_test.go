package dispatcher_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeTelemetry(t *testing.T, payload []byte) map[string]string {
	t.Helper()
	var values map[string]string
	require.NoError(t, json.Unmarshal(payload, &values))
	return values
}
