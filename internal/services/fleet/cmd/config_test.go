package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sensor "github.com/industruino/fleet-sim/internal/sensor-simulator"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FLEET_NAME", "MQTT_HOST", "MQTT_PORT", "MQTT_TOKEN", "FLEET_SENSORS",
		"FLEET_INITIAL_VALUE", "TELEMETRY_INTERVAL", "MQTT_QOS", "TELEMETRY_TOPIC",
		"REPLY_TOPIC", "REQUEST_TOPIC", "OUTBOUND_CAPACITY", "INBOUND_CAPACITY",
		"HTTP_PORT", "GRPC_PORT", "INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG",
		"INFLUX_BUCKET", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg := loadConfig()
	assert.Equal(t, "localhost", cfg.Hostname)
	assert.Equal(t, 1883, cfg.Port)
	assert.Equal(t, 21.5, cfg.InitialValue)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 1, cfg.QoS)
	assert.Equal(t, "v1/devices/me/telemetry", cfg.TelemetryTopic)
	assert.Equal(t, "v1/devices/me/rpc/response/{id}", cfg.ReplyTopic)
	assert.Equal(t, "v1/devices/me/rpc/request/+", cfg.RequestTopic)
	assert.Empty(t, cfg.Sensors)
	assert.Empty(t, cfg.Influx.URL)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_HOST", "tb.local")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("FLEET_SENSORS", "temp1, temp2=30 ,")
	t.Setenv("TELEMETRY_INTERVAL", "500ms")
	t.Setenv("MQTT_QOS", "not-a-number")

	cfg := loadConfig()
	assert.Equal(t, "tb.local", cfg.Hostname)
	assert.Equal(t, 8883, cfg.Port)
	assert.Equal(t, []string{"temp1", "temp2=30"}, cfg.Sensors)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval)
	assert.Equal(t, 1, cfg.QoS, "unparseable values fall back to the default")
}

func TestMergeFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_HOST", "from-env")
	t.Setenv("MQTT_TOKEN", "env-token")

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hostname: from-file
sensors: [boiler=60, room]
interval: 5s
influx:
  url: http://influx:8086
`), 0o600))

	cfg := loadConfig()
	require.NoError(t, mergeFile(&cfg, path))

	assert.Equal(t, "from-file", cfg.Hostname)
	assert.Equal(t, "env-token", cfg.SecretToken, "keys absent from the file keep their value")
	assert.Equal(t, []string{"boiler=60", "room"}, cfg.Sensors)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, "telemetry", cfg.Influx.Bucket)
}

func TestMergeFileErrors(t *testing.T) {
	cfg := loadConfig()
	require.Error(t, mergeFile(&cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o600))
	require.Error(t, mergeFile(&cfg, path))
}

func TestSensorSpecs(t *testing.T) {
	cfg := Config{InitialValue: 21.5, Sensors: []string{"temp1", " temp2 = 30 ", "temp-3=-4.25"}}

	specs, err := cfg.SensorSpecs()
	require.NoError(t, err)
	assert.Equal(t, []sensor.SensorSpec{
		{Label: "temp1", Initial: 21.5},
		{Label: "temp2", Initial: 30},
		{Label: "temp-3", Initial: -4.25},
	}, specs)
}

func TestSensorSpecsRejects(t *testing.T) {
	tests := []struct {
		name    string
		sensors []string
	}{
		{"duplicate", []string{"temp1", "temp1=3"}},
		{"empty label", []string{"=3"}},
		{"bad initial", []string{"temp1=warm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{InitialValue: 21.5, Sensors: tt.sensors}
			_, err := cfg.SensorSpecs()
			assert.Error(t, err)
		})
	}
}

func validConfig() Config {
	cfg := loadConfig()
	cfg.Sensors = []string{"temp1"}
	return cfg
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	require.NoError(t, func() error { c := validConfig(); return c.Validate() }())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no sensors", func(c *Config) { c.Sensors = nil }, "at least one sensor"},
		{"port", func(c *Config) { c.Port = 0 }, "port 0 out of range"},
		{"interval", func(c *Config) { c.Interval = 0 }, "interval must be positive"},
		{"qos", func(c *Config) { c.QoS = 3 }, "qos must be 0, 1 or 2"},
		{"reply template", func(c *Config) { c.ReplyTopic = "v1/devices/me/rpc/response" }, "must contain {id}"},
		{"duplicate label", func(c *Config) { c.Sensors = []string{"a", "a"} }, "duplicate label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	clearEnv(t)
	cfg := validConfig()
	cfg.Port = 70000
	cfg.QoS = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 70000")
	assert.Contains(t, err.Error(), "qos must be")
}

func TestResolveConfigPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("MQTT_HOST", "from-env")
	t.Setenv("MQTT_PORT", "1884")
	t.Setenv("FLEET_SENSORS", "env-sensor")

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: from-file\nport: 1885\n"), 0o600))

	f := &flagValues{}
	cmd := buildRootCmd(f)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--port", "1999", "-t", "a", "-t", "b=1"}))

	cfg, err := resolveConfig(cmd, f)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Hostname, "file beats env")
	assert.Equal(t, 1999, cfg.Port, "flag beats file")
	assert.Equal(t, []string{"a", "b=1"}, cfg.Sensors, "flag beats env")
}

func TestResolveConfigInvalid(t *testing.T) {
	clearEnv(t)

	f := &flagValues{}
	cmd := buildRootCmd(f)
	require.NoError(t, cmd.ParseFlags([]string{"--qos", "5"}))

	_, err := resolveConfig(cmd, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one sensor")
	assert.Contains(t, err.Error(), "qos must be")
}
