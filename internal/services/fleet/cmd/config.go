package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/industruino/fleet-sim/internal/model"
	sensor "github.com/industruino/fleet-sim/internal/sensor-simulator"
	"github.com/industruino/fleet-sim/internal/services/dispatcher"
)

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Config struct {
	Name        string `yaml:"name"`
	Hostname    string `yaml:"hostname"`
	Port        int    `yaml:"port"`
	SecretToken string `yaml:"secret_token"`

	// Sensors are "label" or "label=initial" entries.
	Sensors      []string      `yaml:"sensors"`
	InitialValue float64       `yaml:"initial_value"`
	Interval     time.Duration `yaml:"interval"`

	QoS              int    `yaml:"qos"`
	TelemetryTopic   string `yaml:"telemetry_topic"`
	ReplyTopic       string `yaml:"reply_topic"`
	RequestTopic     string `yaml:"request_topic"`
	OutboundCapacity int    `yaml:"outbound_capacity"`
	InboundCapacity  int    `yaml:"inbound_capacity"`

	HTTPPort int          `yaml:"http_port"`
	GRPCPort int          `yaml:"grpc_port"`
	Influx   InfluxConfig `yaml:"influx"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// loadConfig returns the built-in defaults overridden by the environment.
func loadConfig() Config {
	topics := dispatcher.DefaultTopics()
	return Config{
		Name:        envStr("FLEET_NAME", ""),
		Hostname:    envStr("MQTT_HOST", "localhost"),
		Port:        envInt("MQTT_PORT", 1883),
		SecretToken: envStr("MQTT_TOKEN", ""),

		Sensors:      envList("FLEET_SENSORS"),
		InitialValue: envFloat("FLEET_INITIAL_VALUE", model.DefaultInitialValue),
		Interval:     envDuration("TELEMETRY_INTERVAL", sensor.DefaultInterval),

		QoS:              envInt("MQTT_QOS", 1),
		TelemetryTopic:   envStr("TELEMETRY_TOPIC", topics.Telemetry),
		ReplyTopic:       envStr("REPLY_TOPIC", topics.ReplyTemplate),
		RequestTopic:     envStr("REQUEST_TOPIC", topics.Request),
		OutboundCapacity: envInt("OUTBOUND_CAPACITY", dispatcher.DefaultOutboundCapacity),
		InboundCapacity:  envInt("INBOUND_CAPACITY", sensor.DefaultInboundCapacity),

		HTTPPort: envInt("HTTP_PORT", 8080),
		GRPCPort: envInt("GRPC_PORT", 0),
		Influx: InfluxConfig{
			URL:    envStr("INFLUX_URL", ""),
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    envStr("INFLUX_ORG", "industruino"),
			Bucket: envStr("INFLUX_BUCKET", "telemetry"),
		},

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),
	}
}

// mergeFile overlays the YAML file at path on cfg; keys absent from the file keep their value.
func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// SensorSpecs parses the sensor entries. Entries without "=initial" start at InitialValue.
func (c *Config) SensorSpecs() ([]sensor.SensorSpec, error) {
	specs := make([]sensor.SensorSpec, 0, len(c.Sensors))
	seen := make(map[string]bool, len(c.Sensors))
	for _, entry := range c.Sensors {
		label, initial, hasInitial := strings.Cut(strings.TrimSpace(entry), "=")
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("sensor %q: empty label", entry)
		}
		if seen[label] {
			return nil, fmt.Errorf("sensor %q: duplicate label", label)
		}
		seen[label] = true

		spec := sensor.SensorSpec{Label: label, Initial: c.InitialValue}
		if hasInitial {
			v, err := sensor.ParseValue(initial)
			if err != nil {
				return nil, fmt.Errorf("sensor %q: %w", label, err)
			}
			spec.Initial = v
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c *Config) Topics() dispatcher.Topics {
	return dispatcher.Topics{
		Telemetry:     c.TelemetryTopic,
		ReplyTemplate: c.ReplyTopic,
		Request:       c.RequestTopic,
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Hostname) == "" {
		errs = append(errs, errors.New("hostname is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.Sensors) == 0 {
		errs = append(errs, errors.New("at least one sensor is required"))
	} else if _, err := c.SensorSpecs(); err != nil {
		errs = append(errs, err)
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.QoS < 0 || c.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS))
	}
	if c.TelemetryTopic == "" || c.RequestTopic == "" {
		errs = append(errs, errors.New("telemetry and request topics are required"))
	}
	if !strings.Contains(c.ReplyTopic, "{id}") {
		errs = append(errs, fmt.Errorf("reply topic %q must contain {id}", c.ReplyTopic))
	}
	return errors.Join(errs...)
}
