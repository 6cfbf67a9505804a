package main

import (
	"time"

	"github.com/spf13/cobra"
)

// flagValues holds the raw flag values; only flags set on the command line override the config.
type flagValues struct {
	configPath string

	name        string
	hostname    string
	port        int
	secretToken string

	temperatures []string
	initialValue float64
	interval     time.Duration

	qos              int
	telemetryTopic   string
	replyTopic       string
	requestTopic     string
	outboundCapacity int
	inboundCapacity  int

	httpPort int
	grpcPort int

	influxURL    string
	influxToken  string
	influxOrg    string
	influxBucket string

	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&flagValues{})
}

func buildRootCmd(f *flagValues) *cobra.Command {
	def := loadConfig()

	cmd := &cobra.Command{
		Use:   "fleet-sim",
		Short: "Simulate a fleet of temperature sensors on an MQTT device API",
		Long: `fleet-sim connects to an MQTT broker as a single device and simulates a fleet
of temperature sensors behind it. Every sensor reports telemetry periodically
and answers get/set RPC requests addressed to it as "get-<label>" / "set-<label>".`,
		Example: `  # Two sensors against a local ThingsBoard
  fleet-sim --hostname localhost --secret-token $TOKEN --temperature temp1 --temperature temp2

  # Per-sensor initial values, JSON logs
  fleet-sim --secret-token $TOKEN --temperature boiler=60 --temperature room=19.5 --log-format json

  # Everything from a file
  fleet-sim --config fleet.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	fl.StringVarP(&f.name, "name", "n", def.Name, "MQTT client id (random when empty)")
	fl.StringVarP(&f.hostname, "hostname", "H", def.Hostname, "MQTT broker host")
	fl.IntVarP(&f.port, "port", "p", def.Port, "MQTT broker port")
	fl.StringVarP(&f.secretToken, "secret-token", "s", def.SecretToken, "Device access token (sent as MQTT username)")
	fl.StringArrayVarP(&f.temperatures, "temperature", "t", def.Sensors, "Sensor to simulate, as label or label=initial (repeatable)")
	fl.Float64Var(&f.initialValue, "initial-value", def.InitialValue, "Initial reading of sensors without an explicit one")
	fl.DurationVar(&f.interval, "interval", def.Interval, "Telemetry interval")
	fl.IntVar(&f.qos, "qos", def.QoS, "MQTT QoS for publish and subscribe (0-2)")
	fl.StringVar(&f.telemetryTopic, "telemetry-topic", def.TelemetryTopic, "Telemetry topic")
	fl.StringVar(&f.replyTopic, "reply-topic", def.ReplyTopic, "RPC reply topic template, {id} is the request id")
	fl.StringVar(&f.requestTopic, "request-topic", def.RequestTopic, "RPC request subscription")
	fl.IntVar(&f.outboundCapacity, "outbound-capacity", def.OutboundCapacity, "Capacity of the queue shared by all sensors")
	fl.IntVar(&f.inboundCapacity, "inbound-capacity", def.InboundCapacity, "Command backlog per sensor")
	fl.IntVar(&f.httpPort, "http-port", def.HTTPPort, "Port for /metrics, /healthz and /readyz (0 disables)")
	fl.IntVar(&f.grpcPort, "grpc-port", def.GRPCPort, "Port for the gRPC health service (0 disables)")
	fl.StringVar(&f.influxURL, "influx-url", def.Influx.URL, "InfluxDB URL for telemetry history (empty disables)")
	fl.StringVar(&f.influxToken, "influx-token", def.Influx.Token, "InfluxDB token")
	fl.StringVar(&f.influxOrg, "influx-org", def.Influx.Org, "InfluxDB organization")
	fl.StringVar(&f.influxBucket, "influx-bucket", def.Influx.Bucket, "InfluxDB bucket")
	fl.StringVar(&f.logLevel, "log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	fl.StringVar(&f.logFormat, "log-format", def.LogFormat, "Log format (text, json)")

	return cmd
}

// resolveConfig applies env defaults, then the config file, then explicitly set flags.
func resolveConfig(cmd *cobra.Command, f *flagValues) (Config, error) {
	cfg := loadConfig()
	if f.configPath != "" {
		if err := mergeFile(&cfg, f.configPath); err != nil {
			return Config{}, err
		}
	}

	changed := cmd.Flags().Changed
	set := func(name string, apply func()) {
		if changed(name) {
			apply()
		}
	}
	set("name", func() { cfg.Name = f.name })
	set("hostname", func() { cfg.Hostname = f.hostname })
	set("port", func() { cfg.Port = f.port })
	set("secret-token", func() { cfg.SecretToken = f.secretToken })
	set("temperature", func() { cfg.Sensors = f.temperatures })
	set("initial-value", func() { cfg.InitialValue = f.initialValue })
	set("interval", func() { cfg.Interval = f.interval })
	set("qos", func() { cfg.QoS = f.qos })
	set("telemetry-topic", func() { cfg.TelemetryTopic = f.telemetryTopic })
	set("reply-topic", func() { cfg.ReplyTopic = f.replyTopic })
	set("request-topic", func() { cfg.RequestTopic = f.requestTopic })
	set("outbound-capacity", func() { cfg.OutboundCapacity = f.outboundCapacity })
	set("inbound-capacity", func() { cfg.InboundCapacity = f.inboundCapacity })
	set("http-port", func() { cfg.HTTPPort = f.httpPort })
	set("grpc-port", func() { cfg.GRPCPort = f.grpcPort })
	set("influx-url", func() { cfg.Influx.URL = f.influxURL })
	set("influx-token", func() { cfg.Influx.Token = f.influxToken })
	set("influx-org", func() { cfg.Influx.Org = f.influxOrg })
	set("influx-bucket", func() { cfg.Influx.Bucket = f.influxBucket })
	set("log-level", func() { cfg.LogLevel = f.logLevel })
	set("log-format", func() { cfg.LogFormat = f.logFormat })

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
