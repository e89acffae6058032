// Package config loads and validates the service configuration from YAML,
// with environment overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Influx    InfluxConfig    `yaml:"influx"`
	History   HistoryConfig   `yaml:"history"`
	Live      LiveConfig      `yaml:"live"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HotReload bool            `yaml:"hot_reload"`
}

// ServerConfig describes the HTTP/WebSocket listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig describes how to reach the telemetry broker.
type MQTTConfig struct {
	Broker               string     `yaml:"broker"`
	ClientID             string     `yaml:"client_id,omitempty"`
	Topic                string     `yaml:"topic,omitempty"`
	QoS                  byte       `yaml:"qos,omitempty"`
	Username             string     `yaml:"username,omitempty"`
	Password             string     `yaml:"password,omitempty"`
	KeepAlive            Duration   `yaml:"keep_alive,omitempty"`
	ConnectTimeout       Duration   `yaml:"connect_timeout,omitempty"`
	AutoReconnect        *bool      `yaml:"auto_reconnect,omitempty"`
	MaxReconnectInterval Duration   `yaml:"max_reconnect_interval,omitempty"`
	TLS                  *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig allows TLS broker connections to be configured.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
}

// InfluxConfig describes the durable time-series store. An empty token
// disables store I/O entirely; it never fails the process.
type InfluxConfig struct {
	URL           string   `yaml:"url"`
	Token         string   `yaml:"token,omitempty"`
	Org           string   `yaml:"org"`
	Bucket        string   `yaml:"bucket"`
	Measurement   string   `yaml:"measurement,omitempty"`
	FlushInterval Duration `yaml:"flush_interval,omitempty"`
}

// HistoryConfig bounds historical queries.
type HistoryConfig struct {
	MaxMinutes     int `yaml:"max_minutes"`
	DefaultMinutes int `yaml:"default_minutes"`
}

// LiveConfig tunes the live push path.
type LiveConfig struct {
	SendBuffer int `yaml:"send_buffer"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// LokiConfig forwards log lines to a Loki endpoint. Labels default to
// app=meteohub when none are configured.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// TelemetryConfig selects the metrics backend.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// Default returns the built-in configuration matching a single-broker,
// single-bucket deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":4000"},
		MQTT: MQTTConfig{
			Broker: "tcp://mosquitto:1883",
			Topic:  "meteo/+/reading",
		},
		Influx: InfluxConfig{
			URL:         "http://influxdb:8086",
			Org:         "meteo",
			Bucket:      "meteo",
			Measurement: "reading",
		},
		History: HistoryConfig{
			MaxMinutes:     12 * 60,
			DefaultMinutes: 15,
		},
		Live: LiveConfig{SendBuffer: 32},
	}
}

// Load reads the configuration file at path, fills in defaults and applies
// environment overrides. An empty path skips the file and yields a pure
// defaults-plus-environment configuration.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv keeps the environment variable names of the original deployment so
// existing compose files continue to work.
func applyEnv(cfg *Config) {
	setString(&cfg.MQTT.Broker, "MQTT_URL")
	setString(&cfg.MQTT.Username, "MQTT_USERNAME")
	setString(&cfg.MQTT.Password, "MQTT_PASSWORD")
	setString(&cfg.MQTT.Topic, "MQTT_TOPIC")
	setString(&cfg.Influx.URL, "INFLUX_URL")
	setString(&cfg.Influx.Token, "INFLUX_TOKEN")
	setString(&cfg.Influx.Org, "INFLUX_ORG")
	setString(&cfg.Influx.Bucket, "INFLUX_BUCKET")
	if port, ok := os.LookupEnv("BACKEND_PORT"); ok && port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			cfg.Server.Listen = ":" + port
		}
	}
}

func setString(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		*target = value
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":4000"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "meteo/+/reading"
	}
	if cfg.Influx.Measurement == "" {
		cfg.Influx.Measurement = "reading"
	}
	if cfg.History.MaxMinutes <= 0 {
		cfg.History.MaxMinutes = 12 * 60
	}
	if cfg.History.DefaultMinutes <= 0 {
		cfg.History.DefaultMinutes = 15
	}
	if cfg.Live.SendBuffer <= 0 {
		cfg.Live.SendBuffer = 32
	}
	if cfg.Logging.Loki.Enabled && len(cfg.Logging.Loki.Labels) == 0 {
		cfg.Logging.Loki.Labels = map[string]string{"app": "meteohub"}
	}
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration is nil")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic must not be empty")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.History.MaxMinutes <= 0 {
		return fmt.Errorf("history.max_minutes must be positive")
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		return fmt.Errorf("logging.loki.url is required when loki is enabled")
	}
	return nil
}
