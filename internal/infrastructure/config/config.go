package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge configuration. Load fills it from YAML on top of
// defaultConfig, then applies TRF_* environment overrides.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	TRF       TRFConfig       `yaml:"trf"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	OTA       OTAConfig       `yaml:"ota"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig locates the SQLite store. BusyTimeout is in seconds.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// TopicPrefix is prepended to every translated routing key. It plays the
	// role of the shared topic exchange. Empty means topics start at "/".
	TopicPrefix string `yaml:"topic_prefix"`

	// CleanSession false keeps durable queue subscriptions on the broker
	// across reconnects. It applies to the command connection; the ingest
	// connection always uses a persistent session.
	CleanSession bool `yaml:"clean_session"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds reconnect attempts. Delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// TRFConfig contains hub protocol settings.
type TRFConfig struct {
	CommandTimeoutMS    int    `yaml:"command_timeout_ms"`
	HTTPWaitMS          int    `yaml:"http_wait_ms"`
	HubRoutingPrefix    string `yaml:"hub_routing_prefix"`
	ReplyRoutingKey     string `yaml:"reply_routing_key"`
	TelemetryRoutingKey string `yaml:"telemetry_routing_key"`
	TelemetryQueue      string `yaml:"telemetry_queue"`
	Measurement         string `yaml:"measurement"`
}

// SchedulerConfig controls the ingest task supervisor.
type SchedulerConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	SoftTimeLimit time.Duration `yaml:"soft_time_limit"`
	TimeLimit     time.Duration `yaml:"time_limit"`
}

// APIConfig is the HTTP listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds http.Server timeouts, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists allowed origins. Empty methods and headers fall back to
// the router defaults.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig tunes the live feed. Intervals are in seconds.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig configures the time-series sink. FlushInterval is in
// seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// OTAConfig points at the firmware directory served to hubs.
type OTAConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig selects level (debug|info|warn|error), format (json|text)
// and output (stdout|stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds a Config from path. Values come from defaultConfig, then the
// file, then TRF_SECTION_KEY environment variables (TRF_DATABASE_PATH,
// TRF_MQTT_HOST, ...). The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig is the baseline every file is merged onto.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "trf-site",
			Name: "TRF",
		},
		Database: DatabaseConfig{
			Path:        "./data/trf.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "trf-bridge",
			},
			QoS:          1,
			CleanSession: true,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     30,
				MaxAttempts:  3,
			},
		},
		TRF: TRFConfig{
			CommandTimeoutMS:    3000,
			HTTPWaitMS:          5000,
			HubRoutingPrefix:    ".trf.hub.",
			ReplyRoutingKey:     ".trf.server.*",
			TelemetryRoutingKey: ".trf.server.message.*",
			TelemetryQueue:      "trf_queue",
			Measurement:         "sensor_reading",
		},
		Scheduler: SchedulerConfig{
			CheckInterval: 30 * time.Second,
			SoftTimeLimit: 100 * time.Hour,
			TimeLimit:     200 * time.Hour,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		OTA: OTAConfig{
			Dir: "./data/ota",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides copies non-empty TRF_* variables over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRF_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("TRF_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TRF_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TRF_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("TRF_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("TRF_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("TRF_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("TRF_OTA_DIR"); v != "" {
		cfg.OTA.Dir = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "mqtt.reconnect.max_attempts must be at least 1")
	}

	if c.TRF.CommandTimeoutMS <= 0 {
		errs = append(errs, "trf.command_timeout_ms must be positive")
	}
	if c.TRF.HTTPWaitMS < c.TRF.CommandTimeoutMS {
		errs = append(errs, "trf.http_wait_ms must not be shorter than trf.command_timeout_ms")
	}
	if c.TRF.TelemetryQueue == "" {
		errs = append(errs, "trf.telemetry_queue is required")
	}
	if c.TRF.Measurement == "" {
		errs = append(errs, "trf.measurement is required")
	}

	if c.Scheduler.CheckInterval <= 0 {
		errs = append(errs, "scheduler.check_interval must be positive")
	}
	if c.Scheduler.TimeLimit > 0 && c.Scheduler.TimeLimit < c.Scheduler.SoftTimeLimit {
		errs = append(errs, "scheduler.time_limit must not be shorter than scheduler.soft_time_limit")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CommandTimeout returns the correlator reply timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.TRF.CommandTimeoutMS) * time.Millisecond
}

// HTTPWait returns how long the command endpoint waits on the facade.
func (c *Config) HTTPWait() time.Duration {
	return time.Duration(c.TRF.HTTPWaitMS) * time.Millisecond
}
