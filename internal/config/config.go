package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tejusbharadwaj/pulsegate/internal/counter"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/scheduler"
)

// EnvPrefix prefixes environment overrides, e.g. PULSEGATE_PLC_ADDRESS.
const EnvPrefix = "PULSEGATE"

// Config holds all configuration for our application
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	PLC      PLCConfig            `mapstructure:"plc"`
	Database DatabaseConfig       `mapstructure:"database"`
	MQTT     MQTTConfig           `mapstructure:"mqtt"`
	State    StateConfig          `mapstructure:"state"`
	Schedule ScheduleConfig       `mapstructure:"schedule"`
	Logging  LoggingConfig        `mapstructure:"logging"`
	Meters   []models.MeterConfig `mapstructure:"meters"`
}

type ServerConfig struct {
	Host           string  `mapstructure:"host"`
	GRPCPort       int     `mapstructure:"grpc_port"`
	MetricsPort    int     `mapstructure:"metrics_port"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	PollRate       float64 `mapstructure:"poll_rate"`
	PollBurst      int     `mapstructure:"poll_burst"`
}

type PLCConfig struct {
	Address           string        `mapstructure:"address"`
	SlaveID           int           `mapstructure:"slave_id"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	ResetRegister     int           `mapstructure:"reset_register"`
	ResetHold         time.Duration `mapstructure:"reset_hold"`
	PingBeforeConnect bool          `mapstructure:"ping_before_connect"`
	MeterRefresh      time.Duration `mapstructure:"meter_refresh"`
}

type DatabaseConfig struct {
	Driver            string        `mapstructure:"driver"`
	Path              string        `mapstructure:"path"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Name              string        `mapstructure:"name"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ConnectionTimeout int           `mapstructure:"connection_timeout"`
	CacheSize         int           `mapstructure:"cache_size"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
}

// PostgresDSN builds a lib/pq connection string.
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.ConnectionTimeout,
	)
}

type MQTTConfig struct {
	Broker        string        `mapstructure:"broker"`
	ClientID      string        `mapstructure:"client_id"`
	TopicPrefix   string        `mapstructure:"topic_prefix"`
	QoS           int           `mapstructure:"qos"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type StateConfig struct {
	Path string `mapstructure:"path"`
}

type ScheduleConfig struct {
	Timezone string          `mapstructure:"timezone"`
	Jobs     scheduler.Specs `mapstructure:"jobs"`
}

// Location resolves the timezone used for local midnight and calendar dates.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	// Convert the map to YAML again
	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	// Expand environment variables
	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(strings.NewReader(expandedData)); err != nil {
		return nil, fmt.Errorf("failed to read expanded config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.PLC.Address == "" {
		errs = append(errs, errors.New("plc.address is required"))
	}
	if c.PLC.SlaveID < 0 || c.PLC.SlaveID > 247 {
		errs = append(errs, fmt.Errorf("plc.slave_id %d out of range [0, 247]", c.PLC.SlaveID))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Database.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("database.max_connections %d must not be negative", c.Database.MaxConnections))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range [0, 2]", c.MQTT.QoS))
	}
	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}

	seen := make(map[string]bool, len(c.Meters))
	for i, m := range c.Meters {
		if err := models.ValidateMeterID(m.MeterID); err != nil {
			errs = append(errs, fmt.Errorf("meters[%d]: %w", i, err))
			continue
		}
		if seen[m.MeterID] {
			errs = append(errs, fmt.Errorf("meters[%d]: duplicate meter_id %q", i, m.MeterID))
		}
		seen[m.MeterID] = true
		if err := counter.CheckPulseVolume(m.PulseVolumeLiters); err != nil {
			errs = append(errs, fmt.Errorf("meters[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.metrics_port", 9100)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.poll_rate", 1.0)
	v.SetDefault("server.poll_burst", 2)

	v.SetDefault("plc.slave_id", 1)
	v.SetDefault("plc.poll_interval", "1s")
	v.SetDefault("plc.timeout", "2s")
	v.SetDefault("plc.failure_threshold", 3)
	v.SetDefault("plc.reset_register", 40100)
	v.SetDefault("plc.reset_hold", "500ms")
	v.SetDefault("plc.ping_before_connect", false)
	v.SetDefault("plc.meter_refresh", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "/var/lib/pulsegate/gateway.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connection_timeout", 5)
	v.SetDefault("database.cache_size", 256)
	v.SetDefault("database.health_interval", "30s")

	v.SetDefault("mqtt.client_id", "pulsegate")
	v.SetDefault("mqtt.topic_prefix", "gateway")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", "10s")
	v.SetDefault("mqtt.retry_interval", "30s")

	v.SetDefault("state.path", "/var/lib/pulsegate/runtime_state.json")

	v.SetDefault("schedule.timezone", "Local")
	v.SetDefault("schedule.jobs.midnight_reset", scheduler.DefaultSpecs.MidnightReset)
	v.SetDefault("schedule.jobs.daily_rollup", scheduler.DefaultSpecs.DailyRollup)
	v.SetDefault("schedule.jobs.monthly_rollup", scheduler.DefaultSpecs.MonthlyRollup)
	v.SetDefault("schedule.jobs.live_publish", scheduler.DefaultSpecs.LivePublish)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
