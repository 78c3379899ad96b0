package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port           string   `json:"port"`
	WebFilesDir    string   `json:"web_files_dir"`
	AllowedOrigins []string `json:"allowed_origins"`
	MetricsEnabled bool     `json:"metrics_enabled"`
}

// DeviceConfig describes how to reach the vendor service.
type DeviceConfig struct {
	Mock            bool    `json:"mock"`
	Bus             string  `json:"bus"`
	Destination     string  `json:"destination"`
	ObjectPath      string  `json:"object_path"`
	Interface       string  `json:"interface"`
	CallTimeout     string  `json:"call_timeout"`
	RefreshInterval string  `json:"refresh_interval"`
	RateLimit       float64 `json:"write_rate_limit"`
	RateBurst       int     `json:"write_rate_burst"`

	callTimeout     time.Duration
	refreshInterval time.Duration
}

// CallTimeoutDuration is CallTimeout parsed by Load.
func (d DeviceConfig) CallTimeoutDuration() time.Duration { return d.callTimeout }

// RefreshIntervalDuration is RefreshInterval parsed by Load. Zero disables polling.
func (d DeviceConfig) RefreshIntervalDuration() time.Duration { return d.refreshInterval }

// MQTTConfig holds the MQTT and Home Assistant discovery settings.
type MQTTConfig struct {
	Enabled            bool   `json:"enabled"`
	Broker             string `json:"broker"` // tcp://IP:PORT
	Username           string `json:"username"`
	Password           string `json:"password"`
	ClientID           string `json:"client_id"`
	TopicPrefix        string `json:"topic_prefix"`
	HADiscoveryEnabled bool   `json:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `json:"ha_discovery_prefix"`
}

// Config is the agent configuration.
type Config struct {
	Server   ServerConfig `json:"server"`
	Device   DeviceConfig `json:"device"`
	MQTT     MQTTConfig   `json:"mqtt"`
	LogLevel string       `json:"log_level"`

	RoutinesDir   string `json:"routines_dir"`
	SchedulesFile string `json:"schedules_file"`
}

// Load reads the JSON file at path, applies SPLENDID_* environment overrides,
// fills defaults and validates. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	case os.IsNotExist(err):
		log.WithField("path", path).Debug("config file not found, using defaults")
	default:
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}

	cfg.applyEnv()
	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("SPLENDID_PORT", c.Server.Port)
	c.Server.MetricsEnabled = getEnvBool("SPLENDID_METRICS", c.Server.MetricsEnabled)
	c.Device.Mock = getEnvBool("SPLENDID_MOCK", c.Device.Mock)
	c.Device.Bus = getEnv("SPLENDID_BUS", c.Device.Bus)
	c.MQTT.Enabled = getEnvBool("SPLENDID_MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("SPLENDID_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = getEnv("SPLENDID_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("SPLENDID_MQTT_PASSWORD", c.MQTT.Password)
	c.LogLevel = getEnv("SPLENDID_LOG_LEVEL", c.LogLevel)
}

func (c *Config) sanitize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.Device.Bus = strings.ToLower(strings.TrimSpace(c.Device.Bus))
	c.Device.Destination = strings.TrimSpace(c.Device.Destination)
	c.Device.ObjectPath = strings.TrimSpace(c.Device.ObjectPath)
	c.Device.Interface = strings.TrimSpace(c.Device.Interface)
	c.MQTT.TopicPrefix = strings.Trim(strings.TrimSpace(c.MQTT.TopicPrefix), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.RoutinesDir = strings.TrimSpace(c.RoutinesDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WebFilesDir == "" {
		c.Server.WebFilesDir = "./web"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:" + c.Server.Port}
	}

	if c.Device.Bus == "" {
		c.Device.Bus = "system"
	}
	if c.Device.Destination == "" {
		c.Device.Destination = "com.asus.Splendid"
	}
	if c.Device.ObjectPath == "" {
		c.Device.ObjectPath = "/com/asus/Splendid"
	}
	if c.Device.Interface == "" {
		c.Device.Interface = "com.asus.Splendid"
	}
	if c.Device.CallTimeout == "" {
		c.Device.CallTimeout = "2s"
	}
	if c.Device.RefreshInterval == "" {
		c.Device.RefreshInterval = "30s"
	}
	if c.Device.RateLimit == 0 {
		c.Device.RateLimit = 20
	}
	if c.Device.RateBurst == 0 {
		c.Device.RateBurst = 5
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RoutinesDir == "" {
		c.RoutinesDir = "routines"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "splendid-controller"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "splendid"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}
}

func (c *Config) validate() error {
	if c.Device.Bus != "system" && c.Device.Bus != "session" {
		return fmt.Errorf("config error: 'device.bus' must be \"system\" or \"session\", got %q", c.Device.Bus)
	}
	if c.Device.RateLimit < 0 {
		return fmt.Errorf("config error: 'device.write_rate_limit' must be positive")
	}
	if c.Device.RateBurst < 0 {
		return fmt.Errorf("config error: 'device.write_rate_burst' must be positive")
	}

	var err error
	if c.Device.callTimeout, err = time.ParseDuration(c.Device.CallTimeout); err != nil || c.Device.callTimeout <= 0 {
		return fmt.Errorf("config error: invalid 'device.call_timeout' %q", c.Device.CallTimeout)
	}
	if c.Device.refreshInterval, err = time.ParseDuration(c.Device.RefreshInterval); err != nil || c.Device.refreshInterval < 0 {
		return fmt.Errorf("config error: invalid 'device.refresh_interval' %q", c.Device.RefreshInterval)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("config error: invalid 'server.port' %q", c.Server.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
