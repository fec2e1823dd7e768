package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ugps-bridge/internal/logging"
)

type Config struct {
	UGPS      UGPSConfig      `yaml:"ugps"`
	Mavlink   MavlinkConfig   `yaml:"mavlink"`
	QGC       QGCConfig       `yaml:"qgc"`
	Intervals IntervalsConfig `yaml:"intervals"`
	Ingress   IngressConfig   `yaml:"ingress"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

type UGPSConfig struct {
	Host           string        `yaml:"host"`
	Timeout        time.Duration `yaml:"timeout"`
	IgnoreGPS      bool          `yaml:"ignore_gps"`
	IgnoreAcoustic bool          `yaml:"ignore_acoustic"`
}

type MavlinkConfig struct {
	Host            string        `yaml:"host"`
	Timeout         time.Duration `yaml:"timeout"`
	SystemID        int           `yaml:"system_id"`
	ComponentID     int           `yaml:"component_id"`
	TargetSystem    int           `yaml:"target_system"`
	TargetComponent int           `yaml:"target_component"`
	// Setup requests telemetry streams and sets GPS_TYPE at startup.
	Setup bool `yaml:"setup"`
}

// QGCConfig is the ground control NMEA destination. An empty IP disables it.
type QGCConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

func (q QGCConfig) Enabled() bool { return strings.TrimSpace(q.IP) != "" }

func (q QGCConfig) Dest() string {
	return net.JoinHostPort(strings.TrimSpace(q.IP), strconv.Itoa(q.Port))
}

type IntervalsConfig struct {
	Fusion  time.Duration `yaml:"fusion"`
	Mavlink time.Duration `yaml:"mavlink"`
	Depth   time.Duration `yaml:"depth"`
	NMEA    time.Duration `yaml:"nmea"`
	MQTT    time.Duration `yaml:"mqtt"`
}

type IngressConfig struct {
	// Orientation also forwards the vehicle heading to the device.
	Orientation bool `yaml:"orientation"`
}

// MQTTConfig mirrors fused positions to a broker. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

func (m MQTTConfig) Enabled() bool { return strings.TrimSpace(m.Broker) != "" }

// WebConfig serves the status API. An empty Listen disables it.
type WebConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	// TimestampedFile writes to a new log_<time>.txt in the working
	// directory when File is empty.
	TimestampedFile bool `yaml:"timestamped_file"`
}

const (
	DefaultUGPSHost    = "https://demo.waterlinked.com"
	DefaultMavlinkHost = "http://blueos.local:6040"
	DefaultQGCIP       = "192.168.2.2"
	DefaultQGCPort     = 14401
	DefaultUpdate      = 250 * time.Millisecond

	minInterval = 10 * time.Millisecond
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		UGPS: UGPSConfig{Host: DefaultUGPSHost, Timeout: time.Second},
		Mavlink: MavlinkConfig{
			Host:            DefaultMavlinkHost,
			Timeout:         time.Second,
			SystemID:        1,
			ComponentID:     220,
			TargetSystem:    1,
			TargetComponent: 1,
			Setup:           true,
		},
		QGC: QGCConfig{IP: DefaultQGCIP, Port: DefaultQGCPort},
		Intervals: IntervalsConfig{
			Fusion:  DefaultUpdate,
			Mavlink: DefaultUpdate,
			Depth:   DefaultUpdate,
			NMEA:    time.Second,
			MQTT:    time.Second,
		},
		Ingress: IngressConfig{Orientation: true},
		MQTT:    MQTTConfig{Topic: "ugps/fused", ClientID: "ugps-bridge"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads a YAML file over Default and validates the result. Unknown
// keys are rejected.
func Load(path string) (Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.DefaultAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SetUpdatePeriod sets the fusion, autopilot and depth intervals together.
func (c *Config) SetUpdatePeriod(d time.Duration) {
	c.Intervals.Fusion = d
	c.Intervals.Mavlink = d
	c.Intervals.Depth = d
}

// DefaultAndValidate fills zero values that have a default and rejects
// configurations the bridge cannot start with.
func (c *Config) DefaultAndValidate() error {
	c.UGPS.Host = strings.TrimSpace(c.UGPS.Host)
	c.Mavlink.Host = strings.TrimSpace(c.Mavlink.Host)
	c.QGC.IP = strings.TrimSpace(c.QGC.IP)
	c.MQTT.Broker = strings.TrimSpace(c.MQTT.Broker)
	c.Web.Listen = strings.TrimSpace(c.Web.Listen)

	if c.UGPS.Host == "" {
		return fmt.Errorf("ugps.host is required")
	}
	if err := validateHTTPURL(c.UGPS.Host); err != nil {
		return fmt.Errorf("ugps.host: %w", err)
	}
	if c.Mavlink.Host == "" {
		return fmt.Errorf("mavlink.host is required")
	}
	if err := validateHTTPURL(c.Mavlink.Host); err != nil {
		return fmt.Errorf("mavlink.host: %w", err)
	}
	if c.UGPS.Timeout <= 0 {
		c.UGPS.Timeout = time.Second
	}
	if c.Mavlink.Timeout <= 0 {
		c.Mavlink.Timeout = time.Second
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"mavlink.system_id", c.Mavlink.SystemID},
		{"mavlink.component_id", c.Mavlink.ComponentID},
		{"mavlink.target_system", c.Mavlink.TargetSystem},
		{"mavlink.target_component", c.Mavlink.TargetComponent},
	} {
		if f.v < 1 || f.v > 255 {
			return fmt.Errorf("%s must be within 1..255", f.name)
		}
	}

	if c.QGC.Port == 0 {
		c.QGC.Port = DefaultQGCPort
	}
	if c.QGC.Port < 1 || c.QGC.Port > 65535 {
		return fmt.Errorf("qgc.port must be within 1..65535")
	}

	def := Default().Intervals
	for _, f := range []struct {
		name string
		v    *time.Duration
		def  time.Duration
	}{
		{"intervals.fusion", &c.Intervals.Fusion, def.Fusion},
		{"intervals.mavlink", &c.Intervals.Mavlink, def.Mavlink},
		{"intervals.depth", &c.Intervals.Depth, def.Depth},
		{"intervals.nmea", &c.Intervals.NMEA, def.NMEA},
		{"intervals.mqtt", &c.Intervals.MQTT, def.MQTT},
	} {
		if *f.v == 0 {
			*f.v = f.def
		}
		if *f.v < minInterval {
			return fmt.Errorf("%s must be >= %s", f.name, minInterval)
		}
	}

	if c.MQTT.Enabled() {
		if strings.TrimSpace(c.MQTT.Topic) == "" {
			c.MQTT.Topic = "ugps/fused"
		}
		if strings.TrimSpace(c.MQTT.ClientID) == "" {
			c.MQTT.ClientID = "ugps-bridge"
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if c.Web.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Web.Listen); err != nil {
			return fmt.Errorf("web.listen: %w", err)
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "json"
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must start with http:// or https://", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
