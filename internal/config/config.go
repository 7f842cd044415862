// Package config loads the monitor settings from the environment, optionally
// overlaid by a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/flow-monitor/pkg/rabbitmq"
)

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	DailyBucket string `yaml:"daily_bucket"`
}

func (c InfluxConfig) Enabled() bool { return c.URL != "" && c.Token != "" }

type NtfyConfig struct {
	URL   string `yaml:"url"`
	Topic string `yaml:"topic"`

	// TopicFile holds the topic when Topic is empty, so the secret can live
	// outside the main config.
	TopicFile string `yaml:"topic_file"`
}

type Config struct {
	RachioAPIKey string `yaml:"rachio_api_key"`
	RachioDevice string `yaml:"rachio_device"`
	// Empty URLs use the public Rachio endpoints.
	RachioPublicURL string `yaml:"rachio_public_url"`
	RachioCloudURL  string `yaml:"rachio_cloud_url"`

	MeterHost    string        `yaml:"meter_host"`
	MeterTimeout time.Duration `yaml:"meter_timeout"`

	// PublicURL is the externally reachable base URL; when empty the ngrok
	// agent at NgrokHost is asked for its tunnel.
	PublicURL   string `yaml:"public_url"`
	NgrokHost   string `yaml:"ngrok_host"`
	HTTPPort    int    `yaml:"http_port"`
	WebhookPath string `yaml:"webhook_path"`

	Influx InfluxConfig            `yaml:"influx"`
	Ntfy   NtfyConfig              `yaml:"ntfy"`
	MQTT   rabbitmq.RabbitMQConfig `yaml:"mqtt"`

	LeakCheckHour   int           `yaml:"leak_check_hour"`
	LeakThreshold   float64       `yaml:"leak_threshold"`
	SelfTestWait    time.Duration `yaml:"self_test_wait"`
	FlowSettleDelay time.Duration `yaml:"flow_settle_delay"`
	// FlowLimits is the flow ceiling in gpm per zone number.
	FlowLimits map[int]float64 `yaml:"flow_limits"`

	Timezone      string        `yaml:"tz"`
	QueueSize     int           `yaml:"queue_size"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// FromEnv reads every setting from the environment, falling back to defaults.
func FromEnv() (Config, error) {
	limits, err := ParseFlowLimits(os.Getenv("FLOW_LIMITS"))
	if err != nil {
		return Config{}, err
	}
	return Config{
		RachioAPIKey:    envStr("RACHIO_API_KEY", ""),
		RachioDevice:    envStr("RACHIO_DEVICE", ""),
		RachioPublicURL: envStr("RACHIO_PUBLIC_URL", ""),
		RachioCloudURL:  envStr("RACHIO_CLOUD_URL", ""),

		MeterHost:    envStr("METER_HOST", ""),
		MeterTimeout: envDuration("METER_TIMEOUT", 5*time.Second),

		PublicURL:   envStr("PUBLIC_URL", ""),
		NgrokHost:   envStr("NGROK_HOST", "localhost"),
		HTTPPort:    envInt("HTTP_PORT", 8080),
		WebhookPath: envStr("WEBHOOK_PATH", "/rachio.json"),

		Influx: InfluxConfig{
			URL:         envStr("INFLUX_URL", "http://localhost:8086"),
			Token:       os.Getenv("INFLUX_TOKEN"),
			Org:         envStr("INFLUX_ORG", "home"),
			Bucket:      envStr("INFLUX_BUCKET", "irrigation"),
			DailyBucket: envStr("INFLUX_DAILY_BUCKET", ""),
		},
		Ntfy: NtfyConfig{
			URL:       envStr("NTFY_URL", "https://ntfy.sh"),
			Topic:     envStr("NTFY_TOPIC", ""),
			TopicFile: envStr("NTFY_TOPIC_FILE", ""),
		},
		MQTT: rabbitmq.RabbitMQConfig{
			Host:     envStr("RABBITMQ_HOST", ""),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     envStr("RABBITMQ_USER", "guest"),
			Password: envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID: envStr("HOSTNAME", "flow-monitor"),
		},

		LeakCheckHour:   envInt("LEAK_CHECK_HOUR", 23),
		LeakThreshold:   envFloat("LEAK_THRESHOLD", 0.1),
		SelfTestWait:    envDuration("SELF_TEST_WAIT", 10*time.Second),
		FlowSettleDelay: envDuration("FLOW_SETTLE_DELAY", 20*time.Second),
		FlowLimits:      limits,

		Timezone:      envStr("TZ", ""),
		QueueSize:     envInt("QUEUE_SIZE", 256),
		ShutdownGrace: envDuration("SHUTDOWN_GRACE", 5*time.Second),
	}, nil
}

// Load reads the environment and then applies the YAML file at path, if any.
// Keys present in the file win. An empty ntfy topic is read from
// ntfy.topic_file when one is set.
func Load(path string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if cfg.Ntfy.Topic == "" && cfg.Ntfy.TopicFile != "" {
		b, err := os.ReadFile(cfg.Ntfy.TopicFile)
		if err != nil {
			return Config{}, fmt.Errorf("ntfy topic: %w", err)
		}
		cfg.Ntfy.Topic = strings.TrimSpace(string(b))
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.RachioAPIKey == "" {
		errs = append(errs, errors.New("RACHIO_API_KEY is required"))
	}
	if c.RachioDevice == "" {
		errs = append(errs, errors.New("RACHIO_DEVICE is required"))
	}
	if c.MeterHost == "" {
		errs = append(errs, errors.New("METER_HOST is required"))
	}
	if c.PublicURL == "" && c.NgrokHost == "" {
		errs = append(errs, errors.New("PUBLIC_URL or NGROK_HOST is required"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d out of range", c.HTTPPort))
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("WEBHOOK_PATH %q must start with /", c.WebhookPath))
	}
	if c.LeakCheckHour < 0 || c.LeakCheckHour > 23 {
		errs = append(errs, fmt.Errorf("LEAK_CHECK_HOUR %d out of range", c.LeakCheckHour))
	}
	for zone, limit := range c.FlowLimits {
		if limit <= 0 {
			errs = append(errs, fmt.Errorf("flow limit for zone %d must be positive", zone))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location is the zone used to schedule the nightly check.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TZ %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DailyBucketOrDefault falls back to the runs bucket.
func (c InfluxConfig) DailyBucketOrDefault() string {
	if c.DailyBucket != "" {
		return c.DailyBucket
	}
	return c.Bucket
}

// ParseFlowLimits parses "3=2.5,4=3.1" into zone number -> gpm.
func ParseFlowLimits(s string) (map[int]float64, error) {
	out := map[int]float64{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("FLOW_LIMITS: %q is not zone=gpm", part)
		}
		zone, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("FLOW_LIMITS: zone %q: %w", k, err)
		}
		limit, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("FLOW_LIMITS: limit %q: %w", v, err)
		}
		out[zone] = limit
	}
	return out, nil
}
