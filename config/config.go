// Package config loads and validates the signal core configuration from
// JSON or YAML files, with environment overrides for deployment-specific
// values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/signalcore/errors"
)

// EnvTransportURL overrides the configured bus URL when set.
const EnvTransportURL = "SIGNALCORE_NATS_URL"

// Duration is a time.Duration that unmarshals from strings like "250ms"
// in both JSON and YAML.
type Duration time.Duration

// D returns the native duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) parse(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Transport configures the bus connection.
type Transport struct {
	URL              string   `json:"url" yaml:"url"`
	Name             string   `json:"name" yaml:"name"`
	MaxReconnects    int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait    Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	ConnectTimeout   Duration `json:"connect_timeout" yaml:"connect_timeout"`
	DrainTimeout     Duration `json:"drain_timeout" yaml:"drain_timeout"`
	CircuitThreshold int32    `json:"circuit_threshold" yaml:"circuit_threshold"`
	MaxBackoff       Duration `json:"max_backoff" yaml:"max_backoff"`
}

// Staleness configures the staleness monitor.
type Staleness struct {
	SweepInterval Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// Notifier configures the change notifier.
type Notifier struct {
	FlushInterval    Duration `json:"flush_interval" yaml:"flush_interval"`
	SubscriberBuffer int      `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// Smoother configures the speed smoother.
type Smoother struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Interval Duration `json:"interval" yaml:"interval"`
	MaxRate  float64  `json:"max_rate" yaml:"max_rate"`
}

// Trip configures the trip aggregator.
type Trip struct {
	MaxSampleGap Duration `json:"max_sample_gap" yaml:"max_sample_gap"`
	// PersistenceBucket enables trip-state persistence in the named
	// JetStream KV bucket. Empty keeps trip state volatile.
	PersistenceBucket string `json:"persistence_bucket" yaml:"persistence_bucket"`
}

// HTTP configures the binary's HTTP listener (metrics, health, websocket).
type HTTP struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Config is the root configuration.
type Config struct {
	Transport Transport `json:"transport" yaml:"transport"`
	// Topics lists subscribed topic paths. Each needs a decode descriptor;
	// a topic without one is skipped at startup with a configuration
	// error, leaving the other subscriptions running.
	Topics    []string  `json:"topics" yaml:"topics"`
	Staleness Staleness `json:"staleness" yaml:"staleness"`
	Notifier  Notifier  `json:"notifier" yaml:"notifier"`
	Smoother  Smoother  `json:"smoother" yaml:"smoother"`
	Trip      Trip      `json:"trip" yaml:"trip"`
	HTTP      HTTP      `json:"http" yaml:"http"`
}

// Default returns the stock configuration covering the default dashboard
// topic plan.
func Default() *Config {
	return &Config{
		Transport: Transport{
			URL:              "nats://localhost:4222",
			Name:             "signalcore",
			MaxReconnects:    -1,
			ReconnectWait:    Duration(2 * time.Second),
			ConnectTimeout:   Duration(5 * time.Second),
			DrainTimeout:     Duration(10 * time.Second),
			CircuitThreshold: 5,
			MaxBackoff:       Duration(time.Minute),
		},
		Topics: []string{
			"vehicle/speed",
			"vehicle/battery/state",
			"vehicle/lock/state",
			"vehicle/exterior/temp",
			"vehicle/trip/data",
			"vehicle/telltale/left",
			"vehicle/telltale/right",
			"vehicle/telltale/highbeam",
			"vehicle/telltale/fog",
			"vehicle/telltale/brake",
			"vehicle/telltale/park",
			"vehicle/telltale/tire",
		},
		Staleness: Staleness{
			SweepInterval: Duration(250 * time.Millisecond),
		},
		Notifier: Notifier{
			FlushInterval:    Duration(50 * time.Millisecond),
			SubscriberBuffer: 64,
		},
		Smoother: Smoother{
			Enabled:  true,
			Interval: Duration(16 * time.Millisecond),
			MaxRate:  80,
		},
		Trip: Trip{
			MaxSampleGap: Duration(5 * time.Second),
		},
		HTTP: HTTP{
			Addr: ":8090",
		},
	}
}

// Load reads a configuration file (JSON or YAML by extension) on top of the
// defaults and applies environment overrides. An empty path returns the
// defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if url := os.Getenv(EnvTransportURL); url != "" {
		c.Transport.URL = url
	}
}

// Validate checks the configuration before use.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
			"Config", "Validate", "check configuration")
	}

	if c.Transport.URL == "" {
		return fail("transport url is required")
	}
	if len(c.Topics) == 0 {
		return fail("at least one topic is required")
	}
	for _, t := range c.Topics {
		if t == "" {
			return fail("empty topic")
		}
	}
	if c.Staleness.SweepInterval.D() <= 0 {
		return fail("staleness sweep interval must be positive")
	}
	if c.Notifier.FlushInterval.D() <= 0 {
		return fail("notifier flush interval must be positive")
	}
	if c.Notifier.SubscriberBuffer <= 0 {
		return fail("notifier subscriber buffer must be positive")
	}
	if c.Smoother.Enabled {
		if c.Smoother.Interval.D() <= 0 {
			return fail("smoother interval must be positive")
		}
		if c.Smoother.MaxRate <= 0 {
			return fail("smoother max rate must be positive")
		}
	}
	if c.Trip.MaxSampleGap.D() <= 0 {
		return fail("trip max sample gap must be positive")
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Topics = append([]string(nil), c.Topics...)
	return &clone
}
