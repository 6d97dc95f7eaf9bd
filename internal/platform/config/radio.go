package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the device image installs the channel file.
const DefaultPath = "/etc/radio.json"

const (
	DefaultNetworkErrorThreshold = 4
	DefaultRetryBackoff          = 5 * time.Second
	DefaultHTTPTimeout           = 10 * time.Second
	DefaultSegmentLimit          = 1024 * 1000 * 50
	DefaultRefreshInterval       = time.Second
	DefaultPlayerCommand         = "mpv"
)

// ErrNoSuchChannel is returned for channel indexes outside 1..len(Channels).
var ErrNoSuchChannel = errors.New("no such channel")

// Channel is one selectable station.
type Channel struct {
	ManifestURL string `yaml:"manifest_url"`
	Name        string `yaml:"name"`
	ServiceID   string `yaml:"service_id"`
}

// Config is the device configuration. The file is JSON on the device; it is
// decoded with the YAML decoder, which accepts JSON documents unchanged.
type Config struct {
	Channels        []Channel         `yaml:"channels"`
	LCDPath         string            `yaml:"lcd_path"`
	MetaParamsBase  map[string]string `yaml:"meta_params"`
	MetaURL1        string            `yaml:"meta_url1"`
	MetaURL2        string            `yaml:"meta_url2"`
	QueueLength     int               `yaml:"queue_length"`
	SockPath        string            `yaml:"sock_path"`
	TargetBandwidth uint64            `yaml:"target_bandwidth"`
	UserAgent       string            `yaml:"user_agent"`

	Bus                   string        `yaml:"bus_address"`
	NetworkErrorThreshold int           `yaml:"network_error_threshold"`
	RetryBackoff          time.Duration `yaml:"retry_backoff"`
	HTTPTimeout           time.Duration `yaml:"http_timeout"`
	SegmentLimit          int64         `yaml:"segment_limit"`
	RefreshInterval       time.Duration `yaml:"refresh_interval"`
	HTTPSOnly             *bool         `yaml:"https_only"`
	PlayerCommand         []string      `yaml:"player_command"`
}

// LoadFile reads, defaults and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes a configuration document, applies defaults and validates it.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.NetworkErrorThreshold <= 0 {
		c.NetworkErrorThreshold = DefaultNetworkErrorThreshold
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.SegmentLimit <= 0 {
		c.SegmentLimit = DefaultSegmentLimit
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.HTTPSOnly == nil {
		on := true
		c.HTTPSOnly = &on
	}
	if len(c.PlayerCommand) == 0 {
		c.PlayerCommand = []string{DefaultPlayerCommand, "--quiet", "--idle=yes", "-"}
	}
}

// Validate reports the first problem that would make the player unusable.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("config: no channels")
	}
	for i, ch := range c.Channels {
		if ch.ManifestURL == "" {
			return fmt.Errorf("config: channel %d: empty manifest_url", i+1)
		}
		u, err := url.Parse(ch.ManifestURL)
		if err != nil {
			return fmt.Errorf("config: channel %d: %w", i+1, err)
		}
		if !u.IsAbs() {
			return fmt.Errorf("config: channel %d: manifest_url %q is not absolute", i+1, ch.ManifestURL)
		}
	}
	if c.QueueLength <= 0 {
		return errors.New("config: queue_length must be positive")
	}
	if c.TargetBandwidth == 0 {
		return errors.New("config: target_bandwidth must be positive")
	}
	if c.BusAddress() == "" {
		return errors.New("config: one of bus_address or sock_path is required")
	}
	return nil
}

// Channel returns the channel with the 1-based index idx.
func (c *Config) Channel(idx int) (Channel, error) {
	if idx < 1 || idx > len(c.Channels) {
		return Channel{}, fmt.Errorf("channel %d: %w", idx, ErrNoSuchChannel)
	}
	return c.Channels[idx-1], nil
}

// MetaParams returns the metadata query parameters for channel idx: the
// shared meta_params plus the channel's serviceId.
func (c *Config) MetaParams(idx int) (map[string]string, error) {
	ch, err := c.Channel(idx)
	if err != nil {
		return nil, err
	}
	params := make(map[string]string, len(c.MetaParamsBase)+1)
	for k, v := range c.MetaParamsBase {
		params[k] = v
	}
	params["serviceId"] = ch.ServiceID
	return params, nil
}

// BusAddress is bus_address when set, otherwise the dqtt socket at sock_path.
func (c *Config) BusAddress() string {
	if c.Bus != "" {
		return c.Bus
	}
	if c.SockPath != "" {
		return "unix://" + c.SockPath
	}
	return ""
}

// HTTPSOnlyEnabled reports whether plain-http manifests and segments are refused.
func (c *Config) HTTPSOnlyEnabled() bool {
	return c.HTTPSOnly == nil || *c.HTTPSOnly
}
