package server

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all boltdash configuration.
type Config struct {
	mu sync.RWMutex

	Serial  SerialConfig  `yaml:"serial" json:"serial"`
	Framing FramingConfig `yaml:"framing" json:"framing"`
	Text    TextConfig    `yaml:"text" json:"text"`
	Display DisplayConfig `yaml:"display" json:"display"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	Mode     string `yaml:"mode" json:"mode"` // "binary" or "text"
	Demo     bool   `yaml:"demo" json:"demo"` // simulated tool, no hardware
}

type FramingConfig struct {
	OverflowLimit  int `yaml:"overflow_limit" json:"overflowLimit"` // bytes
	KeepTail       int `yaml:"keep_tail" json:"keepTail"`           // bytes kept on eviction
	ScanIntervalMs int `yaml:"scan_interval_ms" json:"scanIntervalMs"`
	Capacity       int `yaml:"handoff_capacity" json:"handoffCapacity"` // records buffered to the sink
}

type TextConfig struct {
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	Column    int    `yaml:"column" json:"column"`
}

type DisplayConfig struct {
	RedrawMs      int      `yaml:"redraw_ms" json:"redrawMs"` // sink push interval
	ChannelLabels []string `yaml:"channel_labels" json:"channelLabels"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log rows
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			PortPath: "/dev/ttyUSB0",
			BaudRate: 115200,
			Mode:     "binary",
		},
		Framing: FramingConfig{
			OverflowLimit:  1000,
			KeepTail:       200,
			ScanIntervalMs: 10,
			Capacity:       256,
		},
		Display: DisplayConfig{
			RedrawMs: 200,
			ChannelLabels: []string{
				"ch1", "ch2", "ch3", "ch4", "ch5", "ch6", "ch7", "ch8",
			},
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/boltdash",
			Interval: 100,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies environment
// variable overrides. Falls back to defaults if the file is absent.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// keep defaults
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Path returns the file path this config was loaded from.
func (c *Config) Path() string { return c.path }

// Reload re-reads the yaml file in place, keeping env overrides on top.
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", c.path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: reload %s: %w", c.path, err)
	}
	c.applyEnvOverrides()
	return nil
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SERIAL_PORT, SERIAL_BAUD, SERIAL_MODE, SERIAL_DEMO, LISTEN_ADDR,
// LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("SERIAL_MODE"); v != "" {
		c.Serial.Mode = v
	}
	if v := os.Getenv("SERIAL_DEMO"); v != "" {
		c.Serial.Demo = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config: no path to save to")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// DisplaySnapshot returns a copy of the display section for broadcasting.
func (c *Config) DisplaySnapshot() DisplayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Display
	d.ChannelLabels = append([]string(nil), c.Display.ChannelLabels...)
	return d
}

// Section snapshots. Reload rewrites every field under the lock, so readers
// that can run concurrently with the watcher must go through these rather
// than touching the struct fields directly.

func (c *Config) SerialSnapshot() SerialConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Serial
}

func (c *Config) FramingSnapshot() FramingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Framing
}

func (c *Config) TextSnapshot() TextConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Text
}

func (c *Config) LoggingSnapshot() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

func (c *Config) ServerSnapshot() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port path, baud rate, logging).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
