package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	HTTPAddr string `json:"http_addr"`

	// UserID is the identity this device publishes its own position under.
	UserID string `json:"user_id"`

	Realtime struct {
		// Endpoint of the backing realtime service. Empty runs the
		// in-memory client, which only makes sense with the simulator.
		Endpoint string `json:"endpoint"`
		APIKey   string `json:"api_key"`
	} `json:"realtime"`

	Probe struct {
		URL      string        `json:"url"`
		Interval time.Duration `json:"interval"`
	} `json:"probe"`

	Retry syncerr.RetryConfig `json:"retry"`
	Perf  perf.Config         `json:"perf"`

	Schedules struct {
		QueueDrain string `json:"queue_drain"`
		Cleanup    string `json:"cleanup"`
		Tuning     string `json:"tuning"`
	} `json:"schedules"`

	Simulator struct {
		Members  []string      `json:"members"`
		Interval time.Duration `json:"interval"`
	} `json:"simulator"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".geoguardian"),
		LogLevel: "info",
		HTTPAddr: ":8090",
		UserID:   "keegan",
	}
	cfg.Probe.URL = "https://connectivitycheck.gstatic.com/generate_204"
	cfg.Probe.Interval = 30 * time.Second
	cfg.Retry = syncerr.DefaultRetryConfig()
	cfg.Perf = perf.DefaultConfig()
	cfg.Schedules.QueueDrain = "@every 30s"
	cfg.Schedules.Cleanup = "@every 5m"
	cfg.Schedules.Tuning = "@every 1m"
	cfg.Simulator.Members = []string{"ayesha", "ben", "chen", "divya"}
	cfg.Simulator.Interval = 2 * time.Second

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("GEOGUARDIAN_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if addr := os.Getenv("GEOGUARDIAN_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if id := os.Getenv("GEOGUARDIAN_USER_ID"); id != "" {
		cfg.UserID = id
	}
	if level := os.Getenv("GEOGUARDIAN_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if endpoint := os.Getenv("GEOGUARDIAN_REALTIME_ENDPOINT"); endpoint != "" {
		cfg.Realtime.Endpoint = endpoint
	}
	if key := os.Getenv("GEOGUARDIAN_REALTIME_API_KEY"); key != "" {
		cfg.Realtime.APIKey = key
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the parent directory if
// needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues flattens cfg into dot-separated keys, optionally masking
// secret values.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path (creating it with defaults if
// missing) and returns the value for the dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue updates one dot-separated key in the config file at path. The
// raw value is parsed as JSON where possible, otherwise stored as a
// string. Keys not known to the Config struct are preserved as-is.
func SetValue(path, key, raw string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	flat := Flatten(m)
	flat[key] = value

	out, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, out)
}
