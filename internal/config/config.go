// Package config loads directory server and client settings from a YAML
// file, with environment variables able to override individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the directory server's runtime settings.
type ServerConfig struct {
	ListenPort      int    `yaml:"listen_port" mapstructure:"listen_port"`
	MTU             int    `yaml:"mtu" mapstructure:"mtu"`
	ActivityTimeout int    `yaml:"activity_timeout_seconds" mapstructure:"activity_timeout_seconds"`
	MetricsAddr     string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	Verbose         bool   `yaml:"verbose" mapstructure:"verbose"`
}

// ClientConfig holds a directory client's runtime settings.
type ClientConfig struct {
	ServerHost    string `yaml:"server_host" mapstructure:"server_host"`
	ServerPort    int    `yaml:"server_port" mapstructure:"server_port"`
	ListenPort    int    `yaml:"listen_port" mapstructure:"listen_port"`
	PeerFilePort  int    `yaml:"peer_file_port" mapstructure:"peer_file_port"`
	ShareDir      string `yaml:"share_dir" mapstructure:"share_dir"`
	DownloadDir   string `yaml:"download_dir" mapstructure:"download_dir"`
	MetricsAddr   string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	Verbose       bool   `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultServerConfig holds the directory server's out-of-the-box
// defaults: well-known port 50001, 128-byte MTU, one-hour activity
// timeout.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenPort:      50001,
		MTU:             128,
		ActivityTimeout: 3600,
		MetricsAddr:     ":9090",
		Verbose:         false,
	}
}

// DefaultClientConfig holds the directory client's out-of-the-box
// defaults: ACK/listen port 60001, current directory as the
// shared/download directory.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerPort:   50001,
		ListenPort:   60001,
		PeerFilePort: 50001,
		ShareDir:     ".",
		DownloadDir:  ".",
		MetricsAddr:  ":9091",
		Verbose:      false,
	}
}

// LoadServerConfig reads path (if non-empty and present) over
// DefaultServerConfig, then applies P2PDIR_SERVER_* environment
// overrides.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadYAMLOver(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if err := applyEnvOverrides("P2PDIR_SERVER_", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig reads path (if non-empty and present) over
// DefaultClientConfig, then applies P2PDIR_CLIENT_* environment
// overrides.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadYAMLOver(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := applyEnvOverrides("P2PDIR_CLIENT_", &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// loadYAMLOver unmarshals the YAML file at path into dst, leaving dst
// untouched (its defaults intact) when path is empty or missing.
func loadYAMLOver(path string, dst any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides scans os.Environ for keys under prefix and decodes
// them onto dst via mapstructure, so a deployment can override a single
// field (e.g. P2PDIR_SERVER_LISTEN_PORT=50002) without a full YAML file.
func applyEnvOverrides(prefix string, dst any) error {
	overrides := map[string]any{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		field := strings.ToLower(strings.TrimPrefix(k, prefix))
		overrides[field] = coerceEnvValue(v)
	}
	if len(overrides) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("config: applying %s* overrides: %w", prefix, err)
	}
	return nil
}

// coerceEnvValue converts a raw environment string to a bool or int
// when it parses as one, otherwise leaves it as a string. mapstructure's
// WeaklyTypedInput handles most of this already; this pre-pass keeps
// booleans like "true"/"false" from round-tripping as the string "true".
func coerceEnvValue(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return v
}
