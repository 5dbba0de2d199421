// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package config holds the inspector's runtime configuration: CLI flags
// merged over an optional YAML file merged over defaults, with HPI_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPorts are the RegionServer RPC ports observed when none are given.
var DefaultPorts = []int{16020, 60020}

// Config is the top-level configuration.
type Config struct {
	Ports     []int         `yaml:"ports"`
	Interface string        `yaml:"interface"`
	Count     int64         `yaml:"count"`
	Duration  time.Duration `yaml:"duration"`
	LogLevel  string        `yaml:"log_level"`
	Verbose   bool          `yaml:"verbose"`

	Kafka  KafkaConfig  `yaml:"kafka"`
	DB     DBConfig     `yaml:"db"`
	OTLP   OTLPConfig   `yaml:"otlp"`
	Health HealthConfig `yaml:"health"`

	// Capture files given as positional arguments; live capture when empty.
	Files []string `yaml:"-"`
}

// KafkaConfig configures the Kafka producer sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the Kafka sink is configured.
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// DBConfig configures the in-process tabular store.
type DBConfig struct {
	Path string `yaml:"path"`
}

// OTLPConfig configures the OTLP trace exporter sink.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// HealthConfig configures the stats HTTP endpoint.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ports:    append([]int(nil), DefaultPorts...),
		LogLevel: "info",
		DB:       DBConfig{Path: ":memory:"},
	}
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides reads HPI_* environment variables and applies them,
// overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HPI_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("HPI_KAFKA"); v != "" {
		if k, err := ParseKafka(v); err == nil {
			c.Kafka = k
		}
	}
	if v := os.Getenv("HPI_DB_PATH"); v != "" {
		c.DB.Path = v
	}
	if v := os.Getenv("HPI_OTLP_ENDPOINT"); v != "" {
		c.OTLP.Endpoint = v
	}
	if v := os.Getenv("HPI_HEALTH_ADDR"); v != "" {
		c.Health.Addr = v
	}
}

// ParsePorts parses a comma-separated port list.
func ParsePorts(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		ports = append(ports, n)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", spec)
	}
	return ports, nil
}

// ParseKafka parses a "broker1,broker2/topic" spec.
func ParseKafka(spec string) (KafkaConfig, error) {
	i := strings.LastIndex(spec, "/")
	if i <= 0 || i == len(spec)-1 {
		return KafkaConfig{}, fmt.Errorf("kafka spec %q is not servers/topic", spec)
	}
	brokers := strings.Split(spec[:i], ",")
	for j, b := range brokers {
		brokers[j] = strings.TrimSpace(b)
		if brokers[j] == "" {
			return KafkaConfig{}, fmt.Errorf("kafka spec %q has an empty broker", spec)
		}
	}
	return KafkaConfig{Brokers: brokers, Topic: spec[i+1:]}, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port is required")
	}
	for _, p := range c.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("port %d out of range", p)
		}
	}
	if c.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must be non-negative")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
