// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"16020", []int{16020}, false},
		{"16020,60020", []int{16020, 60020}, false},
		{" 16020 , 60020 ", []int{16020, 60020}, false},
		{"0", nil, true},
		{"70000", nil, true},
		{"abc", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		got, err := ParsePorts(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePorts(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if err == nil && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParsePorts(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestParseKafka(t *testing.T) {
	k, err := ParseKafka("broker1:9092,broker2:9092/hbase-events")
	if err != nil {
		t.Fatalf("ParseKafka: %v", err)
	}
	if len(k.Brokers) != 2 || k.Brokers[0] != "broker1:9092" {
		t.Errorf("brokers = %v", k.Brokers)
	}
	if k.Topic != "hbase-events" {
		t.Errorf("topic = %q", k.Topic)
	}
	if !k.Enabled() {
		t.Error("parsed kafka config must be enabled")
	}

	for _, bad := range []string{"", "no-topic", "/topic", "servers/", ",/t"} {
		if _, err := ParseKafka(bad); err == nil {
			t.Errorf("ParseKafka(%q) succeeded, want error", bad)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !reflect.DeepEqual(cfg.Ports, DefaultPorts) {
		t.Errorf("ports = %v, want %v", cfg.Ports, DefaultPorts)
	}
	if cfg.DB.Path != ":memory:" {
		t.Errorf("db path = %q, want :memory:", cfg.DB.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ports = nil
	if err := cfg.Validate(); err == nil {
		t.Error("empty ports must fail validation")
	}

	cfg = DefaultConfig()
	cfg.Kafka.Brokers = []string{"b:9092"}
	if err := cfg.Validate(); err == nil {
		t.Error("brokers without topic must fail validation")
	}

	cfg = DefaultConfig()
	cfg.LogLevel = "noisy"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log level must fail validation")
	}

	cfg = DefaultConfig()
	cfg.Duration = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative duration must fail validation")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hpi.yaml")
	data := []byte(`
ports: [16020]
log_level: warn
kafka:
  brokers: ["b1:9092"]
  topic: hbase
db:
  path: /tmp/hpi.sqlite
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Ports, []int{16020}) {
		t.Errorf("ports = %v", cfg.Ports)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.Topic != "hbase" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.DB.Path != "/tmp/hpi.sqlite" {
		t.Errorf("db path = %q", cfg.DB.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HPI_LOG_LEVEL", "error")
	t.Setenv("HPI_KAFKA", "b1:9092/topic")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.LogLevel != "error" {
		t.Errorf("log level = %q, want error", cfg.LogLevel)
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.Topic != "topic" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}
