// Copyright (c) 2026 Team CRM Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleConfig is one custom routing rule from the config file. Rules are
// evaluated in file order; the first matching rule wins.
type RuleConfig struct {
	// Kind is one of "senderContains", "subjectContains", "recipientEquals".
	Kind     string   `yaml:"kind"`
	Value    string   `yaml:"value"`
	Action   string   `yaml:"action"`
	Priority string   `yaml:"priority,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// MailConfig holds the outbound mail transport settings. When APIKey is
// empty the transport runs in simulated mode: sends are logged, not made.
type MailConfig struct {
	Domain      string `yaml:"domain"`
	APIKey      string `yaml:"api_key"`
	SigningKey  string `yaml:"signing_key"`
	BaseURL     string `yaml:"base_url"`
	FromAddress string `yaml:"from_address"`
	CatchAll    string `yaml:"catch_all"`
}

// MemberConfig declares one team member to seed into the store at startup.
// Seeding is an upsert, so restarts with an unchanged file are harmless.
type MemberConfig struct {
	ExternalID    string `yaml:"external_id"`
	Name          string `yaml:"name"`
	PersonalEmail string `yaml:"personal_email,omitempty"`
	Role          string `yaml:"role,omitempty"`
}

// Config holds all configuration for the email routing service.
type Config struct {
	Mail MailConfig

	// Team members seeded into the store at startup.
	Team []MemberConfig

	// Routing
	Rules               []RuleConfig
	AutoResponseEnabled bool
	BusinessHoursStart  int // local hour, inclusive
	BusinessHoursEnd    int // local hour, exclusive

	// Dispatch
	DispatchInterval time.Duration
	DispatchTimeout  time.Duration

	// Delayed-update pickup
	UpdateSweepInterval time.Duration

	// Directory
	DirectoryTTL time.Duration

	// Normalizer
	MaxAttachmentBytes int

	// Stores
	DatabaseURL  string
	RedisURL     string
	UpdatesQueue string
	DedupTTL     time.Duration

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mail MailConfig `yaml:"mail"`

	Team []MemberConfig `yaml:"team"`

	Routing struct {
		Rules               []RuleConfig `yaml:"rules"`
		AutoResponseEnabled bool         `yaml:"auto_response_enabled"`
		BusinessHoursStart  int          `yaml:"business_hours_start"`
		BusinessHoursEnd    int          `yaml:"business_hours_end"`
	} `yaml:"routing"`

	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Updates string `yaml:"updates"`
		} `yaml:"queues"`
	} `yaml:"redis"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mail:                raw.Mail,
		Team:                raw.Team,
		Rules:               raw.Routing.Rules,
		AutoResponseEnabled: raw.Routing.AutoResponseEnabled,
		BusinessHoursStart:  raw.Routing.BusinessHoursStart,
		BusinessHoursEnd:    raw.Routing.BusinessHoursEnd,
		DispatchInterval:    envOrDefaultDuration("DISPATCH_INTERVAL", 2*time.Second),
		DispatchTimeout:     envOrDefaultDuration("DISPATCH_TIMEOUT", 30*time.Second),
		UpdateSweepInterval: envOrDefaultDuration("UPDATE_SWEEP_INTERVAL", time.Minute),
		DirectoryTTL:        envOrDefaultDuration("DIRECTORY_TTL", 5*time.Minute),
		MaxAttachmentBytes:  envOrDefaultInt("MAX_ATTACHMENT_BYTES", 10*1024*1024),
		DatabaseURL:         firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/teamcrm")),
		RedisURL:            firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		UpdatesQueue:        firstNonEmpty(raw.Redis.Queues.Updates, envOrDefault("UPDATES_QUEUE", "team-updates")),
		DedupTTL:            envOrDefaultDuration("DEDUP_TTL", 24*time.Hour),
		Port:                envOrDefaultInt("PORT", 8080),
	}

	if cfg.Mail.BaseURL == "" {
		cfg.Mail.BaseURL = "https://api.mailgun.net/v3"
	}
	if cfg.Mail.Domain == "" {
		return nil, fmt.Errorf("mail.domain is required: assistant addresses are derived from it")
	}
	if cfg.BusinessHoursStart == 0 && cfg.BusinessHoursEnd == 0 {
		cfg.BusinessHoursStart = 9
		cfg.BusinessHoursEnd = 18
	}
	if cfg.BusinessHoursEnd <= cfg.BusinessHoursStart {
		return nil, fmt.Errorf("routing.business_hours_end must be after business_hours_start")
	}

	for i, m := range cfg.Team {
		if m.ExternalID == "" || m.Name == "" {
			return nil, fmt.Errorf("team member %d: external_id and name are required", i)
		}
	}

	for i, r := range cfg.Rules {
		switch r.Kind {
		case "senderContains", "subjectContains", "recipientEquals":
		default:
			return nil, fmt.Errorf("rule %d: unknown condition kind %q", i, r.Kind)
		}
		switch r.Action {
		case "forward", "queue", "autoRespond":
		default:
			return nil, fmt.Errorf("rule %d: unknown action %q", i, r.Action)
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
