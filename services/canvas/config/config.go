// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the canvas service configuration.
//
// # Description
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. The result is validated before use. The abuse
// section can be reloaded at runtime by a Watcher; everything else is read
// once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/abuse"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Types
// =============================================================================

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Canvas        CanvasConfig        `yaml:"canvas"`
	Abuse         AbuseConfig         `yaml:"abuse"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig covers the listener and per-connection transport limits.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	SendQueueSize   int           `yaml:"send_queue_size" validate:"gte=1"`
	SendQueueBytes  int64         `yaml:"send_queue_bytes" validate:"gte=1024"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" validate:"gte=64"`
	FrameRate       float64       `yaml:"frame_rate" validate:"gt=0"`
	FrameBurst      int           `yaml:"frame_burst" validate:"gte=1"`
}

// CanvasConfig is the geometry of a fresh board.
type CanvasConfig struct {
	Width            int    `yaml:"width" validate:"gte=1,lte=4096"`
	Height           int    `yaml:"height" validate:"gte=1,lte=4096"`
	DefaultColor     string `yaml:"default_color" validate:"required,rgbcolor"`
	SnapshotInterval int    `yaml:"snapshot_interval" validate:"gte=1"`
}

// AbuseConfig holds the paint gate thresholds. Hot-reloadable.
type AbuseConfig struct {
	Cooldown             time.Duration `yaml:"cooldown" validate:"gte=0"`
	BotMinSamples        int           `yaml:"bot_min_samples" validate:"gte=2"`
	BotVarianceThreshold time.Duration `yaml:"bot_variance_threshold" validate:"gt=0"`
	WindowSize           int           `yaml:"window_size" validate:"gtefield=BotMinSamples"`
}

// PersistenceConfig says where and how often the history is saved.
type PersistenceConfig struct {
	Storage          string        `yaml:"storage" validate:"required"`
	SessionName      string        `yaml:"session_name" validate:"required,excludesall=/\\"`
	AutosaveInterval time.Duration `yaml:"autosave_interval" validate:"gt=0"`
	OnCorrupt        string        `yaml:"on_corrupt" validate:"oneof=fail fresh"`
	CredentialsFile  string        `yaml:"credentials_file"`
}

// ObservabilityConfig selects the trace exporter. Empty disables tracing;
// "stdout" prints spans; anything else is an OTLP/gRPC endpoint.
type ObservabilityConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	policy := abuse.DefaultPolicy()
	return Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
			SendQueueSize:   256,
			SendQueueBytes:  32 << 20,
			MaxMessageBytes: 4096,
			FrameRate:       100,
			FrameBurst:      200,
		},
		Canvas: CanvasConfig{
			Width:            256,
			Height:           256,
			DefaultColor:     "#FFFFFF",
			SnapshotInterval: board.DefaultSnapshotInterval,
		},
		Abuse: AbuseConfig{
			Cooldown:             policy.Cooldown,
			BotMinSamples:        policy.MinSamples,
			BotVarianceThreshold: policy.VarianceThreshold,
			WindowSize:           policy.WindowSize,
		},
		Persistence: PersistenceConfig{
			Storage:          "/data",
			SessionName:      "1-1-2026",
			AutosaveInterval: 2 * time.Minute,
			OnCorrupt:        "fail",
		},
	}
}

// AbusePolicy converts the abuse section into a gate policy.
func (c Config) AbusePolicy() abuse.Policy {
	return abuse.Policy{
		Cooldown:          c.Abuse.Cooldown,
		MinSamples:        c.Abuse.BotMinSamples,
		VarianceThreshold: c.Abuse.BotVarianceThreshold,
		WindowSize:        c.Abuse.WindowSize,
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load builds a Config from defaults, the YAML file at path (if non-empty),
// and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables.
func applyEnv(cfg *Config) error {
	setString("CANVAS_DEFAULT_COLOR", &cfg.Canvas.DefaultColor)
	setString("CANVAS_STORAGE", &cfg.Persistence.Storage)
	setString("CANVAS_SESSION_NAME", &cfg.Persistence.SessionName)
	setString("CANVAS_ON_CORRUPT", &cfg.Persistence.OnCorrupt)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint)

	if err := setInt("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := setInt("CANVAS_WIDTH", &cfg.Canvas.Width); err != nil {
		return err
	}
	if err := setInt("CANVAS_HEIGHT", &cfg.Canvas.Height); err != nil {
		return err
	}
	if err := setDuration("CANVAS_AUTOSAVE_INTERVAL", &cfg.Persistence.AutosaveInterval); err != nil {
		return err
	}
	return setDuration("CANVAS_PAINT_COOLDOWN", &cfg.Abuse.Cooldown)
}

func setString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go duration strings ("2m", "200ms") or bare
// integers, which are taken as milliseconds.
func setDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	if ms, err := strconv.Atoi(value); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	*dst = d
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("rgbcolor", func(fl validator.FieldLevel) bool {
		return board.IsValidColor(fl.Field().String())
	})
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
