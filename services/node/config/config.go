// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the node configuration.
//
// Sources, lowest precedence first:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file
//  3. Environment variables
//
// The merged result is validated with go-playground/validator struct tags.
// Every load or validation failure wraps ErrInvalidConfig.
//
// # Environment Variables
//
//	NODE_PORT                    port
//	NODE_VERSION                 node_version
//	TT_WRAPPER_URL               wrapper.url
//	TT_WRAPPER_SECRET            wrapper.secret
//	TT_WRAPPER_TIMEOUT           wrapper.timeout (Go duration)
//	TT_WRAPPER_RPS               wrapper.requests_per_second
//	TT_VERIFY_ATTEMPTS           verify.attempts
//	TT_VERIFY_INTERVAL           verify.interval (Go duration)
//	PANEL_JWT_PUBLIC_KEY         auth.public_key_file, or auth.public_key
//	                             when the value is an inline PEM or JWK
//	OTEL_EXPORTER_OTLP_ENDPOINT  telemetry.otlp_endpoint
//	LOG_LEVEL                    logging.level
//	LOG_DIR                      logging.dir
//	LOG_JSON                     logging.format (true=json, false=text)
//	GIN_MODE                     gin_mode
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every load and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Types
// =============================================================================

// Config is the complete node configuration.
type Config struct {
	// Port is the panel-facing HTTP port. Default: 2222
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// NodeVersion is reported to the panel. Default: "0.0.0"
	NodeVersion string `yaml:"node_version"`

	// KillOnStart stops a tunnel left running by a previous adapter
	// process before serving.
	KillOnStart bool `yaml:"kill_on_start"`

	// GinMode is passed to gin.SetMode. Default: "release"
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	Wrapper   WrapperConfig   `yaml:"wrapper"`
	Verify    VerifyConfig    `yaml:"verify"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WrapperConfig addresses the wrapper admin API.
type WrapperConfig struct {
	// URL is the wrapper root without the /api prefix.
	URL string `yaml:"url" validate:"required,url"`

	// Secret is the static bearer credential.
	Secret string `yaml:"secret" validate:"required"`

	// Timeout bounds each wrapper call. Default: 30s
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// RequestsPerSecond paces wrapper calls. Zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the pacing bucket size.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// VerifyConfig controls post-restart verification.
type VerifyConfig struct {
	// Attempts is the total number of status polls. Default: 11
	Attempts int `yaml:"attempts" validate:"gte=1,lte=120"`

	// Interval is the delay between polls. Default: 2s
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// AuthConfig enables panel JWT verification. With neither key field set
// the node accepts every panel request.
type AuthConfig struct {
	PublicKey     string        `yaml:"public_key"`
	PublicKeyFile string        `yaml:"public_key_file"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	Leeway        time.Duration `yaml:"leeway" validate:"gte=0"`
}

// TelemetryConfig enables OTLP trace export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	Dir    string `yaml:"dir"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the built-in configuration. It does not validate: the
// wrapper URL and secret have no defaults.
func Default() Config {
	return Config{
		Port:        2222,
		NodeVersion: "0.0.0",
		GinMode:     "release",
		Wrapper: WrapperConfig{
			Timeout: 30 * time.Second,
		},
		Verify: VerifyConfig{
			Attempts: 11,
			Interval: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ttnode",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads path (optional), applies the process environment and validates.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - error: Wraps ErrInvalidConfig on any failure.
//
// # Examples
//
//	cfg, err := config.Load(flagConfigPath)
//	if errors.Is(err, config.ErrInvalidConfig) {
//	    os.Exit(2)
//	}
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment.
func LoadWith(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not silently fall back to
// defaults.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("NODE_PORT", &c.Port)
	str("NODE_VERSION", &c.NodeVersion)
	str("GIN_MODE", &c.GinMode)
	str("TT_WRAPPER_URL", &c.Wrapper.URL)
	str("TT_WRAPPER_SECRET", &c.Wrapper.Secret)
	duration("TT_WRAPPER_TIMEOUT", &c.Wrapper.Timeout)
	float("TT_WRAPPER_RPS", &c.Wrapper.RequestsPerSecond)
	num("TT_VERIFY_ATTEMPTS", &c.Verify.Attempts)
	duration("TT_VERIFY_INTERVAL", &c.Verify.Interval)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_DIR", &c.Logging.Dir)

	if v, ok := lookup("PANEL_JWT_PUBLIC_KEY"); ok && strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "-----BEGIN") || strings.HasPrefix(v, "{") {
			c.Auth.PublicKey = v
		} else {
			c.Auth.PublicKeyFile = v
		}
	}

	if v, ok := lookup("LOG_JSON"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_JSON: %w", err))
		} else if b {
			c.Logging.Format = "json"
		} else {
			c.Logging.Format = "text"
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration against its struct tags.
//
// The error names each failing field by its YAML path, e.g.
// "wrapper.url: required".
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		problem := field + ": " + fe.Tag()
		if fe.Param() != "" {
			problem += "=" + fe.Param()
		}
		problems = append(problems, problem)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// =============================================================================
// Accessors
// =============================================================================

// PanelPublicKey returns the panel verification key, reading the key file
// when no inline key is set. An empty result means auth is disabled.
func (c Config) PanelPublicKey() (string, error) {
	if c.Auth.PublicKey != "" {
		return c.Auth.PublicKey, nil
	}
	if c.Auth.PublicKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Auth.PublicKeyFile)
	if err != nil {
		return "", fmt.Errorf("%w: read panel public key: %v", ErrInvalidConfig, err)
	}
	return string(data), nil
}
