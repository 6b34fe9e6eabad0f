package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	audioBackends    = []string{"auto", "malgo", "silent"}
	storageBackends  = []string{"local", "s3", "gcs"}
	metadataBackends = []string{"none", "sqlite", "mysql", "http"}
)

// Validate checks a fully resolved configuration
func Validate(cfg *Config) error {
	if err := validatePartial(cfg, "config"); err != nil {
		return err
	}

	if cfg.ApplicationID == "" {
		return fmt.Errorf("config: 'application_id' is required")
	}
	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: audio.sample_rate must be > 0, got: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.BufferDurationMs <= 0 {
		return fmt.Errorf("config: audio.buffer_duration_ms must be > 0, got: %d", cfg.Audio.BufferDurationMs)
	}
	if cfg.Audio.TickIntervalMs <= 0 {
		return fmt.Errorf("config: audio.tick_interval_ms must be > 0, got: %d", cfg.Audio.TickIntervalMs)
	}
	if cfg.Storage.Container == "" {
		return fmt.Errorf("config: storage.container is required")
	}

	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.Local.Directory == "" {
			return fmt.Errorf("config: storage.local.directory is required for the local backend")
		}
	case "gcs":
		if cfg.Storage.GCS.ProjectID == "" {
			return fmt.Errorf("config: storage.gcs.project_id is required for the gcs backend")
		}
	}

	switch cfg.Metadata.Backend {
	case "sqlite", "mysql":
		if cfg.Metadata.DSN == "" {
			return fmt.Errorf("config: metadata.dsn is required for the %s backend", cfg.Metadata.Backend)
		}
		if cfg.Metadata.Table == "" {
			return fmt.Errorf("config: metadata.table is required for the %s backend", cfg.Metadata.Backend)
		}
	case "http":
		if cfg.Metadata.URL == "" {
			return fmt.Errorf("config: metadata.url is required for the http backend")
		}
	}

	if cfg.Notify.MQTT.Broker != "" && cfg.Notify.MQTT.Topic == "" {
		return fmt.Errorf("config: notify.mqtt.topic is required when a broker is set")
	}

	return nil
}

// validatePartial checks only the fields that are set, so profiles can
// override a subset of the defaults
func validatePartial(cfg *Config, prefix string) error {
	if cfg.Audio.Backend != "" && !oneOf(cfg.Audio.Backend, audioBackends) {
		return fmt.Errorf("%s: audio.backend must be one of %s, got: %s",
			prefix, strings.Join(audioBackends, ", "), cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate < 0 {
		return fmt.Errorf("%s: audio.sample_rate must be >= 0, got: %d", prefix, cfg.Audio.SampleRate)
	}
	if cfg.Audio.BufferDurationMs < 0 {
		return fmt.Errorf("%s: audio.buffer_duration_ms must be >= 0, got: %d", prefix, cfg.Audio.BufferDurationMs)
	}
	if cfg.Storage.Backend != "" && !oneOf(cfg.Storage.Backend, storageBackends) {
		return fmt.Errorf("%s: storage.backend must be one of %s, got: %s",
			prefix, strings.Join(storageBackends, ", "), cfg.Storage.Backend)
	}
	if cfg.Metadata.Backend != "" && !oneOf(cfg.Metadata.Backend, metadataBackends) {
		return fmt.Errorf("%s: metadata.backend must be one of %s, got: %s",
			prefix, strings.Join(metadataBackends, ", "), cfg.Metadata.Backend)
	}
	if cfg.Storage.S3.Endpoint != "" {
		if err := validateURL(cfg.Storage.S3.Endpoint); err != nil {
			return fmt.Errorf("%s: storage.s3.endpoint: %w", prefix, err)
		}
	}
	if cfg.Metadata.URL != "" {
		if err := validateURL(cfg.Metadata.URL); err != nil {
			return fmt.Errorf("%s: metadata.url: %w", prefix, err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
