package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/viper"
)

type RootConfig struct {
	ActiveProfile string             `mapstructure:"active_profile" yaml:"active_profile"`
	Defaults      *Config            `mapstructure:"defaults,omitempty" yaml:"defaults,omitempty"`
	Profiles      map[string]*Config `mapstructure:"profiles" yaml:"profiles"`
}

type Config struct {
	ApplicationID string         `mapstructure:"application_id" yaml:"application_id"`
	DeviceID      string         `mapstructure:"device_id" yaml:"device_id"`
	Audio         AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Storage       StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Metadata      MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Notify        NotifyConfig   `mapstructure:"notify" yaml:"notify"`
}

type AudioConfig struct {
	Backend          string `mapstructure:"backend" yaml:"backend"` // "auto", "malgo", "silent"
	Device           string `mapstructure:"device" yaml:"device"`
	SampleRate       int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	BufferDurationMs int    `mapstructure:"buffer_duration_ms" yaml:"buffer_duration_ms"`
	TickIntervalMs   int    `mapstructure:"tick_interval_ms" yaml:"tick_interval_ms"`
}

type StorageConfig struct {
	Backend   string      `mapstructure:"backend" yaml:"backend"` // "local", "s3", "gcs"
	Container string      `mapstructure:"container" yaml:"container"`
	S3        S3Config    `mapstructure:"s3" yaml:"s3"`
	GCS       GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
	Local     LocalConfig `mapstructure:"local" yaml:"local"`
}

type S3Config struct {
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"-"`
}

type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

type LocalConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type MetadataConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "none", "sqlite", "mysql", "http"
	Table   string `mapstructure:"table" yaml:"table"`
	DSN     string `mapstructure:"dsn" yaml:"-"`
	URL     string `mapstructure:"url" yaml:"url"`
}

type NotifyConfig struct {
	MQTT MQTTConfig `mapstructure:"mqtt" yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

var defaultConfig = Config{
	ApplicationID: "micnote",
	Audio: AudioConfig{
		Backend:          "auto",
		SampleRate:       16000,
		BufferDurationMs: 500,
		TickIntervalMs:   33,
	},
	Storage: StorageConfig{
		Backend:   "local",
		Container: "notes",
		Local: LocalConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "micnote"),
		},
	},
	Metadata: MetadataConfig{
		Backend: "none",
		Table:   "CloudNotes",
	},
	Notify: NotifyConfig{
		MQTT: MQTTConfig{
			Topic:    "micnote/uploads",
			ClientID: "micnote",
		},
	},
}

// Default returns the built-in configuration with a resolved device ID.
func Default() *Config {
	cfg := defaultConfig
	cfg.DeviceID = resolveDeviceID("")
	return &cfg
}

// Load reads configFile and resolves profile. A missing file at the default
// location is not an error when explicit is false; the built-in defaults are
// used instead.
func Load(configFile, profile string, explicit bool) (*Config, error) {
	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) && !explicit {
		slog.Debug("Config file not found, using defaults", "path", configFile)
		cfg := Default()
		return cfg, Validate(cfg)
	}
	return LoadWithProfile(configFile, profile)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Credentials usually live in a .env next to the working directory
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Failed to load .env file", "error", err)
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	profileName := profile
	if profileName == "" {
		profileName = rootConfig.ActiveProfile
	}

	base := mergeConfigs(&defaultConfig, rootConfig.Defaults)

	selected := base
	if profileName != "" {
		p, exists := rootConfig.Profiles[profileName]
		if !exists {
			return nil, fmt.Errorf("configuration profile '%s' not found", profileName)
		}
		selected = mergeConfigs(base, p)
	}

	applyEnvSecrets(selected)

	selected.Storage.Local.Directory = expandPath(selected.Storage.Local.Directory)
	selected.Storage.GCS.CredentialsFile = expandPath(selected.Storage.GCS.CredentialsFile)
	selected.DeviceID = resolveDeviceID(selected.DeviceID)

	if err := Validate(selected); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selected, nil
}

// ValidateConfigurationFormat reads configFile and returns the parsed root
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("MICNOTE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if rootConfig.Defaults != nil {
		if err := validatePartial(rootConfig.Defaults, "defaults"); err != nil {
			return nil, err
		}
	}
	for name, p := range rootConfig.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profiles.%s: profile is empty", name)
		}
		if err := validatePartial(p, "profiles."+name); err != nil {
			return nil, err
		}
	}

	return &rootConfig, nil
}

// UpdateActiveProfile rewrites active_profile in the config file
func UpdateActiveProfile(configFile, newActiveProfile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_profile", newActiveProfile)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays every non-zero field of profile onto a copy of base
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	if profile == nil {
		return &result
	}

	setString(&result.ApplicationID, profile.ApplicationID)
	setString(&result.DeviceID, profile.DeviceID)

	setString(&result.Audio.Backend, profile.Audio.Backend)
	setString(&result.Audio.Device, profile.Audio.Device)
	setInt(&result.Audio.SampleRate, profile.Audio.SampleRate)
	setInt(&result.Audio.BufferDurationMs, profile.Audio.BufferDurationMs)
	setInt(&result.Audio.TickIntervalMs, profile.Audio.TickIntervalMs)

	setString(&result.Storage.Backend, profile.Storage.Backend)
	setString(&result.Storage.Container, profile.Storage.Container)
	setString(&result.Storage.S3.Region, profile.Storage.S3.Region)
	setString(&result.Storage.S3.Endpoint, profile.Storage.S3.Endpoint)
	setString(&result.Storage.S3.AccessKeyID, profile.Storage.S3.AccessKeyID)
	setString(&result.Storage.S3.SecretAccessKey, profile.Storage.S3.SecretAccessKey)
	setString(&result.Storage.GCS.ProjectID, profile.Storage.GCS.ProjectID)
	setString(&result.Storage.GCS.CredentialsFile, profile.Storage.GCS.CredentialsFile)
	setString(&result.Storage.Local.Directory, profile.Storage.Local.Directory)

	setString(&result.Metadata.Backend, profile.Metadata.Backend)
	setString(&result.Metadata.Table, profile.Metadata.Table)
	setString(&result.Metadata.DSN, profile.Metadata.DSN)
	setString(&result.Metadata.URL, profile.Metadata.URL)

	setString(&result.Notify.MQTT.Broker, profile.Notify.MQTT.Broker)
	setString(&result.Notify.MQTT.Topic, profile.Notify.MQTT.Topic)
	setString(&result.Notify.MQTT.ClientID, profile.Notify.MQTT.ClientID)
	setString(&result.Notify.MQTT.Username, profile.Notify.MQTT.Username)
	setString(&result.Notify.MQTT.Password, profile.Notify.MQTT.Password)

	return &result
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvSecrets fills credentials that are kept out of the YAML file
func applyEnvSecrets(cfg *Config) {
	if v := os.Getenv("MICNOTE_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.S3.SecretAccessKey = v
	}
	if v := os.Getenv("MICNOTE_METADATA_DSN"); v != "" {
		cfg.Metadata.DSN = v
	}
	if v := os.Getenv("MICNOTE_MQTT_PASSWORD"); v != "" {
		cfg.Notify.MQTT.Password = v
	}
}

// resolveDeviceID prefers the configured ID, then the host ID, then the hostname
func resolveDeviceID(configured string) string {
	if configured != "" {
		return configured
	}
	if id, err := host.HostID(); err == nil && id != "" {
		return id
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
