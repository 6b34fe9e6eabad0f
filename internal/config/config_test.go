package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMergeConfigs_ProfileOverridesSetFields(t *testing.T) {
	base := &Config{
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
			Local:     LocalConfig{Directory: "~/Audio/Default"},
		},
		Metadata: MetadataConfig{Backend: "none", Table: "CloudNotes"},
	}

	profile := &Config{
		Audio: AudioConfig{
			SampleRate: 44100, // Override sample rate only
		},
		Storage: StorageConfig{
			Backend: "s3",
			S3:      S3Config{Region: "eu-west-1"},
		},
	}

	result := mergeConfigs(base, profile)

	if result.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", result.Audio.SampleRate)
	}
	if result.Audio.BufferDurationMs != 500 {
		t.Errorf("Expected inherited buffer duration 500, got %d", result.Audio.BufferDurationMs)
	}
	if result.Audio.Backend != "auto" {
		t.Errorf("Expected inherited backend 'auto', got %s", result.Audio.Backend)
	}
	if result.Storage.Backend != "s3" || result.Storage.S3.Region != "eu-west-1" {
		t.Errorf("Storage override not applied: %+v", result.Storage)
	}
	if result.Storage.Container != "notes" {
		t.Errorf("Expected inherited container 'notes', got %s", result.Storage.Container)
	}
	if result.Metadata.Table != "CloudNotes" {
		t.Errorf("Expected inherited table 'CloudNotes', got %s", result.Metadata.Table)
	}
}

func TestMergeConfigs_DoesNotMutateBase(t *testing.T) {
	base := &Config{ApplicationID: "base", Audio: AudioConfig{SampleRate: 16000}}
	profile := &Config{ApplicationID: "profile", Audio: AudioConfig{SampleRate: 8000}}

	_ = mergeConfigs(base, profile)

	if base.ApplicationID != "base" || base.Audio.SampleRate != 16000 {
		t.Errorf("Base config was mutated: %+v", base)
	}
}

func TestMergeConfigs_NilProfile(t *testing.T) {
	base := &Config{ApplicationID: "micnote"}
	result := mergeConfigs(base, nil)

	if result == base {
		t.Error("Expected a copy, got the base pointer")
	}
	if result.ApplicationID != "micnote" {
		t.Errorf("Expected application id 'micnote', got %s", result.ApplicationID)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/micnote", filepath.Join(homeDir, "Audio/micnote")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestResolveDeviceID_PrefersConfigured(t *testing.T) {
	if got := resolveDeviceID("phone-42"); got != "phone-42" {
		t.Errorf("Expected configured device id, got %s", got)
	}
	if got := resolveDeviceID(""); got == "" {
		t.Error("Expected a fallback device id, got empty string")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}
	if cfg.Audio.BufferDurationMs != 500 {
		t.Errorf("Expected 500ms buffer duration, got %d", cfg.Audio.BufferDurationMs)
	}
	if cfg.Audio.TickIntervalMs != 33 {
		t.Errorf("Expected 33ms tick interval, got %d", cfg.Audio.TickIntervalMs)
	}
	if cfg.Storage.Container != "notes" {
		t.Errorf("Expected container 'notes', got %s", cfg.Storage.Container)
	}
}

func TestLoad_MissingDefaultFileFallsBack(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(missing, "", false)
	if err != nil {
		t.Fatalf("Expected fallback to defaults, got: %v", err)
	}
	if cfg.ApplicationID != "micnote" {
		t.Errorf("Expected default application id, got %s", cfg.ApplicationID)
	}

	if _, err := Load(missing, "", true); err == nil {
		t.Error("Expected error for explicit missing config file")
	}
}

func TestUpdateActiveProfile(t *testing.T) {
	configFile := createTempConfig(t, `
active_profile: home
profiles:
  home:
    audio:
      sample_rate: 16000
  office:
    audio:
      sample_rate: 8000
`)

	if err := UpdateActiveProfile(configFile, "office"); err != nil {
		t.Fatalf("UpdateActiveProfile failed: %v", err)
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Failed to re-read config: %v", err)
	}
	if rootConfig.ActiveProfile != "office" {
		t.Errorf("Expected active profile 'office', got %s", rootConfig.ActiveProfile)
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
