package audio

import (
	"log/slog"
	"strings"

	"github.com/audiolibrelab/micnote/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeMalgo  BackendType = "malgo"
	BackendTypeSilent BackendType = "silent"
	BackendTypeAuto   BackendType = "auto"
)

// NewMicrophone creates a microphone using the backend selected in cfg.
// "auto" probes malgo and falls back to the silent backend when no audio
// subsystem can be initialized.
func NewMicrophone(cfg config.AudioConfig) Microphone {
	switch determineBackend(cfg) {
	case BackendTypeSilent:
		return NewSilentMicrophone(cfg.SampleRate)
	case BackendTypeMalgo:
		return NewMalgoMicrophone(cfg)
	default:
		if err := probeMalgo(); err != nil {
			slog.Warn("No audio subsystem available, using silent microphone", "error", err)
			return NewSilentMicrophone(cfg.SampleRate)
		}
		return NewMalgoMicrophone(cfg)
	}
}

// ResolveBackend returns the concrete backend "auto" resolves to on this host
func ResolveBackend(cfg config.AudioConfig) BackendType {
	backend := determineBackend(cfg)
	if backend != BackendTypeAuto {
		return backend
	}
	if err := probeMalgo(); err != nil {
		return BackendTypeSilent
	}
	return BackendTypeMalgo
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg config.AudioConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "malgo":
		return BackendTypeMalgo
	case "silent":
		return BackendTypeSilent
	default:
		return BackendTypeAuto
	}
}

// GetAvailableBackends returns list of backends that can run on this host
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypeSilent}
	if probeMalgo() == nil {
		backends = append([]BackendType{BackendTypeMalgo}, backends...)
	}
	return backends
}
