package play

import (
	"log/slog"

	"github.com/audiolibrelab/micnote/internal/audio"
	"github.com/audiolibrelab/micnote/internal/config"
)

// NewFactory returns a player factory for the configured audio backend
func NewFactory(cfg config.AudioConfig) audio.PlayerFactory {
	switch audio.ResolveBackend(cfg) {
	case audio.BackendTypeSilent:
		slog.Debug("Using silent player")
		return func(pcm []byte, sampleRate, channels int) (audio.Player, error) {
			return NewSilentPlayer(pcm, sampleRate, channels)
		}
	default:
		return func(pcm []byte, sampleRate, channels int) (audio.Player, error) {
			return NewMalgoPlayer(pcm, sampleRate, channels)
		}
	}
}
