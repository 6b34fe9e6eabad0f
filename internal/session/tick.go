package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/audiolibrelab/micnote/internal/audio"
)

// Tick runs one iteration of the periodic loop
func (s *Session) Tick() {
	s.beat()
	s.checkPlayback()
}

func (s *Session) beat() {
	if s.heartbeat == nil {
		return
	}
	if err := s.heartbeat(); err != nil {
		slog.Debug("Heartbeat failed", "error", err)
	}
}

// checkPlayback returns the session to idle once the player has finished
func (s *Session) checkPlayback() {
	s.mu.Lock()
	if s.state != StatePlaying || s.player == nil {
		s.mu.Unlock()
		return
	}
	if s.player.State() == audio.PlaybackPlaying {
		s.mu.Unlock()
		return
	}

	player := s.player
	s.player = nil
	s.generation++
	s.state = StateIdle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	// Release the device
	if err := player.Stop(); err != nil {
		slog.Debug("Failed to release player", "error", err)
	}
	slog.Info("Playback finished")
	s.notify(snap)
}

// Run calls Tick every tick interval until ctx is done
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}
