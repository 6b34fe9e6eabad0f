package play

import (
	"fmt"
	"sync"
	"time"

	"github.com/audiolibrelab/micnote/internal/audio"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// SilentPlayer reports Playing for as long as the buffer would take to
// play, without touching any device
type SilentPlayer struct {
	duration time.Duration
	now      func() time.Time

	mu      sync.Mutex
	started time.Time
	stopped bool
}

func NewSilentPlayer(pcm []byte, sampleRate, channels int) (*SilentPlayer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	frames := len(pcm) / (wavstream.BytesPerSample * channels)
	return &SilentPlayer{
		duration: time.Duration(frames) * time.Second / time.Duration(sampleRate),
		now:      time.Now,
	}, nil
}

func (p *SilentPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started.IsZero() {
		return fmt.Errorf("player already started")
	}
	p.started = p.now()
	return nil
}

func (p *SilentPlayer) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return nil
}

func (p *SilentPlayer) State() audio.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.started.IsZero() {
		return audio.PlaybackStopped
	}
	if p.now().Sub(p.started) >= p.duration {
		return audio.PlaybackStopped
	}
	return audio.PlaybackPlaying
}
