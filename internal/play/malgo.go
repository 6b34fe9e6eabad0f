package play

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/audiolibrelab/micnote/internal/audio"
)

// MalgoPlayer plays a PCM16 buffer on the default output device
type MalgoPlayer struct {
	pcm        []byte
	sampleRate int
	channels   int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	offset int

	playing  atomic.Bool
	stopOnce sync.Once
}

func NewMalgoPlayer(pcm []byte, sampleRate, channels int) (*MalgoPlayer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	return &MalgoPlayer{
		pcm:        pcm,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (p *MalgoPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		return fmt.Errorf("player already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatS16
	deviceCfg.Playback.Channels = uint32(p.channels)
	deviceCfg.SampleRate = uint32(p.sampleRate)

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: p.onData,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("initializing playback device: %w", err)
	}

	p.ctx = ctx
	p.device = device
	p.offset = 0
	p.playing.Store(true)

	if err := device.Start(); err != nil {
		p.playing.Store(false)
		return fmt.Errorf("starting playback device: %w", err)
	}

	slog.Debug("Playback started",
		"bytes", len(p.pcm),
		"sample_rate", p.sampleRate,
		"channels", p.channels)
	return nil
}

// onData runs on the miniaudio thread. Playback is reported finished on the
// first callback after the last samples were handed over, once the device
// has consumed the period that carried them.
func (p *MalgoPlayer) onData(output, _ []byte, _ uint32) {
	p.mu.Lock()
	drained := p.offset >= len(p.pcm)
	n := copy(output, p.pcm[p.offset:])
	p.offset += n
	p.mu.Unlock()

	clear(output[n:])
	if drained {
		p.playing.Store(false)
	}
}

// Stop halts playback and releases the device. It is safe to call more than once.
func (p *MalgoPlayer) Stop() error {
	p.playing.Store(false)

	p.mu.Lock()
	device, ctx := p.device, p.ctx
	p.mu.Unlock()

	if device == nil {
		return nil
	}

	var err error
	p.stopOnce.Do(func() {
		device.Uninit()
		if uerr := ctx.Uninit(); uerr != nil {
			err = fmt.Errorf("uninitializing audio context: %w", uerr)
		}
		ctx.Free()
	})
	return err
}

func (p *MalgoPlayer) State() audio.PlaybackState {
	if p.playing.Load() {
		return audio.PlaybackPlaying
	}
	return audio.PlaybackStopped
}

