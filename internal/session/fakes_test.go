package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/micnote/internal/audio"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// fakeMicrophone hands out chunks of a fixed byte value whenever the test
// calls fire
type fakeMicrophone struct {
	rate     int
	fill     byte
	startErr error

	mu      sync.Mutex
	ready   func()
	started bool
	starts  int
	stops   int
}

func newFakeMicrophone(rate int) *fakeMicrophone {
	return &fakeMicrophone{rate: rate, fill: 0x7f}
}

func (m *fakeMicrophone) SampleRate() int { return m.rate }

func (m *fakeMicrophone) Start(_ time.Duration, ready func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.ready = ready
	m.started = true
	m.starts++
	return nil
}

func (m *fakeMicrophone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("not started")
	}
	m.started = false
	m.stops++
	return nil
}

func (m *fakeMicrophone) GetData(buf []byte) (int, error) {
	for i := range buf {
		buf[i] = m.fill
	}
	return len(buf), nil
}

// fire simulates n buffer-ready notifications from the audio thread
func (m *fakeMicrophone) fire(n int) {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	for i := 0; i < n; i++ {
		ready()
	}
}

type fakePlayer struct {
	playErr error

	playing atomic.Bool
	played  atomic.Bool
	stops   atomic.Int32
}

func (p *fakePlayer) Play() error {
	if p.playErr != nil {
		return p.playErr
	}
	p.playing.Store(true)
	p.played.Store(true)
	return nil
}

func (p *fakePlayer) Stop() error {
	p.playing.Store(false)
	p.stops.Add(1)
	return nil
}

func (p *fakePlayer) State() audio.PlaybackState {
	if p.playing.Load() {
		return audio.PlaybackPlaying
	}
	return audio.PlaybackStopped
}

type playerFactory struct {
	player *fakePlayer
	err    error

	calls      atomic.Int32
	sampleRate atomic.Int32
	pcmLen     atomic.Int32
}

func (f *playerFactory) New(pcm []byte, sampleRate, channels int) (audio.Player, error) {
	f.calls.Add(1)
	f.sampleRate.Store(int32(sampleRate))
	f.pcmLen.Store(int32(len(pcm)))
	if f.err != nil {
		return nil, f.err
	}
	return f.player, nil
}

type fakeUploader struct {
	release chan struct{}
	err     error

	calls atomic.Int32
	bytes atomic.Int32
}

func (u *fakeUploader) Upload(ctx context.Context, stream *wavstream.Stream) (*UploadRecord, error) {
	u.calls.Add(1)
	u.bytes.Store(int32(stream.Len()))
	if u.release != nil {
		select {
		case <-u.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if u.err != nil {
		return nil, u.err
	}
	return &UploadRecord{PartitionKey: "a", RowKey: "row", URI: "file:///notes/x.wav"}, nil
}
