package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// stagingChunks is how many chunks the staging ring holds before the device
// callback starts dropping samples
const stagingChunks = 4

// MalgoMicrophone captures PCM16 mono through miniaudio
type MalgoMicrophone struct {
	deviceName string
	sampleRate int

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	ring    *ringbuffer.RingBuffer
	ready   func()
	chunk   int
	pending int

	dropped atomic.Int64
}

// NewMalgoMicrophone creates a microphone for the configured device. The
// device is opened lazily by Start.
func NewMalgoMicrophone(cfg config.AudioConfig) *MalgoMicrophone {
	return &MalgoMicrophone{
		deviceName: cfg.Device,
		sampleRate: cfg.SampleRate,
	}
}

func (m *MalgoMicrophone) SampleRate() int {
	return m.sampleRate
}

// Dropped returns the number of bytes discarded because the staging ring was full
func (m *MalgoMicrophone) Dropped() int64 {
	return m.dropped.Load()
}

func (m *MalgoMicrophone) Start(bufferDuration time.Duration, ready func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("microphone already started")
	}

	chunk := wavstream.ChunkBytes(m.sampleRate, int(bufferDuration/time.Millisecond))
	if chunk <= 0 {
		return fmt.Errorf("invalid buffer duration: %s", bufferDuration)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", message)
	})
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = wavstream.Channels
	deviceCfg.SampleRate = uint32(m.sampleRate)
	deviceCfg.PeriodSizeInMilliseconds = uint32(bufferDuration / time.Millisecond)

	if m.deviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return fmt.Errorf("enumerating capture devices: %w", err)
		}
		idx, err := selectDevice(toDeviceList(infos), m.deviceName)
		if err != nil {
			freeContext(ctx)
			return err
		}
		deviceCfg.Capture.DeviceID = infos[idx].ID.Pointer()
	}

	m.ring = ringbuffer.New(chunk * stagingChunks)
	m.ready = ready
	m.chunk = chunk
	m.pending = 0
	m.dropped.Store(0)

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		freeContext(ctx)
		return fmt.Errorf("initializing capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return fmt.Errorf("starting capture device: %w", err)
	}

	m.ctx = ctx
	m.device = device

	slog.Debug("Microphone started",
		"device", m.deviceName,
		"sample_rate", m.sampleRate,
		"chunk_bytes", chunk)

	return nil
}

func (m *MalgoMicrophone) Stop() error {
	m.mu.Lock()
	device := m.device
	ctx := m.ctx
	m.device = nil
	m.ctx = nil
	m.mu.Unlock()

	if device == nil {
		return fmt.Errorf("microphone not started")
	}

	// Uninit blocks until the data callback returns, so it runs unlocked
	device.Uninit()
	freeContext(ctx)

	if dropped := m.dropped.Load(); dropped > 0 {
		slog.Warn("Microphone staging ring overflowed", "dropped_bytes", dropped)
	}
	return nil
}

func (m *MalgoMicrophone) GetData(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ring == nil || m.ring.IsEmpty() {
		return 0, nil
	}
	n, err := m.ring.Read(buf)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return n, fmt.Errorf("reading staged samples: %w", err)
	}
	return n, nil
}

// onData runs on the miniaudio thread
func (m *MalgoMicrophone) onData(_, input []byte, _ uint32) {
	var fire int

	m.mu.Lock()
	if m.ring == nil {
		m.mu.Unlock()
		return
	}
	n, err := m.ring.Write(input)
	if err != nil {
		m.dropped.Add(int64(len(input) - n))
	}
	m.pending += n
	for m.pending >= m.chunk {
		m.pending -= m.chunk
		fire++
	}
	ready := m.ready
	m.mu.Unlock()

	for ; fire > 0; fire-- {
		ready()
	}
}

func freeContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	if err := ctx.Uninit(); err != nil {
		slog.Debug("Failed to uninitialize audio context", "error", err)
	}
	ctx.Free()
}
