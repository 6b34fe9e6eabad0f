package session

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/micnote/internal/audio"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// Capture accumulates microphone chunks into a WAV stream. OnBufferReady is
// called from the microphone's own goroutine, so every field below mu is
// guarded by it.
type Capture struct {
	mic audio.Microphone

	mu        sync.Mutex
	capturing bool
	buf       bytes.Buffer
	scratch   []byte
}

func NewCapture(mic audio.Microphone) *Capture {
	return &Capture{mic: mic}
}

// Start resets the buffer, writes the placeholder header and arms the microphone
func (c *Capture) Start(sampleRate int, bufferDuration time.Duration) error {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return &InvalidStateError{Op: "start capture", State: StateRecording}
	}

	chunk := wavstream.ChunkBytes(sampleRate, int(bufferDuration/time.Millisecond))
	if chunk <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("invalid capture chunk for %d Hz and %s", sampleRate, bufferDuration)
	}

	c.buf.Reset()
	if err := wavstream.WriteHeader(&c.buf, sampleRate); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	c.scratch = make([]byte, chunk)
	c.capturing = true
	c.mu.Unlock()

	// The microphone may call OnBufferReady before Start returns
	if err := c.mic.Start(bufferDuration, c.OnBufferReady); err != nil {
		c.mu.Lock()
		c.capturing = false
		c.mu.Unlock()
		return fmt.Errorf("failed to start microphone: %w", err)
	}

	slog.Debug("Capture started", "sample_rate", sampleRate, "chunk_bytes", chunk)
	return nil
}

// OnBufferReady drains one chunk from the microphone into the buffer
func (c *Capture) OnBufferReady() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return
	}

	n, err := c.mic.GetData(c.scratch)
	if err != nil {
		slog.Warn("Failed to read microphone data", "error", err)
		return
	}
	c.buf.Write(c.scratch[:n])
}

// Stop disarms the microphone and returns the finalized stream
func (c *Capture) Stop() (*wavstream.Stream, error) {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return nil, &InvalidStateError{Op: "stop capture", State: StateIdle}
	}
	c.capturing = false
	c.mu.Unlock()

	// Stopping may wait for an in-flight callback, which needs mu
	if err := c.mic.Stop(); err != nil {
		slog.Warn("Failed to stop microphone", "error", err)
	}

	c.mu.Lock()
	data := bytes.Clone(c.buf.Bytes())
	c.mu.Unlock()

	if err := wavstream.Finalize(data); err != nil {
		return nil, fmt.Errorf("failed to finalize wav header: %w", err)
	}
	return wavstream.New(data)
}

// Capturing reports whether the microphone is armed
func (c *Capture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Len returns the number of bytes captured so far, header included
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}
