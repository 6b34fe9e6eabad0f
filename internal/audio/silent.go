package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// SilentMicrophone produces zero samples on a timer. It stands in for real
// hardware on headless hosts.
type SilentMicrophone struct {
	sampleRate int

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	pending int
	chunk   int
}

func NewSilentMicrophone(sampleRate int) *SilentMicrophone {
	return &SilentMicrophone{sampleRate: sampleRate}
}

func (m *SilentMicrophone) SampleRate() int {
	return m.sampleRate
}

func (m *SilentMicrophone) Start(bufferDuration time.Duration, ready func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return fmt.Errorf("microphone already started")
	}
	if bufferDuration <= 0 {
		return fmt.Errorf("invalid buffer duration: %s", bufferDuration)
	}

	m.chunk = wavstream.ChunkBytes(m.sampleRate, int(bufferDuration/time.Millisecond))
	m.pending = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go m.run(bufferDuration, ready, m.stop, m.done)
	return nil
}

func (m *SilentMicrophone) run(interval time.Duration, ready func(), stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.pending += m.chunk
			m.mu.Unlock()
			ready()
		}
	}
}

func (m *SilentMicrophone) Stop() error {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return fmt.Errorf("microphone not started")
	}
	close(stop)
	<-done
	return nil
}

func (m *SilentMicrophone) GetData(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(len(buf), m.pending)
	clear(buf[:n])
	m.pending -= n
	return n, nil
}
