package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/audiolibrelab/micnote/internal/session"
)

var sessionStates = []session.State{session.StateIdle, session.StateRecording, session.StatePlaying}

// sessionGauges mirror the session snapshot for scraping
type sessionGauges struct {
	state       *prometheus.GaugeVec
	uploading   prometheus.Gauge
	streamBytes prometheus.Gauge
}

func newSessionGauges(reg prometheus.Registerer) (*sessionGauges, error) {
	g := &sessionGauges{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "micnote_session_state",
			Help: "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		uploading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "micnote_session_uploading",
			Help: "1 while an upload is in flight.",
		}),
		streamBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "micnote_stream_bytes",
			Help: "Size of the current WAV stream including the header.",
		}),
	}
	for _, c := range []prometheus.Collector{g.state, g.uploading, g.streamBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *sessionGauges) observe(snap session.Snapshot) {
	for _, st := range sessionStates {
		v := 0.0
		if snap.State == st {
			v = 1
		}
		g.state.WithLabelValues(string(st)).Set(v)
	}
	if snap.Uploading {
		g.uploading.Set(1)
	} else {
		g.uploading.Set(0)
	}
	g.streamBytes.Set(float64(snap.StreamBytes))
}
