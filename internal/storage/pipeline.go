package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/audiolibrelab/micnote/internal/notify"
	"github.com/audiolibrelab/micnote/internal/session"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// Metrics counts upload outcomes
type Metrics struct {
	Uploads     *prometheus.CounterVec
	UploadBytes prometheus.Counter
}

// NewMetrics creates the upload counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "micnote_uploads_total",
				Help: "Number of finished uploads by result.",
			},
			[]string{"result"},
		),
		UploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "micnote_upload_bytes_total",
				Help: "Bytes of WAV data stored by successful uploads.",
			},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.Uploads, m.UploadBytes} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// PipelineConfig names where uploads go and who they belong to
type PipelineConfig struct {
	Container     string
	Table         string
	ApplicationID string
	DeviceID      string
}

// Pipeline stores a recording and its metadata: ensure container, put blob,
// ensure table, save record, then notify. A blob stored before a metadata
// failure is left in place.
type Pipeline struct {
	blobs    BlobStore
	meta     MetadataStore
	notifier notify.Notifier
	metrics  *Metrics
	cfg      PipelineConfig
	now      func() time.Time
}

// NewPipeline creates an upload pipeline. meta, notifier and metrics may be nil.
func NewPipeline(cfg PipelineConfig, blobs BlobStore, meta MetadataStore, notifier notify.Notifier, metrics *Metrics) *Pipeline {
	return &Pipeline{
		blobs:    blobs,
		meta:     meta,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (p *Pipeline) Upload(ctx context.Context, stream *wavstream.Stream) (*session.UploadRecord, error) {
	record, err := p.upload(ctx, stream)
	if err != nil {
		p.count("failure", 0)
		return nil, err
	}
	p.count("success", stream.Len())
	return record, nil
}

func (p *Pipeline) upload(ctx context.Context, stream *wavstream.Stream) (*session.UploadRecord, error) {
	now := p.now()

	if err := p.blobs.EnsureContainer(ctx, p.cfg.Container); err != nil {
		return nil, &session.CollaboratorFailure{Step: session.StepContainer, Err: err}
	}

	name := BlobName(now)
	uri, err := p.blobs.Put(ctx, p.cfg.Container, name, wavstream.ContentType, stream.Bytes())
	if err != nil {
		return nil, &session.CollaboratorFailure{Step: session.StepBlob, Err: err}
	}
	slog.Debug("Stored blob", "container", p.cfg.Container, "name", name, "uri", uri)

	record := &session.UploadRecord{
		PartitionKey:  PartitionKey,
		RowKey:        RowKey(now),
		URI:           uri,
		ApplicationID: p.cfg.ApplicationID,
		DeviceID:      p.cfg.DeviceID,
		Timestamp:     now.UTC(),
	}

	if p.meta != nil {
		if err := p.meta.EnsureTable(ctx, p.cfg.Table); err != nil {
			return nil, &session.CollaboratorFailure{Step: session.StepTable, Err: err}
		}
		if err := p.meta.Save(ctx, p.cfg.Table, record); err != nil {
			return nil, &session.CollaboratorFailure{Step: session.StepRecord, Err: err}
		}
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, record); err != nil {
			slog.Warn("Failed to publish upload notification", "uri", uri, "error", err)
		}
	}

	return record, nil
}

func (p *Pipeline) count(result string, bytes int) {
	if p.metrics == nil {
		return
	}
	p.metrics.Uploads.WithLabelValues(result).Inc()
	if bytes > 0 {
		p.metrics.UploadBytes.Add(float64(bytes))
	}
}
