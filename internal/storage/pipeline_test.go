package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micnote/internal/session"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

type fakeBlobs struct {
	ensureErr error
	putErr    error

	containers  []string
	names       []string
	contentType string
	data        []byte
}

func (b *fakeBlobs) EnsureContainer(_ context.Context, name string) error {
	b.containers = append(b.containers, name)
	return b.ensureErr
}

func (b *fakeBlobs) Put(_ context.Context, container, name, contentType string, data []byte) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	b.names = append(b.names, name)
	b.contentType = contentType
	b.data = data
	return "mem://" + container + "/" + name, nil
}

func (b *fakeBlobs) Close() error { return nil }

type fakeMeta struct {
	ensureErr error
	saveErr   error

	tables []string
	saved  []*session.UploadRecord
}

func (m *fakeMeta) EnsureTable(_ context.Context, name string) error {
	m.tables = append(m.tables, name)
	return m.ensureErr
}

func (m *fakeMeta) Save(_ context.Context, _ string, record *session.UploadRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, record)
	return nil
}

func (m *fakeMeta) Close() error { return nil }

type fakeNotifier struct {
	err      error
	notified []*session.UploadRecord
}

func (n *fakeNotifier) Notify(_ context.Context, record *session.UploadRecord) error {
	n.notified = append(n.notified, record)
	return n.err
}

func (n *fakeNotifier) Close() {}

var testPipelineConfig = PipelineConfig{
	Container:     "notes",
	Table:         "CloudNotes",
	ApplicationID: "micnote",
	DeviceID:      "device-1",
}

func testStream(t *testing.T) *wavstream.Stream {
	t.Helper()
	s, err := wavstream.FromPCM(make([]byte, 3200), 16000)
	require.NoError(t, err)
	return s
}

func TestPipelineUpload(t *testing.T) {
	blobs, meta, notifier := &fakeBlobs{}, &fakeMeta{}, &fakeNotifier{}
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	p := NewPipeline(testPipelineConfig, blobs, meta, notifier, metrics)
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	stream := testStream(t)
	record, err := p.Upload(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, []string{"notes"}, blobs.containers)
	require.Len(t, blobs.names, 1)
	assert.Regexp(t, `^20240301T123000-.*\.wav$`, blobs.names[0])
	assert.Equal(t, "audio/wav", blobs.contentType)
	assert.Equal(t, stream.Bytes(), blobs.data)

	assert.Equal(t, "mem://notes/"+blobs.names[0], record.URI)
	assert.Equal(t, "a", record.PartitionKey)
	assert.Equal(t, "micnote", record.ApplicationID)
	assert.Equal(t, "device-1", record.DeviceID)
	assert.Equal(t, now, record.Timestamp)

	assert.Equal(t, []string{"CloudNotes"}, meta.tables)
	require.Len(t, meta.saved, 1)
	assert.Same(t, record, meta.saved[0])
	require.Len(t, notifier.notified, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Uploads.WithLabelValues("success")))
	assert.Equal(t, float64(stream.Len()), testutil.ToFloat64(metrics.UploadBytes))
}

func TestPipelineStepFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		blobs     *fakeBlobs
		meta      *fakeMeta
		wantStep  session.Step
		wantBlobs int
	}{
		{"container", &fakeBlobs{ensureErr: boom}, &fakeMeta{}, session.StepContainer, 0},
		{"blob", &fakeBlobs{putErr: boom}, &fakeMeta{}, session.StepBlob, 0},
		{"table", &fakeBlobs{}, &fakeMeta{ensureErr: boom}, session.StepTable, 1},
		{"record", &fakeBlobs{}, &fakeMeta{saveErr: boom}, session.StepRecord, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, err := NewMetrics(prometheus.NewRegistry())
			require.NoError(t, err)
			notifier := &fakeNotifier{}

			p := NewPipeline(testPipelineConfig, tt.blobs, tt.meta, notifier, metrics)
			record, err := p.Upload(context.Background(), testStream(t))
			assert.Nil(t, record)

			var cf *session.CollaboratorFailure
			require.ErrorAs(t, err, &cf)
			assert.Equal(t, tt.wantStep, cf.Step)
			assert.ErrorIs(t, err, boom)

			// Blobs stored before a metadata failure stay where they are
			assert.Len(t, tt.blobs.names, tt.wantBlobs)
			assert.Empty(t, notifier.notified)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Uploads.WithLabelValues("failure")))
		})
	}
}

func TestPipelineWithoutMetadata(t *testing.T) {
	blobs := &fakeBlobs{}
	p := NewPipeline(testPipelineConfig, blobs, nil, nil, nil)

	record, err := p.Upload(context.Background(), testStream(t))
	require.NoError(t, err)
	assert.NotEmpty(t, record.URI)
	assert.NotEmpty(t, record.RowKey)
}

func TestPipelineNotifierErrorIgnored(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("broker down")}
	p := NewPipeline(testPipelineConfig, &fakeBlobs{}, &fakeMeta{}, notifier, nil)

	_, err := p.Upload(context.Background(), testStream(t))
	require.NoError(t, err)
	assert.Len(t, notifier.notified, 1)
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
