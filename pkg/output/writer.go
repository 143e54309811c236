package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

const timestampLayout = "2006-01-02_15-04-05"

type Settings struct {
	Dir             string
	Compress        bool
	MaxAge          time.Duration
	MaxFilesPerType int
	Version         string
	Tenant          string
	CacheBackend    string
}

// Sink receives a copy of every written report.
type Sink interface {
	Upload(ctx context.Context, name string, body io.Reader) error
}

type Option func(*Writer)

func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

func WithSink(sink Sink) Option {
	return func(w *Writer) { w.sink = sink }
}

// Writer persists reports as timestamped JSON files. Files appear
// atomically: a reader never sees a partial report.
type Writer struct {
	mu       sync.Mutex
	settings Settings
	sink     Sink
	now      func() time.Time
}

func NewWriter(settings Settings, opts ...Option) (*Writer, error) {
	if settings.Dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(settings.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	w := &Writer{settings: settings, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Reconfigure swaps compression and retention. The directory is fixed.
func (w *Writer) Reconfigure(compress bool, maxAge time.Duration, maxFilesPerType int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings.Compress = compress
	w.settings.MaxAge = maxAge
	w.settings.MaxFilesPerType = maxFilesPerType
}

func (w *Writer) Settings() Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

func FileName(reportType string, at time.Time, compress bool) string {
	name := fmt.Sprintf("%s_%s_UTC.json", reportType, at.UTC().Format(timestampLayout))
	if compress {
		name += ".gz"
	}
	return name
}

// Write stamps the report metadata and stores it. It returns the path of
// the written file.
func (w *Writer) Write(ctx context.Context, runID string, report api.Report) (string, error) {
	settings := w.Settings()
	now := w.now().UTC()

	report.Stamp(api.ReportMetadata{
		Version:      settings.Version,
		Timestamp:    now,
		ReportType:   report.ReportType(),
		Tenant:       settings.Tenant,
		CacheBackend: settings.CacheBackend,
		RunID:        runID,
	})

	name := FileName(report.ReportType(), now, settings.Compress)
	path := filepath.Join(settings.Dir, name)
	if err := writeAtomic(path, settings.Compress, report); err != nil {
		return "", fmt.Errorf("failed to write %s report: %w", report.ReportType(), err)
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().Str("path", path).Str("report_type", report.ReportType()).Msg("report written")

	if w.sink != nil {
		if err := w.upload(ctx, name, path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to upload report")
		}
	}
	return path, nil
}

func (w *Writer) upload(ctx context.Context, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return w.sink.Upload(ctx, name, f)
}

func writeAtomic(path string, compress bool, v any) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	var out io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		out = gz
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err = enc.Encode(v); err != nil {
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return err
		}
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
