package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
)

// MultipartThreshold is the compressed size above which exports go through
// the multipart uploader.
const MultipartThreshold = 5 * 1024 * 1024

const (
	defaultExportInterval = 15 * time.Minute
	exportContentType     = "application/gzip"
)

// SnapshotReader reads the current opportunity snapshot.
type SnapshotReader interface {
	Snapshot(ctx context.Context) ([]domain.Opportunity, error)
}

// SnapshotExporter periodically uploads the snapshot as gzip JSON.
type SnapshotExporter struct {
	reader   SnapshotReader
	blob     domain.BlobWriter
	prefix   string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSnapshotExporter creates a SnapshotExporter writing under prefix.
func NewSnapshotExporter(reader SnapshotReader, blob domain.BlobWriter, prefix string, interval time.Duration, logger *slog.Logger) *SnapshotExporter {
	if interval <= 0 {
		interval = defaultExportInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotExporter{
		reader:   reader,
		blob:     blob,
		prefix:   strings.Trim(prefix, "/"),
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "snapshot_exporter")),
	}
}

// ObjectKey returns "{prefix}/YYYY/MM/DD/HHMMSSZ.json.gz" for t in UTC.
func ObjectKey(prefix string, t time.Time) string {
	key := t.UTC().Format("2006/01/02/150405Z") + ".json.gz"
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// Run exports the snapshot once and returns the object key. An empty
// snapshot is skipped and yields "".
func (e *SnapshotExporter) Run(ctx context.Context) (string, error) {
	opps, err := e.reader.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("reading snapshot: %w", err)
	}
	if len(opps) == 0 {
		e.logger.Debug("snapshot empty, export skipped")
		return "", nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(opps); err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing snapshot: %w", err)
	}

	key := ObjectKey(e.prefix, e.now())
	size := buf.Len()
	if size > MultipartThreshold {
		err = e.blob.PutMultipart(ctx, key, &buf, exportContentType)
	} else {
		err = e.blob.Put(ctx, key, bytes.NewReader(buf.Bytes()), exportContentType)
	}
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	e.logger.Info("snapshot exported",
		slog.String("key", key),
		slog.Int("opportunities", len(opps)),
		slog.Int("bytes", size),
	)
	return key, nil
}

// RunLoop exports on every interval tick until ctx is cancelled.
func (e *SnapshotExporter) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("snapshot exporter loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("snapshot export failed", slog.String("error", err.Error()))
			}
		}
	}
}
