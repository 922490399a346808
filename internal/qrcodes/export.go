package qrcodes

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/storage"
)

// ObjectStore is the part of pkg/storage the exporter needs.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PresignDownload(ctx context.Context, key string) (string, time.Time, error)
}

// ExportResult points at an uploaded CSV.
type ExportResult struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Rows      int       `json:"rows"`
}

// Exporter renders access logs as CSV and uploads them.
type Exporter struct {
	objects ObjectStore
	logger  *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(objects ObjectStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{objects: objects, logger: logger}
}

var csvHeader = []string{"id", "timestamp", "entry_type", "visitor_name", "qr_code_id", "scanned_by", "notes"}

// Export writes every row produced by each into one CSV object.
func (e *Exporter) Export(ctx context.Context, orgID uuid.UUID, each func(fn func(models.AccessLog) error) error) (*ExportResult, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	rows := 0
	err := each(func(l models.AccessLog) error {
		rows++
		return w.Write([]string{
			l.ID.String(),
			l.Timestamp.UTC().Format(time.RFC3339),
			string(l.EntryType),
			l.VisitorName,
			l.QRCodeID.String(),
			l.ScannedBy.String(),
			l.Notes,
		})
	})
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	key := storage.ExportKey(orgID.String(), "access-logs-"+ulid.Make().String()+".csv")
	if err := e.objects.Upload(ctx, key, "text/csv", &buf); err != nil {
		return nil, err
	}
	url, expiresAt, err := e.objects.PresignDownload(ctx, key)
	if err != nil {
		return nil, err
	}
	e.logger.Info("access logs exported",
		zap.String("organization_id", orgID.String()),
		zap.String("key", key),
		zap.Int("rows", rows),
	)
	return &ExportResult{Key: key, URL: url, ExpiresAt: expiresAt, Rows: rows}, nil
}
