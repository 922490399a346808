package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportKey(t *testing.T) {
	assert.Equal(t, "exports/org-1/access-logs.csv", ExportKey("org-1", "access-logs.csv"))
	assert.Equal(t, "exports/org-1/passwd", ExportKey("org-1", "../../etc/passwd"), "names cannot escape the organization prefix")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, nil)
	require.Error(t, err)
}

func TestPresignExpire(t *testing.T) {
	s := &S3{}
	assert.Equal(t, 15*time.Minute, s.PresignExpire())
	s.cfg.PresignExpireMinutes = 60
	assert.Equal(t, time.Hour, s.PresignExpire())
}

func TestPresignDownload_Endpoint(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        "http://localhost:9000",
		ExportsBucket:   "porteria-exports",
	}, nil)
	require.NoError(t, err)

	url, expires, err := s.PresignDownload(context.Background(), ExportKey("org-1", "a.csv"))
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/porteria-exports/exports/org-1/a.csv")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expires, time.Minute)
}
