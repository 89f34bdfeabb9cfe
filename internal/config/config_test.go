package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Queue.RetryBackoff)
	assert.InDelta(t, 0.8, cfg.Stages.OCRThreshold, 1e-9)
	assert.InDelta(t, 0.8, cfg.Stages.MatchThreshold, 1e-9)
	assert.Equal(t, int64(5<<20), cfg.Uploads.MaxFileBytes)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Less(t, cfg.Worker.LockTTL, cfg.Queue.VisibilityTimeout, "a crashed lease must expire before redelivery")
	assert.Empty(t, cfg.Realtime.Origins)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kyc.toml")
	err := os.WriteFile(path, []byte(`
[stages]
ocr_threshold = 0.7
match_url = "http://match.internal/match"

[worker]
count = 2
`), 0o600)
	require.NoError(t, err)

	t.Setenv("KYC_WORKER_COUNT", "8")
	t.Setenv("KYC_STAGES_MATCH_THRESHOLD", "0.9")
	t.Setenv("KYC_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.7, cfg.Stages.OCRThreshold, 1e-9)
	assert.InDelta(t, 0.9, cfg.Stages.MatchThreshold, 1e-9)
	assert.Equal(t, "http://match.internal/match", cfg.Stages.MatchURL)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "stages.ocr_url", envKey("KYC_STAGES_OCR_URL"))
	assert.Equal(t, "queue.visibility_timeout", envKey("KYC_QUEUE_VISIBILITY_TIMEOUT"))
	assert.Equal(t, "server.addr", envKey("KYC_SERVER_ADDR"))
}
