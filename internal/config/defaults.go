package config

import (
	"github.com/knadh/koanf/v2"
)

func loadDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.addr": ":8080",

		"database.max_connections": 10,

		"redis.url": "redis://localhost:6379/0",

		"queue.backend":            "redis",
		"queue.name":               "kyc",
		"queue.visibility_timeout": "5m",
		"queue.max_attempts":       3,
		"queue.reaper_interval":    "30s",
		"queue.retry_backoff":      "5s",

		"kafka.brokers": []string{"localhost:9092"},
		"kafka.topic":   "kyc-jobs",
		"kafka.group":   "kyc-worker",

		"worker.count":    4,
		"worker.embedded": false,
		"worker.lock_ttl": "2m",

		"stages.ocr_url":         "http://localhost:5001/ocr",
		"stages.match_url":       "http://localhost:5002/match",
		"stages.issuance_url":    "http://localhost:4000/blockchain/issue",
		"stages.timeout":         "30s",
		"stages.ocr_threshold":   0.8,
		"stages.match_threshold": 0.8,

		"uploads.dir":            "uploads/kyc",
		"uploads.max_file_bytes": 5 << 20,

		"realtime.channel": "kyc:updates",

		"logging.level":  "info",
		"logging.format": "pretty",
	}

	for key, val := range defaults {
		k.Set(key, val)
	}
}
