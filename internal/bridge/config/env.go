package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays Config fields from environment variables. A .env file in
// the working directory is loaded first if present; real environment
// variables win over .env entries.
func parseEnv(cfg *Config) error {
	_ = godotenv.Load()

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_CLIENT_ID"); v != "" {
		cfg.KafkaClientID = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWSAccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWSSecretAccessKey = v
	}
	if v := os.Getenv("AWS_ENDPOINT"); v != "" {
		cfg.AWSEndpoint = v
	}
	if v := os.Getenv("AWS_BUCKET_NAME"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("AWS_S3_EVENT_QUEUE_URL"); v != "" {
		cfg.QueueURL = v
	}
	if v := os.Getenv("DELETION_CRON_STRING"); v != "" {
		cfg.PurgeCronSpec = v
	}
	if v := os.Getenv("TRASH_RETENTION_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TRASH_RETENTION_WINDOW: %w", err)
		}
		cfg.RetentionWindow = d
	}
	if v := os.Getenv("DLQ_RETRY_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DLQ_RETRY_THRESHOLD: %w", err)
		}
		cfg.RetryThreshold = n
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
