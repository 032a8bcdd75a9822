// Package config loads runtime configuration for every nimbus binary from
// the environment, with a .env file as an optional local override.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration shared by every nimbus binary.
// Individual binaries (api, worker, scheduler, merger, cleaner) only read
// the groups relevant to them.
type Config struct {
	Catalog CatalogConfig
	Server  ServerConfig
	Queue   QueueConfig
	Storage StorageConfig
	Clean   CleanConfig
	Merge   MergeConfig
	Tracing TracingConfig
}

// CatalogConfig holds Postgres connection settings for the Catalog store.
type CatalogConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ServerConfig holds HTTP query API server settings.
type ServerConfig struct {
	Port int
}

// QueueConfig holds work queue tuning.
type QueueConfig struct {
	LeaseSeconds int
}

// CleanConfig holds retention/cleaner tuning (Open Question: retention
// horizon made configurable, see SPEC_FULL.md).
type CleanConfig struct {
	RetentionHours int
}

// MergeConfig holds merger tuning.
type MergeConfig struct {
	MinArtifacts int
}

// DataProviderKind selects the Blob store backend.
type DataProviderKind string

const (
	ProviderS3         DataProviderKind = "S3"
	ProviderWideColumn DataProviderKind = "WIDE_COLUMN"
)

// StorageConfig holds Blob store backend selection and credentials. Only
// the selected backend's fields are used at runtime; WideColumn reuses
// the Catalog's own Postgres connection (no separate credentials, see
// DESIGN.md on the Azure Tables SDK gap).
type StorageConfig struct {
	Provider DataProviderKind

	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Bucket    string
	S3Endpoint  string
}

// TracingConfig holds distributed tracing / error-reporting sinks.
type TracingConfig struct {
	SentryEndpoint string
	Exporter       string // "jaeger" or "honeycomb"
	ExporterHost   string
	ExporterKey    string
}

// LoadEnv loads environment variables from a .env file, if present. It is
// not an error for the file to be missing.
func LoadEnv() error {
	return godotenv.Load()
}

// NewConfig builds a Config from environment variables, falling back to
// sane local-development defaults for anything unset.
func NewConfig() *Config {
	catalogPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		catalogPort = 5432
	}

	serverPort, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		serverPort = 8080
	}

	leaseSeconds, err := strconv.Atoi(getEnv("QUEUE_LEASE_SECONDS", "300"))
	if err != nil {
		leaseSeconds = 300
	}

	retentionHours, err := strconv.Atoi(getEnv("CLEAN_RETENTION_HOURS", "24"))
	if err != nil {
		retentionHours = 24
	}

	minArtifacts, err := strconv.Atoi(getEnv("MERGE_MIN_ARTIFACTS", "8"))
	if err != nil {
		minArtifacts = 8
	}

	return &Config{
		Catalog: CatalogConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     catalogPort,
			User:     getEnv("POSTGRES_USER", "nimbus"),
			Password: getEnv("POSTGRES_PASS", ""),
			Name:     getEnv("POSTGRES_DB", "nimbusdb"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port: serverPort,
		},
		Queue: QueueConfig{
			LeaseSeconds: leaseSeconds,
		},
		Clean: CleanConfig{
			RetentionHours: retentionHours,
		},
		Merge: MergeConfig{
			MinArtifacts: minArtifacts,
		},
		Storage: StorageConfig{
			Provider: DataProviderKind(getEnv("DATA_PROVIDER", string(ProviderS3))),

			S3AccessKey: getEnv("INGEST_S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("INGEST_S3_SECRET_KEY", ""),
			S3Region:    getEnv("INGEST_S3_REGION", "us-east-1"),
			S3Bucket:    getEnv("INGEST_S3_BUCKET", ""),
			S3Endpoint:  getEnv("INGEST_S3_ENDPOINT", ""),
		},
		Tracing: TracingConfig{
			SentryEndpoint: getEnv("SENTRY_ENDPOINT", ""),
			Exporter:       getEnv("TRACE_EXPORTER", ""),
			ExporterHost:   getEnv("TRACE_EXPORTER_HOST", ""),
			ExporterKey:    getEnv("TRACE_EXPORTER_KEY", ""),
		},
	}
}

// GetEnv exposes the lookup-with-default helper to other packages, same
// as the teacher's public wrapper.
func (c *Config) GetEnv(key, defaultValue string) string {
	return getEnv(key, defaultValue)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
