package duplex

import (
	"fmt"
	"os"
	"strconv"

	"github.com/duplexhq/duplex/pkg/api"
)

// Config collects the knobs shared by the engine constructors.
type Config struct {
	// PostgresDSN is the relational store connection string. Only used by
	// Connect; NewPostgresMongoEngine takes an existing pool.
	PostgresDSN string

	// MongoURI is the document store connection string. Only used by
	// Connect.
	MongoURI string

	// MongoDatabase names the document store database. Empty picks
	// "duplex".
	MongoDatabase string

	// MigrationBoundary is the minimum schema version accepted for
	// relational writes. Required.
	MigrationBoundary string

	// Region feeds the derived console url. Empty picks us-east-1.
	Region string

	// WorkerConcurrency sizes the worker pool started by deployments that
	// use ConfigFromEnv. Zero picks 1.
	WorkerConcurrency int

	// Extractor enumerates an event's dependent rules. Nil picks the
	// default extractor.
	Extractor RuleExtractor

	// Observer receives engine lifecycle callbacks. Nil picks the noop
	// observer.
	Observer Observer
}

// ConfigFromEnv builds a Config from DUPLEX_* environment variables:
//
//	DUPLEX_POSTGRES_DSN        relational store DSN
//	DUPLEX_MONGO_URI           document store URI
//	DUPLEX_MONGO_DATABASE      document store database (default "duplex")
//	DUPLEX_MIGRATION_BOUNDARY  minimum accepted schema version (required)
//	DUPLEX_REGION              region for derived console urls
//	DUPLEX_WORKER_CONCURRENCY  worker pool size (default 1)
//
// A missing migration boundary is reported as api.ErrConfigurationMissing,
// matching what the engine itself would return later.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		PostgresDSN:       os.Getenv("DUPLEX_POSTGRES_DSN"),
		MongoURI:          os.Getenv("DUPLEX_MONGO_URI"),
		MongoDatabase:     os.Getenv("DUPLEX_MONGO_DATABASE"),
		MigrationBoundary: os.Getenv("DUPLEX_MIGRATION_BOUNDARY"),
		Region:            os.Getenv("DUPLEX_REGION"),
	}

	if cfg.MigrationBoundary == "" {
		return Config{}, fmt.Errorf("%w: DUPLEX_MIGRATION_BOUNDARY is not set", api.ErrConfigurationMissing)
	}

	if v := os.Getenv("DUPLEX_WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DUPLEX_WORKER_CONCURRENCY %q: %w", v, err)
		}
		cfg.WorkerConcurrency = n
	}

	return cfg, nil
}
