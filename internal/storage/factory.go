// factory.go builds the configured DataProvider backend (spec §9:
// "dynamic dispatch over DataProvider, exactly one concrete backend per
// deployment") from config.StorageConfig, shared by every binary that
// writes or reads through the Blob store.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nimbusgrid/nimbus/internal/catalog"
	"github.com/nimbusgrid/nimbus/internal/config"
)

// NewFromConfig selects and constructs the backend named by
// cfg.Storage.Provider.
func NewFromConfig(ctx context.Context, cfg *config.Config, db *sql.DB, fileMetaRepo *catalog.FileMetaRepository, fileBandMetaRepo *catalog.FileBandMetaRepository, projectionRepo *catalog.ProjectionRepository) (DataProvider, error) {
	switch cfg.Storage.Provider {
	case config.ProviderWideColumn:
		return NewWideColumnStore(db), nil
	case config.ProviderS3, "":
		client, err := newS3Client(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("build s3 client: %w", err)
		}
		store := NewS3Store(client, cfg.Storage.S3Bucket, fileMetaRepo, fileBandMetaRepo, projectionRepo)
		if cfg.Merge.MinArtifacts > 0 {
			store.MergeMinArtifacts = cfg.Merge.MinArtifacts
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown data provider %q", cfg.Storage.Provider)
	}
}

func newS3Client(ctx context.Context, sc config.StorageConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(sc.S3Region))
	if sc.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.S3AccessKey, sc.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.S3Endpoint != "" {
			o.BaseEndpoint = &sc.S3Endpoint
			o.UsePathStyle = true
		}
	}), nil
}
