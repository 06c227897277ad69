package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"imagesearch/internal/blob"
	"imagesearch/internal/config"
	"imagesearch/internal/embed"
	"imagesearch/internal/gallery"
	"imagesearch/internal/meta"
	"imagesearch/internal/vecindex"
)

// app bundles everything the commands need, with a single Close for
// teardown in reverse construction order.
type app struct {
	gal      *gallery.Gallery
	embedder embed.Embedder
	metaSt   meta.Store
	index    vecindex.Index
	pool     *pgxpool.Pool
}

func (a *app) Close() {
	if a.index != nil {
		a.index.Close()
	}
	if a.metaSt != nil {
		a.metaSt.Close()
	}
	if a.embedder != nil {
		a.embedder.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildApp constructs the configured embedder, stores and gallery.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.embedder, err = buildEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	// Postgres meta and pgvector share one pool.
	needsPool := cfg.Meta.Provider == "postgres" || cfg.Index.Provider == "pgvector"
	if needsPool {
		url := cfg.Meta.PostgresURL
		if cfg.Index.Provider == "pgvector" && cfg.Index.PostgresURL != "" {
			url = cfg.Index.PostgresURL
		}
		a.pool, err = pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
	}

	a.metaSt, err = buildMetaStore(ctx, cfg, a.pool)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}

	a.index, err = buildIndex(ctx, cfg, a.pool, a.embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}

	a.gal = gallery.New(a.embedder, blobs, a.metaSt, a.index, gallery.Config{
		AllowedTypes:    cfg.Gallery.AllowedTypes,
		ThumbnailMaxDim: cfg.Gallery.ThumbnailMaxDim,
		OverfetchFactor: cfg.Gallery.OverfetchFactor,
		OpTimeout:       cfg.Gallery.OpTimeout,
		RetryAttempts:   cfg.Gallery.RetryAttempts,
		RetryBaseDelay:  cfg.Gallery.RetryBaseDelay,
	}, log)

	ok = true
	return a, nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "onnx":
		return embed.NewONNX(embed.ONNXConfig{
			TextModelPath:  cfg.Embedding.TextModelPath,
			ImageModelPath: cfg.Embedding.ImageModelPath,
			TokenizerPath:  cfg.Embedding.TokenizerPath,
			LibraryPath:    cfg.Embedding.LibraryPath,
			Dimension:      cfg.Embedding.Dimension,
		})
	case "clipserver":
		return embed.NewClipServer(embed.ClipServerConfig{
			BaseURL:   cfg.Embedding.ServerURL,
			Dimension: cfg.Embedding.Dimension,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func buildBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Provider {
	case "local":
		return blob.NewLocal(cfg.Blob.Dir)
	case "s3":
		client := s3.New(s3.Options{
			Region:      cfg.Blob.Region,
			Credentials: envCredentials(),
		})
		return blob.NewS3(client, cfg.Blob.Bucket, cfg.Blob.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown blob provider %q", cfg.Blob.Provider)
	}
}

// envCredentials reads the standard AWS credential environment
// variables directly, so the s3 client works without pulling in the
// full aws config resolution chain.
func envCredentials() aws.CredentialsProviderFunc {
	return func(ctx context.Context) (aws.Credentials, error) {
		id := os.Getenv("AWS_ACCESS_KEY_ID")
		secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set for the s3 blob provider")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		}, nil
	}
}

func buildMetaStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (meta.Store, error) {
	switch cfg.Meta.Provider {
	case "memory":
		return meta.NewMemory(), nil
	case "badger":
		return meta.NewBadger(meta.BadgerOptions{Dir: cfg.Meta.BadgerDir})
	case "postgres":
		return meta.NewPostgres(ctx, pool)
	default:
		return nil, fmt.Errorf("unknown meta provider %q", cfg.Meta.Provider)
	}
}

func buildIndex(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, dim int) (vecindex.Index, error) {
	switch cfg.Index.Provider {
	case "memory":
		return vecindex.NewMemory(), nil
	case "chroma":
		return vecindex.NewChroma(vecindex.ChromaConfig{
			URL:            cfg.Index.ChromaURL,
			CollectionName: cfg.Index.Collection,
		}, log)
	case "pgvector":
		return vecindex.NewPGVector(ctx, pool, dim)
	default:
		return nil, fmt.Errorf("unknown index provider %q", cfg.Index.Provider)
	}
}
