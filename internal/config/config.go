// Package config loads the application configuration from a YAML file,
// environment variables (IMAGESEARCH_ prefix) and built-in defaults,
// in that order of increasing precedence for env over file.
package config

import "time"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Meta      MetaConfig      `mapstructure:"meta"`
	Index     IndexConfig     `mapstructure:"index"`
	Gallery   GalleryConfig   `mapstructure:"gallery"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// EmbeddingConfig selects and configures the embedding gateway.
// Provider is "onnx" (local CLIP towers) or "clipserver" (remote HTTP).
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"`
	Dimension      int    `mapstructure:"dimension"`
	TextModelPath  string `mapstructure:"text_model_path"`
	ImageModelPath string `mapstructure:"image_model_path"`
	TokenizerPath  string `mapstructure:"tokenizer_path"`
	LibraryPath    string `mapstructure:"library_path"`
	ServerURL      string `mapstructure:"server_url"`
}

// BlobConfig selects the binary store. Provider is "local" or "s3".
type BlobConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
}

// MetaConfig selects the metadata store. Provider is "memory", "badger"
// or "postgres".
type MetaConfig struct {
	Provider    string `mapstructure:"provider"`
	BadgerDir   string `mapstructure:"badger_dir"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// IndexConfig selects the vector index. Provider is "memory", "chroma"
// or "pgvector". PostgresURL falls back to MetaConfig's when empty.
type IndexConfig struct {
	Provider    string `mapstructure:"provider"`
	ChromaURL   string `mapstructure:"chroma_url"`
	Collection  string `mapstructure:"collection"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type GalleryConfig struct {
	AllowedTypes    []string      `mapstructure:"allowed_types"`
	ThumbnailMaxDim int           `mapstructure:"thumbnail_max_dim"`
	OverfetchFactor int           `mapstructure:"overfetch_factor"`
	OpTimeout       time.Duration `mapstructure:"op_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
}

type LogConfig struct {
	Debug  bool   `mapstructure:"debug"`
	Format string `mapstructure:"format"` // text, json or pretty
}

// Default returns the configuration used when nothing is set: a fully
// local single-binary setup with badger metadata, local blobs and the
// in-process vector index.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080"},
		Embedding: EmbeddingConfig{
			Provider:       "clipserver",
			Dimension:      512,
			ServerURL:      "http://localhost:8765",
			TextModelPath:  "./model/clip_text.onnx",
			ImageModelPath: "./model/clip_image.onnx",
			TokenizerPath:  "./model/tokenizer.json",
		},
		Blob: BlobConfig{Provider: "local", Dir: "./data/blobs"},
		Meta: MetaConfig{Provider: "badger", BadgerDir: "./data/meta"},
		Index: IndexConfig{
			Provider:   "memory",
			ChromaURL:  "http://localhost:8000",
			Collection: "image_vecs",
		},
		Gallery: GalleryConfig{
			AllowedTypes:    []string{"image/jpeg", "image/png", "image/webp"},
			ThumbnailMaxDim: 220,
			OverfetchFactor: 3,
			OpTimeout:       30 * time.Second,
			RetryAttempts:   2,
			RetryBaseDelay:  200 * time.Millisecond,
		},
		Log: LogConfig{Format: "text"},
	}
}
