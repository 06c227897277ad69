package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load builds the configuration: defaults, then the YAML file at path
// (or imagesearch.yaml in the working directory when path is empty,
// missing file is fine), then IMAGESEARCH_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("imagesearch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit path or a
		// malformed file is not.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("IMAGESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers Default() into viper with dotted keys, keeping
// Default() the single source of truth.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.listen", d.Server.Listen)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.text_model_path", d.Embedding.TextModelPath)
	v.SetDefault("embedding.image_model_path", d.Embedding.ImageModelPath)
	v.SetDefault("embedding.tokenizer_path", d.Embedding.TokenizerPath)
	v.SetDefault("embedding.library_path", d.Embedding.LibraryPath)
	v.SetDefault("embedding.server_url", d.Embedding.ServerURL)

	v.SetDefault("blob.provider", d.Blob.Provider)
	v.SetDefault("blob.dir", d.Blob.Dir)
	v.SetDefault("blob.bucket", d.Blob.Bucket)
	v.SetDefault("blob.prefix", d.Blob.Prefix)
	v.SetDefault("blob.region", d.Blob.Region)

	v.SetDefault("meta.provider", d.Meta.Provider)
	v.SetDefault("meta.badger_dir", d.Meta.BadgerDir)
	v.SetDefault("meta.postgres_url", d.Meta.PostgresURL)

	v.SetDefault("index.provider", d.Index.Provider)
	v.SetDefault("index.chroma_url", d.Index.ChromaURL)
	v.SetDefault("index.collection", d.Index.Collection)
	v.SetDefault("index.postgres_url", d.Index.PostgresURL)

	v.SetDefault("gallery.allowed_types", d.Gallery.AllowedTypes)
	v.SetDefault("gallery.thumbnail_max_dim", d.Gallery.ThumbnailMaxDim)
	v.SetDefault("gallery.overfetch_factor", d.Gallery.OverfetchFactor)
	v.SetDefault("gallery.op_timeout", d.Gallery.OpTimeout)
	v.SetDefault("gallery.retry_attempts", d.Gallery.RetryAttempts)
	v.SetDefault("gallery.retry_base_delay", d.Gallery.RetryBaseDelay)

	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.format", d.Log.Format)
}
