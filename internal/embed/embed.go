// Package embed provides the embedding gateway: a joint text/image
// embedding model whose two towers produce vectors in one shared
// similarity space, so a text query can be matched against stored
// image vectors by cosine similarity.
//
// # Implementations
//
//   - [ONNX] — local CLIP inference via onnxruntime (text tower through
//     a HuggingFace tokenizer, image tower through pixel preprocessing)
//   - [ClipServer] — client for a remote CLIP inference HTTP server
//
// Both towers of one implementation must share dimensionality and
// space; mixing vectors from different models or versions in one index
// produces garbage rankings.
package embed

import "context"

// Embedder converts images and texts into dense float32 vectors in a
// shared similarity space.
type Embedder interface {
	// EmbedImage returns the embedding vector for raw image bytes.
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)

	// EmbedText returns the embedding vector for a text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int

	// Close releases any resources held by the embedder.
	Close() error
}
