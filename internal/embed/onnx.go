package embed

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"imagesearch/internal/models"
)

const (
	// clipImageSize is the input resolution of the CLIP image tower.
	clipImageSize = 224

	// clipMaxTokens is the CLIP text context length.
	clipMaxTokens = 77

	// DefaultDimension is the embedding size of CLIP ViT-B/32.
	DefaultDimension = 512
)

// CLIP preprocessing constants (per-channel mean/std over RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ONNXConfig holds paths and shape parameters for local CLIP inference.
type ONNXConfig struct {
	// TextModelPath and ImageModelPath are the exported CLIP towers.
	TextModelPath  string
	ImageModelPath string

	// TokenizerPath is the HuggingFace tokenizer.json for the text tower.
	TokenizerPath string

	// LibraryPath is the onnxruntime shared library location.
	LibraryPath string

	// Dimension is the embedding size. Defaults to DefaultDimension.
	Dimension int
}

// ONNX runs both CLIP towers locally through onnxruntime. Sessions use
// preallocated tensors, so each tower is guarded by a mutex and calls
// are serialized per tower.
type ONNX struct {
	dim       int
	tokenizer *tokenizer

	textMu        sync.Mutex
	textSession   *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	textOutput    *ort.Tensor[float32]

	imageMu      sync.Mutex
	imageSession *ort.AdvancedSession
	pixelValues  *ort.Tensor[float32]
	imageOutput  *ort.Tensor[float32]

	once sync.Once
}

// NewONNX loads both CLIP towers and the tokenizer.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx: %w", err)
		}
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}

	e := &ONNX{dim: dim}

	var err error
	e.inputIDs, err = ort.NewTensor(ort.NewShape(1, clipMaxTokens), make([]int64, clipMaxTokens))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.attentionMask, err = ort.NewTensor(ort.NewShape(1, clipMaxTokens), make([]int64, clipMaxTokens))
	if err != nil {
		return nil, fmt.Errorf("create attention tensor: %w", err)
	}
	e.textOutput, err = ort.NewTensor(ort.NewShape(1, int64(dim)), make([]float32, dim))
	if err != nil {
		return nil, fmt.Errorf("create text output tensor: %w", err)
	}

	e.textSession, err = ort.NewAdvancedSession(
		cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask},
		[]ort.ArbitraryTensor{e.textOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create text session: %w", err)
	}

	pixels := clipImageSize * clipImageSize * 3
	e.pixelValues, err = ort.NewTensor(ort.NewShape(1, 3, clipImageSize, clipImageSize), make([]float32, pixels))
	if err != nil {
		return nil, fmt.Errorf("create pixel tensor: %w", err)
	}
	e.imageOutput, err = ort.NewTensor(ort.NewShape(1, int64(dim)), make([]float32, dim))
	if err != nil {
		return nil, fmt.Errorf("create image output tensor: %w", err)
	}

	e.imageSession, err = ort.NewAdvancedSession(
		cfg.ImageModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{e.pixelValues},
		[]ort.ArbitraryTensor{e.imageOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create image session: %w", err)
	}

	e.tokenizer, err = newTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return e, nil
}

// EmbedText runs the text tower and returns a normalized vector.
func (e *ONNX) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.textMu.Lock()
	defer e.textMu.Unlock()

	inputIDs, attentionMask := e.tokenizer.Encode(text, clipMaxTokens)
	copy(e.inputIDs.GetData(), inputIDs)
	copy(e.attentionMask.GetData(), attentionMask)

	if err := e.textSession.Run(); err != nil {
		return nil, fmt.Errorf("%w: text inference: %v", models.ErrEmbeddingFailure, err)
	}

	embedding := make([]float32, e.dim)
	copy(embedding, e.textOutput.GetData())
	normalize(embedding)
	return embedding, nil
}

// EmbedImage decodes the image, preprocesses it to the CLIP input
// resolution and runs the image tower. Returns a normalized vector.
func (e *ONNX) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", models.ErrCorruptImage, err)
	}
	resized := imaging.Fill(img, clipImageSize, clipImageSize, imaging.Center, imaging.Lanczos)

	e.imageMu.Lock()
	defer e.imageMu.Unlock()

	// NCHW layout, normalized per channel.
	pixels := e.pixelValues.GetData()
	plane := clipImageSize * clipImageSize
	for y := 0; y < clipImageSize; y++ {
		for x := 0; x < clipImageSize; x++ {
			px := resized.NRGBAAt(x, y)
			i := y*clipImageSize + x
			pixels[i] = (float32(px.R)/255 - clipMean[0]) / clipStd[0]
			pixels[plane+i] = (float32(px.G)/255 - clipMean[1]) / clipStd[1]
			pixels[2*plane+i] = (float32(px.B)/255 - clipMean[2]) / clipStd[2]
		}
	}

	if err := e.imageSession.Run(); err != nil {
		return nil, fmt.Errorf("%w: image inference: %v", models.ErrEmbeddingFailure, err)
	}

	embedding := make([]float32, e.dim)
	copy(embedding, e.imageOutput.GetData())
	normalize(embedding)
	return embedding, nil
}

// Dimension returns the embedding size.
func (e *ONNX) Dimension() int { return e.dim }

// Close destroys the sessions, tensors and the ort environment.
func (e *ONNX) Close() error {
	e.once.Do(func() {
		e.textSession.Destroy()
		e.imageSession.Destroy()
		e.inputIDs.Destroy()
		e.attentionMask.Destroy()
		e.textOutput.Destroy()
		e.pixelValues.Destroy()
		e.imageOutput.Destroy()
		e.tokenizer.Close()
		ort.DestroyEnvironment()
	})
	return nil
}

// normalize scales v to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

var _ Embedder = (*ONNX)(nil)
