package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// DefaultModelFileName is the transformer model file the local embedder
// looks for when no explicit path is configured.
const DefaultModelFileName = "all-MiniLM-L6-v2.onnx"

// modelDirName is the conventional directory holding model files.
const modelDirName = "Models"

// ortInit guards process-wide ONNX Runtime environment initialization.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// LocalConfig configures the local embedder.
type LocalConfig struct {
	// ModelPath is an explicit model file override. When empty or missing,
	// the model is resolved from Models/ next to the binary, then ./Models/.
	ModelPath string

	// RuntimeLibPath optionally points at the ONNX Runtime shared library.
	RuntimeLibPath string
}

// LocalEmbedder runs WordPiece tokenization and on-device transformer
// inference, then mean-pools and normalizes the hidden states.
//
// The model session is initialized lazily, once, and shared by all
// callers; a mutex serializes inference. The vocabulary is loaded when the
// embedder is constructed.
type LocalEmbedder struct {
	config LocalConfig
	vocab  *Vocab

	initOnce sync.Once
	initErr  error
	session  *ort.DynamicAdvancedSession

	mu     sync.Mutex
	closed bool
}

// Verify interface implementation at compile time.
var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder creates a local embedder. The model file is not opened
// until the first embedding call.
func NewLocalEmbedder(cfg LocalConfig) *LocalEmbedder {
	return &LocalEmbedder{
		config: cfg,
		vocab:  DefaultVocab(),
	}
}

// ResolveModelPath applies the model resolution order: explicit configured
// path, Models/ next to the binary, then the working directory's Models/.
func ResolveModelPath(explicit string) (string, error) {
	var candidates []string
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), modelDirName, DefaultModelFileName))
	}
	candidates = append(candidates, filepath.Join(modelDirName, DefaultModelFileName))

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	return "", memexerrors.Newf(memexerrors.ErrCodeModelNotFound,
		"model not found (looked for %s); set model_path or place the model under %s/",
		DefaultModelFileName, modelDirName).
		WithSuggestion("download the embedding model and point model_path at it")
}

// init lazily resolves the model and builds the shared inference session.
func (e *LocalEmbedder) init() error {
	e.initOnce.Do(func() {
		modelPath, err := ResolveModelPath(e.config.ModelPath)
		if err != nil {
			e.initErr = err
			return
		}

		ortInitOnce.Do(func() {
			if e.config.RuntimeLibPath != "" {
				ort.SetSharedLibraryPath(e.config.RuntimeLibPath)
			}
			ortInitErr = ort.InitializeEnvironment()
		})
		if ortInitErr != nil {
			e.initErr = memexerrors.EmbedError("initialize onnx runtime", ortInitErr)
			return
		}

		session, err := ort.NewDynamicAdvancedSession(modelPath,
			[]string{"input_ids", "attention_mask", "token_type_ids"},
			[]string{"last_hidden_state"},
			nil)
		if err != nil {
			e.initErr = memexerrors.EmbedError("load model session", err)
			return
		}
		e.session = session
	})
	return e.initErr
}

// Embed generates the embedding for a single text.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in matching order.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.init(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, memexerrors.EmbedError("embedder is closed", nil)
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		vec, err := e.embedOne(text)
		if err != nil {
			return nil, memexerrors.EmbedError(fmt.Sprintf("embed text %d", i), err)
		}
		results[i] = vec
	}
	return results, nil
}

// embedOne runs encode, inference, mean pooling, and normalization.
// Caller holds e.mu.
func (e *LocalEmbedder) embedOne(text string) ([]float32, error) {
	enc := e.vocab.Encode(text, LocalSequenceLength)

	inputShape := ort.NewShape(1, LocalSequenceLength)
	inputIDs, err := ort.NewTensor(inputShape, enc.InputIDs)
	if err != nil {
		return nil, err
	}
	defer inputIDs.Destroy()

	attentionMask, err := ort.NewTensor(inputShape, enc.AttentionMask)
	if err != nil {
		return nil, err
	}
	defer attentionMask.Destroy()

	tokenTypeIDs, err := ort.NewTensor(inputShape, enc.TokenTypeIDs)
	if err != nil {
		return nil, err
	}
	defer tokenTypeIDs.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, LocalSequenceLength, LocalDimensions))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	err = e.session.Run(
		[]ort.Value{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.Value{output},
	)
	if err != nil {
		return nil, err
	}

	return MeanPool(output.GetData(), enc.AttentionMask, LocalDimensions), nil
}

// MeanPool averages hidden states over positions where mask is 1 and
// L2-normalizes the result. hidden is laid out [seq, dims]. A zero pooled
// vector stays all zeros.
func MeanPool(hidden []float32, mask []int64, dims int) []float32 {
	pooled := make([]float32, dims)
	var count float32

	for pos, m := range mask {
		if m != 1 {
			continue
		}
		base := pos * dims
		if base+dims > len(hidden) {
			break
		}
		for d := 0; d < dims; d++ {
			pooled[d] += hidden[base+d]
		}
		count++
	}

	if count > 0 {
		for d := range pooled {
			pooled[d] /= count
		}
	}
	return normalizeVector(pooled)
}

// Dimensions returns the embedding dimension.
func (e *LocalEmbedder) Dimensions() int {
	return LocalDimensions
}

// ModelName returns the model identifier.
func (e *LocalEmbedder) ModelName() string {
	return "all-MiniLM-L6-v2"
}

// Close releases the inference session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
