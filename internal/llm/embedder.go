package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

const voyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// hashDimensions is the vector size of the hash fallback.
const hashDimensions = 256

// Embedder generates embeddings via the Voyage AI API, falling back to a
// deterministic feature-hash vector when no API key is configured. The
// fallback keeps duplicate detection working in development and tests.
type Embedder struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// EmbedderOption configures the embedder.
type EmbedderOption func(*Embedder)

// WithModel sets the embedding model.
func WithModel(model string) EmbedderOption {
	return func(e *Embedder) {
		e.model = model
	}
}

// WithAPIKey sets the API key explicitly instead of reading the environment.
func WithAPIKey(key string) EmbedderOption {
	return func(e *Embedder) {
		e.apiKey = key
	}
}

// NewEmbedder creates an embedder. Without a VOYAGE_API_KEY it degrades to
// hash-based vectors.
func NewEmbedder(opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		apiKey:     os.Getenv("VOYAGE_API_KEY"),
		model:      "voyage-3",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed generates an embedding for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" {
		return e.hashEmbeddings(texts), nil
	}
	return e.voyageEmbeddings(ctx, texts)
}

// voyageEmbeddings calls the Voyage AI embeddings API.
func (e *Embedder) voyageEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"input":      texts,
		"model":      e.model,
		"input_type": "document",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// hashEmbeddings creates deterministic feature-hash vectors.
func (e *Embedder) hashEmbeddings(texts []string) [][]float32 {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = textToHashVector(text, hashDimensions)
	}
	return vecs
}

// textToHashVector hashes word unigrams and bigrams into a normalized vector.
func textToHashVector(text string, dimensions int) []float32 {
	text = strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(text)

	features := make(map[string]int)
	for _, w := range words {
		features[w]++
	}
	for i := 0; i < len(words)-1; i++ {
		features[words[i]+" "+words[i+1]]++
	}

	vec := make([]float32, dimensions)
	for feature, count := range features {
		hash := sha256.Sum256([]byte(feature))
		idx := (int(hash[0])<<8 | int(hash[1])) % dimensions
		sign := float32(1.0)
		if hash[4]&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign * float32(count)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
