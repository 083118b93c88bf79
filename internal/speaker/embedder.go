package speaker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"

	"github.com/skypro1111/chunkscribe/internal/metrics"
	"github.com/skypro1111/chunkscribe/internal/model"
)

// Embedder turns a stretch of speech into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, audio []byte, span model.TimeRange) ([]float64, error)
}

// embedRequest is the wire body sent to the extractor.
type embedRequest struct {
	AudioFileData string  `json:"audio_file_data"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// HTTPEmbedder calls a remote embedding extractor over JSON.
type HTTPEmbedder struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHTTPEmbedder creates an embedder client. Request timeouts come from the
// caller's context.
func NewHTTPEmbedder(endpoint, apiKey string, logger *slog.Logger, m *metrics.Metrics) (*HTTPEmbedder, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	return &HTTPEmbedder{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger,
		metrics:    m,
	}, nil
}

// Embed requests one embedding. Errors meaning the extractor cannot serve
// at all are of kind unification_unavailable.
func (e *HTTPEmbedder) Embed(ctx context.Context, audio []byte, span model.TimeRange) ([]float64, error) {
	embedding, err := e.doRequest(ctx, audio, span)
	switch {
	case err == nil:
		e.metrics.RecordEmbeddingRequest("success")
	case model.IsKind(err, model.KindUnificationUnavailable):
		e.metrics.RecordEmbeddingRequest("unavailable")
	default:
		e.metrics.RecordEmbeddingRequest("error")
	}
	return embedding, err
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, audio []byte, span model.TimeRange) ([]float64, error) {
	body, err := json.Marshal(embedRequest{
		AudioFileData: base64.StdEncoding.EncodeToString(audio),
		Start:         span.Start,
		End:           span.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.Is(err, syscall.ECONNREFUSED) || errors.As(err, &dnsErr) {
			return nil, model.NewError(model.KindUnificationUnavailable, "embedding extractor unreachable").WithCause(err)
		}
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable:
		return nil, model.NewError(model.KindUnificationUnavailable,
			fmt.Sprintf("embedding extractor returned %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("embedding extractor returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding: %s", out.Error)
	}
	return out.Embedding, nil
}
