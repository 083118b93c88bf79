package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/chunkscribe/internal/model"
)

// maxErrorBody caps how much of a failed response body ends up in errors.
const maxErrorBody = 512

// Client sends chunks to an HTTP ASR engine
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests     uint64
	successRequests   uint64
	transientFailures uint64
	terminalFailures  uint64
	activeRequests    int
	avgResponseTime   time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint  string
	APIKey    string
	UserAgent string
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests     uint64        `json:"total_requests"`
	SuccessRequests   uint64        `json:"success_requests"`
	FailedRequests    uint64        `json:"failed_requests"`
	TransientFailures uint64        `json:"transient_failures"`
	TerminalFailures  uint64        `json:"terminal_failures"`
	SuccessRate       float64       `json:"success_rate"`
	AvgResponseTime   time.Duration `json:"avg_response_time"`
	ActiveRequests    int           `json:"active_requests"`
}

// NewClient creates a new transcription HTTP client. Timeouts come from the
// caller's context.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.UserAgent == "" {
		config.UserAgent = "chunkscribe/1.0"
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// Transcribe performs one attempt. Errors are *model.Error with kind
// chunk_transient or chunk_terminal.
func (c *Client) Transcribe(ctx context.Context, request *Request) (*Response, error) {
	c.begin()
	startTime := time.Now()

	response, err := c.doRequest(ctx, request)
	c.finish(err, time.Since(startTime))

	return response, err
}

func (c *Client) doRequest(ctx context.Context, request *Request) (*Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, clientError(model.KindChunkTerminal, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, clientError(model.KindChunkTerminal, "failed to create HTTP request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if request.RequestID != "" {
		httpReq.Header.Set("Idempotency-Key", request.RequestID)
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, clientError(model.KindChunkTransient, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, clientError(model.KindChunkTransient, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, clientError(model.KindChunkTransient,
			fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, truncate(respBody)), nil)
	}

	var transcriptionResp Response
	if err := json.Unmarshal(respBody, &transcriptionResp); err != nil {
		return nil, clientError(model.KindChunkTerminal, "failed to parse response JSON", err)
	}

	if transcriptionResp.ProcessingStatus == ProcessingFailed {
		msg := transcriptionResp.ErrorMessage
		if msg == "" {
			msg = "engine reported failure"
		}
		return nil, clientError(model.KindChunkTerminal, msg, nil)
	}

	return &transcriptionResp, nil
}

func clientError(kind model.ErrorKind, msg string, cause error) *model.Error {
	return &model.Error{Kind: kind, Message: msg, ChunkIndex: -1, Cause: cause}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

func (c *Client) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.activeRequests++
}

func (c *Client) finish(err error, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeRequests--
	switch {
	case err == nil:
		c.successRequests++
	case model.IsRetryable(err):
		c.transientFailures++
	default:
		c.terminalFailures++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:     c.totalRequests,
		SuccessRequests:   c.successRequests,
		FailedRequests:    c.transientFailures + c.terminalFailures,
		TransientFailures: c.transientFailures,
		TerminalFailures:  c.terminalFailures,
		SuccessRate:       successRate,
		AvgResponseTime:   c.avgResponseTime,
		ActiveRequests:    c.activeRequests,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
