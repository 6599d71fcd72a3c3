package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const maxResponseBytes = 10 << 20

// HTTPBackend posts queries to the remote analysis endpoint. Timeouts come
// from the transport; there are no automatic retries.
type HTTPBackend struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPBackend(endpoint, apiKey string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Analyze(ctx context.Context, req AnalysisRequest) AnalysisResult {
	if req.ChatHistory == nil {
		req.ChatHistory = []HistoryTurn{}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return failuref("failed to encode analysis request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return failuref("failed to build analysis request: %v", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if b.apiKey != "" {
		httpReq.Header.Set("x-api-key", b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return failuref("request cancelled")
		}
		log.Printf("Analysis request %s failed: %v", requestID, err)
		return failuref("network error: unable to reach analysis service: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failuref("network error: failed to read analysis response: %v", err)
	}

	return DecodeAnalysisResponse(resp.StatusCode, body)
}
