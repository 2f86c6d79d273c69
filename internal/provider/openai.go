package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ingestkit/ragpipe/internal/errkind"
)

const maxBatchTexts = 2048

// OpenAICompatibleConfig configures an OpenAICompatible provider.
type OpenAICompatibleConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	Dimensions     int
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	RetryDelayMax  time.Duration
}

// OpenAICompatible is the synchronous embedding provider adapter: it POSTs
// {model, input, dimensions?} and returns vectors directly in the response.
// It does not implement SubmitJob/GetJobStatus: both return an Invariant
// error, and the orchestrator has no synchronous path, so a batch submitted
// through this provider fails at submission.
type OpenAICompatible struct {
	cfg    OpenAICompatibleConfig
	client *http.Client
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) *OpenAICompatible {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase == 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RetryDelayMax == 0 {
		cfg.RetryDelayMax = 30 * time.Second
	}
	return &OpenAICompatible{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (p *OpenAICompatible) ModelName() string { return p.cfg.Model }

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type embeddingResponseItem struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Data  []embeddingResponseItem `json:"data"`
	Model string                  `json:"model"`
}

type embeddingErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Embed batches up to maxBatchTexts texts per call, retrying with
// exponential backoff on HTTP 429 and honoring Retry-After.
func (p *OpenAICompatible) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	for start := 0; start < len(texts); start += maxBatchTexts {
		end := start + maxBatchTexts
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *OpenAICompatible) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{Model: p.cfg.Model, Input: texts}
	if p.cfg.Dimensions > 0 {
		reqBody.Dimensions = &p.cfg.Dimensions
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryAfterOr(lastErr, p.calculateRetryDelay(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.doRequest(ctx, reqBody)
		if err == nil {
			vectors := make([][]float32, len(resp.Data))
			for _, item := range resp.Data {
				if item.Index >= 0 && item.Index < len(vectors) {
					vectors[item.Index] = item.Embedding
				}
			}
			return vectors, nil
		}
		lastErr = err
		if !errkind.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *OpenAICompatible) doRequest(ctx context.Context, reqBody embeddingRequest) (*embeddingResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errkind.Transientf(nil, "embedding request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var envelope embeddingErrorEnvelope
		_ = json.Unmarshal(body, &envelope)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if isRetryableStatus(resp.StatusCode) {
			return nil, errkind.Transientf(retryAfter, "embedding provider http %d: %s", resp.StatusCode, envelope.Error.Message)
		}
		return nil, errkind.New(errkind.Provider, fmt.Sprintf("embedding provider http %d: %s", resp.StatusCode, envelope.Error.Message))
	}

	var out embeddingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embedding response had no data")
	}
	return &out, nil
}

func (p *OpenAICompatible) calculateRetryDelay(attempt int) time.Duration {
	delay := p.cfg.RetryDelayBase * time.Duration(uint(1)<<uint(attempt-1))
	if delay > p.cfg.RetryDelayMax {
		delay = p.cfg.RetryDelayMax
	}
	return delay
}

// SubmitJob/GetJobStatus always return an Invariant error on this adapter.
// The orchestrator calls SubmitJob for every batch and never falls back to
// Embed, so batches fail when this provider is configured.
func (p *OpenAICompatible) SubmitJob(context.Context, string, string, string) (string, error) {
	return "", errkind.New(errkind.Invariant, "OpenAICompatible provider does not support async batch jobs")
}

func (p *OpenAICompatible) GetJobStatus(context.Context, string) (Status, string, error) {
	return "", "", errkind.New(errkind.Invariant, "OpenAICompatible provider does not support async batch jobs")
}

func isRetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d > 0 {
			return &d
		}
	}
	return nil
}

// retryAfterOr honors a provider-supplied Retry-After when the previous
// attempt's error carried one, falling back to exponential backoff.
func retryAfterOr(err error, fallback time.Duration) time.Duration {
	var kindErr *errkind.Error
	if errors.As(err, &kindErr) && kindErr.RetryAfter != nil {
		return *kindErr.RetryAfter
	}
	return fallback
}
