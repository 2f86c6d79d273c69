package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ingestkit/ragpipe/internal/errkind"
)

// RemoteBatchConfig configures a RemoteBatch provider.
type RemoteBatchConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
}

// RemoteBatch models a cloud batch-inference job: submit a descriptor
// referencing an input blob and output prefix, then poll for status. This
// is the concrete adapter for an asynchronous, job-based remote batch API.
type RemoteBatch struct {
	cfg    RemoteBatchConfig
	client *http.Client
}

func NewRemoteBatch(cfg RemoteBatchConfig) *RemoteBatch {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &RemoteBatch{cfg: cfg, client: &http.Client{Timeout: cfg.RequestTimeout}}
}

func (p *RemoteBatch) ModelName() string { return p.cfg.Model }

type submitJobRequest struct {
	JobName     string `json:"job_name"`
	InputPath   string `json:"input_data_path"`
	OutputPath  string `json:"output_data_path"`
	Model       string `json:"model"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

func (p *RemoteBatch) SubmitJob(ctx context.Context, inputPath, outputPath, jobName string) (string, error) {
	payload, err := json.Marshal(submitJobRequest{
		JobName:    jobName,
		InputPath:  inputPath,
		OutputPath: outputPath,
		Model:      p.cfg.Model,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit-job request: %w", err)
	}

	resp, err := p.post(ctx, "/v1/batch/jobs", payload)
	if err != nil {
		return "", err
	}
	var out submitJobResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("parse submit-job response: %w", err)
	}
	if out.JobID == "" {
		return "", errkind.New(errkind.Provider, "submit-job response missing job_id")
	}
	return out.JobID, nil
}

type jobStatusResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// providerStatusMap translates this provider's vocabulary onto the internal
// enum, per the orchestrator's provider-status mapping.
var providerStatusMap = map[string]Status{
	"submitted":   StatusSubmitted,
	"queued":      StatusSubmitted,
	"in-progress": StatusProcessing,
	"stopping":    StatusProcessing,
	"completed":   StatusCompleted,
	"succeeded":   StatusCompleted,
	"failed":      StatusFailed,
	"stopped":     StatusFailed,
}

func (p *RemoteBatch) GetJobStatus(ctx context.Context, externalJobID string) (Status, string, error) {
	resp, err := p.get(ctx, fmt.Sprintf("/v1/batch/jobs/%s", externalJobID))
	if err != nil {
		return "", "", err
	}
	var out jobStatusResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", "", fmt.Errorf("parse job-status response: %w", err)
	}
	status, ok := providerStatusMap[out.Status]
	if !ok {
		return "", "", errkind.New(errkind.Provider, fmt.Sprintf("unrecognized provider job status %q", out.Status))
	}
	return status, out.ErrorMessage, nil
}

// Embed is not used on the batch path; RemoteBatch has no synchronous
// interactive endpoint.
func (p *RemoteBatch) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errkind.New(errkind.Invariant, "RemoteBatch provider has no synchronous embed endpoint")
}

func (p *RemoteBatch) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return p.do(ctx, http.MethodPost, path, body)
}

func (p *RemoteBatch) get(ctx context.Context, path string) ([]byte, error) {
	return p.do(ctx, http.MethodGet, path, nil)
}

func (p *RemoteBatch) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.Endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errkind.Transientf(nil, "%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		if isRetryableStatus(resp.StatusCode) {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			return nil, errkind.Transientf(retryAfter, "%s %s: http %d: %s", method, path, resp.StatusCode, string(data))
		}
		return nil, errkind.New(errkind.Provider, fmt.Sprintf("%s %s: http %d: %s", method, path, resp.StatusCode, string(data)))
	}
	return data, nil
}
