package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteBatch_SubmitAndPollLifecycle(t *testing.T) {
	status := "queued"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(submitJobResponse{JobID: "job-1"})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(jobStatusResponse{Status: status})
		}
	}))
	defer srv.Close()

	p := NewRemoteBatch(RemoteBatchConfig{Endpoint: srv.URL, Model: "batch-embed-v1"})

	jobID, err := p.SubmitJob(context.Background(), "input/batch-1.jsonl", "output/batch-1/", "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	st, errMsg, err := p.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, st)
	assert.Empty(t, errMsg)

	status = "failed"
	st, errMsg, err = p.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st)
	_ = errMsg
}

func TestRemoteBatch_UnrecognizedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jobStatusResponse{Status: "mystery"})
	}))
	defer srv.Close()

	p := NewRemoteBatch(RemoteBatchConfig{Endpoint: srv.URL})
	_, _, err := p.GetJobStatus(context.Background(), "job-x")
	assert.Error(t, err)
}
