package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatible_Embed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Model: "text-embed-3",
			Data: []embeddingResponseItem{
				{Index: 0, Embedding: []float32{0.1, 0.2}},
				{Index: 1, Embedding: []float32{0.3, 0.4}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAICompatible(OpenAICompatibleConfig{Endpoint: srv.URL, Model: "text-embed-3"})
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
}

func TestOpenAICompatible_Embed_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(embeddingErrorEnvelope{})
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingResponseItem{{Index: 0, Embedding: []float32{1}}},
		})
	}))
	defer srv.Close()

	p := NewOpenAICompatible(OpenAICompatibleConfig{
		Endpoint:       srv.URL,
		Model:          "text-embed-3",
		RetryDelayBase: time.Millisecond,
		RetryDelayMax:  time.Millisecond,
	})
	vectors, err := p.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, vectors, 1)
}

func TestOpenAICompatible_Embed_NonRetryableFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(embeddingErrorEnvelope{})
	}))
	defer srv.Close()

	p := NewOpenAICompatible(OpenAICompatibleConfig{Endpoint: srv.URL, Model: "text-embed-3"})
	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	d := parseRetryAfter("2")
	require.NotNil(t, d)
	assert.Equal(t, 2*time.Second, *d)
}

func TestParseRetryAfter_Empty(t *testing.T) {
	assert.Nil(t, parseRetryAfter(""))
}
