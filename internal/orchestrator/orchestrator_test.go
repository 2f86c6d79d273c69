package orchestrator

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
)

func TestBatchReady(t *testing.T) {
	cases := []struct {
		name    string
		count   int
		min     int
		max     int
		elapsed time.Duration
		timeout time.Duration
		want    bool
	}{
		{"below minimum never ready", 5, 10, 100, time.Hour, time.Minute, false},
		{"at max is ready immediately", 100, 10, 100, 0, time.Hour, true},
		{"above minimum but not full waits for timeout", 20, 10, 100, time.Second, time.Minute, false},
		{"above minimum and timeout elapsed is ready", 20, 10, 100, time.Minute, time.Minute, true},
		{"exactly at minimum with timeout elapsed is ready", 10, 10, 100, time.Minute, time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, batchReady(tc.count, tc.min, tc.max, tc.elapsed, tc.timeout))
		})
	}
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, splitLines([]byte("a\nb\nc")))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, splitLines([]byte("a\nb\n")))
	assert.Nil(t, splitLines(nil))
}

func newTestOrchestrator() *Orchestrator {
	return &Orchestrator{log: observability.NewNoopLogger()}
}

func outputLine(recordID string, vector []float64, errMsg string) string {
	if errMsg != "" {
		return `{"recordId":"` + recordID + `","error":"` + errMsg + `"}`
	}
	rendered := "["
	for i, v := range vector {
		if i > 0 {
			rendered += ","
		}
		rendered += strconv.FormatFloat(v, 'f', -1, 64)
	}
	rendered += "]"
	return `{"recordId":"` + recordID + `","modelOutput":{"embedding":` + rendered + `}}`
}

func TestParseOutputInto_GroupsByDocumentAndSkipsBad(t *testing.T) {
	o := newTestOrchestrator()
	docID := uuid.New()

	var manifest []byte
	manifest = append(manifest, []byte(outputLine(docID.String()+":1:10:20", []float64{0.1, 0.2}, "")+"\n")...)
	manifest = append(manifest, []byte(outputLine(docID.String()+":0:0:10", []float64{0.3, 0.4}, "")+"\n")...)
	manifest = append(manifest, []byte(outputLine("bogus", []float64{1}, "")+"\n")...)
	manifest = append(manifest, []byte(outputLine(docID.String()+":2:20:30", nil, "timeout")+"\n")...)
	manifest = append(manifest, []byte("not json at all\n")...)

	byDocument := map[uuid.UUID][]model.Embedding{}
	o.parseOutputInto(byDocument, manifest, "test-model")

	require.Len(t, byDocument, 1)
	rows := byDocument[docID]
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []int{0, 1}, []int{rows[0].ChunkIndex, rows[1].ChunkIndex})
	assert.Equal(t, "test-model", rows[0].ModelName)
}

func TestParseOutputInto_UnknownUUIDSkipped(t *testing.T) {
	o := newTestOrchestrator()
	byDocument := map[uuid.UUID][]model.Embedding{}
	o.parseOutputInto(byDocument, []byte(outputLine("not-a-uuid:0:0:1", []float64{1}, "")+"\n"), "m")
	assert.Empty(t, byDocument)
}
