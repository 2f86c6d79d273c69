package recordid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		documentID string
		chunkIndex int
		start      int
		end        int
	}{
		{"simple", "doc-123", 0, 0, 100},
		{"colon in document id", "github:repo:readme.md", 3, 100, 250},
		{"large offsets", "source-a:type:obj-42", 12, 98304, 98560},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			formatted := Format(tc.documentID, tc.chunkIndex, tc.start, tc.end)
			parsed, err := Parse(formatted)
			require.NoError(t, err)
			assert.Equal(t, tc.documentID, parsed.DocumentID)
			assert.Equal(t, tc.chunkIndex, parsed.ChunkIndex)
			assert.Equal(t, tc.start, parsed.Start)
			assert.Equal(t, tc.end, parsed.End)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("too:few:fields")
	assert.Error(t, err)

	_, err = Parse("doc:notanumber:0:10")
	assert.Error(t, err)
}
