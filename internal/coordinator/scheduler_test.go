package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ragpipe/internal/config"
	"github.com/ingestkit/ragpipe/internal/observability"
)

func TestScheduler_RegistersOnlyFullSyncSources(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.sources["source-2"] = config.SourceConfig{SourceType: "demo", FullSync: true}

	s := NewScheduler(c, "0 3 * * *", observability.NewNoopLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 1)
}
