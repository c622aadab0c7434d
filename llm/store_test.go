package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCallStore_EvictsOldest(t *testing.T) {
	s := NewMemoryCallStore(2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Store(ctx, &CallRecord{RequestID: id}))
	}

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].RequestID)
	assert.Equal(t, "c", records[1].RequestID)
}

func TestSortByStartTime(t *testing.T) {
	now := time.Now()
	records := []*CallRecord{
		{RequestID: "late", StartedAt: now.Add(time.Minute)},
		{RequestID: "early", StartedAt: now},
	}

	SortByStartTime(records)

	assert.Equal(t, "early", records[0].RequestID)
	assert.Equal(t, "late", records[1].RequestID)
}
