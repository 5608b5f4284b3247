package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() Bundle {
	return Bundle{
		Runbooks: []Chunk{
			{ID: "c1", DocumentID: "rb-pool", Title: "Connection Pool Exhaustion Runbook",
				Content: "Check max_connections.", Type: TypeRunbook, Score: 0.92,
				SourceURL: "https://wiki.internal/rb-pool"},
			{ID: "c2", DocumentID: "rb-pool", Title: "Connection Pool Exhaustion Runbook",
				Content: "Scale the pool.", Type: TypeRunbook, Score: 0.81},
		},
		Postmortems: []Chunk{
			{ID: "c3", DocumentID: "pm-2024-07", Title: "July 2024 checkout outage",
				Content: "Pool saturation after deploy.", Type: TypePostmortem, Score: 0.77},
		},
	}
}

func TestBundle_Empty(t *testing.T) {
	assert.True(t, Bundle{}.Empty())
	assert.False(t, sampleBundle().Empty())
}

func TestFormatBundle(t *testing.T) {
	out := FormatBundle(sampleBundle())
	assert.Contains(t, out, "# Relevant Organizational Knowledge")
	assert.Contains(t, out, "## Runbooks")
	assert.Contains(t, out, "Connection Pool Exhaustion Runbook")
	assert.Contains(t, out, "## Past Incidents (Postmortems)")
	assert.NotContains(t, out, "## Known Issues", "empty buckets are omitted")

	assert.Empty(t, FormatBundle(Bundle{}))
}

func TestCitations_DedupByDocument(t *testing.T) {
	citations := Citations(sampleBundle())
	require.Len(t, citations, 2, "two chunks of the same document collapse to one citation")
	assert.Equal(t, "rb-pool", citations[0].DocumentID)
	assert.Equal(t, "https://wiki.internal/rb-pool", citations[0].SourceURL)
	assert.Equal(t, "pm-2024-07", citations[1].DocumentID)
}

func TestFormatCitations(t *testing.T) {
	out := FormatCitations(Citations(sampleBundle()))
	assert.Contains(t, out, "**Sources:**")
	assert.Contains(t, out, "[Connection Pool Exhaustion Runbook](https://wiki.internal/rb-pool)")
	assert.Contains(t, out, "- July 2024 checkout outage")

	assert.Empty(t, FormatCitations(nil))
}

func TestCachingRetriever_CachesByQuery(t *testing.T) {
	calls := 0
	inner := RetrieverFunc(func(_ context.Context, _ Query) (Bundle, error) {
		calls++
		return sampleBundle(), nil
	})
	cached := NewCachingRetriever(inner, time.Minute)

	q := Query{Query: "connection pool exhaustion", Services: []string{"checkout"}}
	first, err := cached.Retrieve(context.Background(), q)
	require.NoError(t, err)
	second, err := cached.Retrieve(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	// A different query misses the cache.
	_, err = cached.Retrieve(context.Background(), Query{Query: "disk pressure"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachingRetriever_ErrorsAreNotCached(t *testing.T) {
	calls := 0
	inner := RetrieverFunc(func(_ context.Context, _ Query) (Bundle, error) {
		calls++
		if calls == 1 {
			return Bundle{}, errors.New("vector store unavailable")
		}
		return sampleBundle(), nil
	})
	cached := NewCachingRetriever(inner, time.Minute)

	_, err := cached.Retrieve(context.Background(), Query{Query: "q"})
	require.Error(t, err)

	b, err := cached.Retrieve(context.Background(), Query{Query: "q"})
	require.NoError(t, err)
	assert.False(t, b.Empty())
	assert.Equal(t, 2, calls)
}
