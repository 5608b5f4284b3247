package scratchpad

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchpad_RecordAndGet(t *testing.T) {
	pad := New()

	id, err := pad.Record("cloudwatch_alarms", map[string]any{"state": "ALARM"},
		map[string]any{"alarms": []any{"HighCPU", "PoolSaturation"}})
	require.NoError(t, err)
	assert.Len(t, id, 6)

	value, ok := pad.Get(id)
	require.True(t, ok)
	m, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "alarms")
}

func TestScratchpad_GetUnknownID(t *testing.T) {
	pad := New()
	_, ok := pad.Get("abc123")
	assert.False(t, ok)
}

func TestScratchpad_IDsMonotonicallyNonDecreasing(t *testing.T) {
	pad := New()
	var issued []string
	for i := 0; i < 20; i++ {
		id, err := pad.Record("aws_query", nil, map[string]any{"n": i})
		require.NoError(t, err)
		issued = append(issued, id)

		ids := pad.IDs()
		// Every id ever issued is still listed, in issue order.
		assert.Equal(t, issued, ids)
	}
}

func TestScratchpad_CompactEvictsOldestFirst(t *testing.T) {
	pad := New()

	big := strings.Repeat("connection timeout at 10.0.0.1\n", 200)
	first, err := pad.Record("fetch_logs", nil, big)
	require.NoError(t, err)
	second, err := pad.Record("fetch_logs", nil, big)
	require.NoError(t, err)
	third, err := pad.Record("fetch_logs", nil, "small result")
	require.NoError(t, err)

	evicted := pad.Compact(EstimateTokens(big) + 200)

	// Oldest bodies go first; the small tail entry survives.
	assert.Contains(t, evicted, first)
	assert.NotContains(t, evicted, third)

	value, ok := pad.Get(first)
	assert.True(t, ok, "evicted ids remain queryable")
	assert.Nil(t, value, "evicted body is gone")

	// Summary is always retained.
	entry, ok := pad.Entry(first)
	require.True(t, ok)
	assert.True(t, entry.Evicted)
	assert.NotEmpty(t, entry.Summary)

	// Non-evicted entries still return bodies.
	if !contains(evicted, second) {
		v, ok := pad.Get(second)
		assert.True(t, ok)
		assert.NotNil(t, v)
	}
	assert.Equal(t, []string{first, second, third}, pad.IDs())
}

func TestScratchpad_PinnedEntriesSurviveCompaction(t *testing.T) {
	pad := New()
	big := strings.Repeat("x", 4000)

	pinned, err := pad.Record("get_incident", nil, big)
	require.NoError(t, err)
	require.True(t, pad.Pin(pinned))

	for i := 0; i < 5; i++ {
		_, err := pad.Record("fetch_logs", nil, big)
		require.NoError(t, err)
	}

	pad.Compact(1)

	value, ok := pad.Get(pinned)
	require.True(t, ok)
	assert.NotNil(t, value, "pinned body survives compaction")
}

func TestScratchpad_CompactBelowBudgetIsNoop(t *testing.T) {
	pad := New()
	_, err := pad.Record("aws_query", nil, "tiny")
	require.NoError(t, err)

	evicted := pad.Compact(100000)
	assert.Empty(t, evicted)
}

func TestScratchpad_Summaries(t *testing.T) {
	pad := New()
	for i := 0; i < 5; i++ {
		_, err := pad.Record("aws_query", nil, map[string]any{"instance": fmt.Sprintf("i-%d", i)})
		require.NoError(t, err)
	}

	all := pad.Summaries(0)
	assert.Len(t, all, 5)

	last2 := pad.Summaries(2)
	require.Len(t, last2, 2)
	assert.Contains(t, last2[1], "aws_query")
}

func TestScratchpad_MaskerApplied(t *testing.T) {
	pad := New(WithMasker(maskerFunc(func(s string) string {
		return strings.ReplaceAll(s, "hunter2", "***MASKED***")
	})))

	id, err := pad.Record("get_config", nil, map[string]any{"password": "hunter2"})
	require.NoError(t, err)

	value, ok := pad.Get(id)
	require.True(t, ok)
	m := value.(map[string]any)
	assert.Equal(t, "***MASKED***", m["password"])
}

func TestScratchpad_ConcurrentRecord(t *testing.T) {
	pad := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := pad.Record("aws_query", nil, map[string]any{"n": n})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ids := pad.IDs()
	assert.Len(t, ids, 100)
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "ids are never reassigned within a run")
		seen[id] = true
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestSummarize_Shapes(t *testing.T) {
	assert.Contains(t, summarize("t", `{"a":1,"b":2}`), "object with 2 fields")
	assert.Contains(t, summarize("t", `[1,2,3]`), "3 items")
	assert.Contains(t, summarize("t", `"hello"`), "text")
	assert.Contains(t, summarize("t", `not json at all`), "non-JSON")
}

type maskerFunc func(string) string

func (f maskerFunc) Mask(s string) string { return f(s) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
