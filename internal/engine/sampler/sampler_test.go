package sampler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

func TestNewNoneDatasetYieldsSentinel(t *testing.T) {
	s, err := New(&task.Descriptor{Dataset: task.DatasetNone})
	require.NoError(t, err)

	r := s.Next()
	assert.Empty(t, r.Prompt)
}

func TestNewBuiltinTextCyclesDeterministically(t *testing.T) {
	s, err := New(&task.Descriptor{Dataset: task.DatasetDefaultText})
	require.NoError(t, err)

	n := s.Len()
	first := make([]task.Record, n)
	for i := 0; i < n; i++ {
		first[i] = s.Next()
	}
	// the cursor wraps; the (n+1)th call repeats the first record
	wrapped := s.Next()
	assert.Equal(t, first[0], wrapped)
}

func TestNewInlineJSONLParsesRecords(t *testing.T) {
	s, err := New(&task.Descriptor{
		Dataset:       task.DatasetInlineJSONL,
		DatasetInline: "{\"prompt\":\"hi\"}\n{\"prompt\":\"there\"}",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestNewInlineJSONLRejectsMalformed(t *testing.T) {
	_, err := New(&task.Descriptor{
		Dataset:       task.DatasetInlineJSONL,
		DatasetInline: "not jsonl",
	})
	assert.Error(t, err)
}

func TestNextIsSafeForConcurrentUsers(t *testing.T) {
	s, err := New(&task.Descriptor{Dataset: task.DatasetDefaultShareGPT})
	require.NoError(t, err)

	const goroutines = 20
	const perGoroutine = 50
	seen := make(chan task.Record, goroutines*perGoroutine)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				seen <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	count := 0
	for range seen {
		count++
	}
	assert.Equal(t, goroutines*perGoroutine, count)
}
