package reindex

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_StatusLine(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, 100, 10)

	progress.Record(5, nil)
	assert.Empty(t, buf.String(), "nothing written under the interval")

	progress.Record(4, []string{"r9"})
	assert.Contains(t, buf.String(), "Reindexed 10/100 (10.0%), 1 skipped")
	assert.Contains(t, buf.String(), "resources/s")

	buf.Reset()
	progress.Record(9, nil)
	assert.Empty(t, buf.String(), "next line is due at 20")
	progress.Record(25, nil)
	assert.Contains(t, buf.String(), "Reindexed 44/100 (44.0%), 1 skipped")

	buf.Reset()
	progress.Record(5, nil)
	assert.Empty(t, buf.String(), "a jump past several intervals moves the next line to 50")
	progress.Record(1, nil)
	assert.Contains(t, buf.String(), "Reindexed 50/100 (50.0%), 1 skipped")
}

func TestProgress_Finish(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, 4, 100)
	progress.Record(2, []string{"r3", "r4"})

	result := progress.Finish()
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 2, result.Skipped)
	assert.GreaterOrEqual(t, result.Elapsed.Nanoseconds(), int64(0))
	assert.Contains(t, buf.String(), "Reindex complete. Indexed 2 resources, skipped 2 in")
	assert.Contains(t, buf.String(), "Skipped (no shard or deleted): r3, r4\n")
}

func TestProgress_FinishWithoutSkips(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, 1, 1)
	progress.Record(1, nil)

	progress.Finish()
	assert.Contains(t, buf.String(), "Indexed 1 resources, skipped 0")
	assert.NotContains(t, buf.String(), "Skipped (")
}

func TestProgress_ListsAtMostTenSkips(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, 12, 100)
	var skipped []string
	for i := range 12 {
		skipped = append(skipped, fmt.Sprintf("r%02d", i))
	}
	progress.Record(0, skipped)

	result := progress.Finish()
	assert.Equal(t, 12, result.Skipped)
	assert.Contains(t, buf.String(), "r09 and 2 more\n")
	assert.NotContains(t, buf.String(), "r10")
}

func TestProgress_Result(t *testing.T) {
	progress := NewProgress(nil, 10, 0)
	progress.Record(3, []string{"r1"})

	result := progress.Result()
	require.NotNil(t, result)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, 1, result.Skipped)
}

func TestProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgress(&buf, 0, 1)
	progress.Record(0, []string{"gone"})

	assert.Contains(t, buf.String(), "Reindexed 1/0 (0.0%), 1 skipped")
}
