package contentgeneration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkrank/eventcore/domain/contentgeneration"
)

func TestAggregate_RequestThenComplete(t *testing.T) {
	a := contentgeneration.New("req-1")

	require.NoError(t, a.RequestContentGeneration("photosynthesis", "easy"))
	assert.Equal(t, contentgeneration.StatusRequested, a.Status())
	assert.EqualValues(t, 1, a.Version())

	require.NoError(t, a.CompleteContentGeneration("long text", "https://img/1"))
	assert.Equal(t, contentgeneration.StatusCompleted, a.Status())
	assert.Equal(t, "long text", a.GeneratedText())
	assert.EqualValues(t, 2, a.Version())

	events, expected := a.Uncommitted()
	assert.Len(t, events, 2)
	assert.EqualValues(t, 0, expected)

	a.MarkCommitted()
	events, expected = a.Uncommitted()
	assert.Empty(t, events)
	assert.EqualValues(t, 2, expected)
}

func TestAggregate_CannotCompleteBeforeRequest(t *testing.T) {
	a := contentgeneration.New("req-1")
	err := a.CompleteContentGeneration("text", "uri")
	assert.Error(t, err)
}

func TestAggregate_CannotRequestTwice(t *testing.T) {
	a := contentgeneration.New("req-1")
	require.NoError(t, a.RequestContentGeneration("topic", "easy"))
	assert.Error(t, a.RequestContentGeneration("topic", "easy"))
}

func TestAggregate_FlagAfterCompletion(t *testing.T) {
	a := contentgeneration.New("req-1")
	require.NoError(t, a.RequestContentGeneration("topic", "easy"))
	require.NoError(t, a.CompleteContentGeneration("text", "uri"))
	require.NoError(t, a.FlagContentGeneration(true, 0.92, "stylistic fingerprint"))

	assert.Equal(t, contentgeneration.StatusFlagged, a.Status())
	assert.True(t, a.IsAIGenerated())
	assert.InDelta(t, 0.92, a.Confidence(), 0.0001)
}

func TestAggregate_DeleteIsSoftAndTerminal(t *testing.T) {
	a := contentgeneration.New("req-1")
	require.NoError(t, a.RequestContentGeneration("topic", "easy"))
	require.NoError(t, a.DeleteContentGeneration())
	assert.Equal(t, contentgeneration.StatusDeleted, a.Status())
	assert.Error(t, a.DeleteContentGeneration())
	assert.Error(t, a.FlagContentGeneration(true, 0.5, "x"))
}

func TestAggregate_SnapshotRoundTrip(t *testing.T) {
	a := contentgeneration.New("req-1")
	require.NoError(t, a.RequestContentGeneration("topic", "hard"))
	require.NoError(t, a.CompleteContentGeneration("text", "uri"))

	raw, err := a.SerializeState()
	require.NoError(t, err)

	restored := contentgeneration.New("req-1")
	require.NoError(t, restored.LoadState(raw, a.Version()))

	assert.Equal(t, a.Status(), restored.Status())
	assert.Equal(t, a.GeneratedText(), restored.GeneratedText())
	assert.Equal(t, a.Version(), restored.Version())
}
