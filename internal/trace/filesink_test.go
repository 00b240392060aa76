package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkAppendThenReadEventsRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	sink, err := OpenFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(Event{ID: "1", TaskID: "t1", StepIdx: 0}))
	require.NoError(t, sink.Append(Event{ID: "2", TaskID: "t1", StepIdx: 1}))
	require.NoError(t, sink.Close())

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "2", events[1].ID)
}

func TestOpenFileSinkAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	first, err := OpenFileSink(path)
	require.NoError(t, err)
	require.NoError(t, first.Append(Event{ID: "1"}))
	require.NoError(t, first.Close())

	second, err := OpenFileSink(path)
	require.NoError(t, err)
	require.NoError(t, second.Append(Event{ID: "2"}))
	require.NoError(t, second.Close())

	events, err := ReadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestReadEventsSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(Event{ID: "1"}))
	require.NoError(t, sink.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := ReadEvents(path)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
