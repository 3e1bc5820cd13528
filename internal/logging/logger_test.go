package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONEntryCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelInfo, FormatJSON, &buf)

	logger.WithJob("job-1", "earner:acct_1").WithError(errors.New("timeout")).Warn("job failed")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry.Level)
	assert.Equal(t, "job failed", entry.Message)
	assert.Equal(t, "job-1", entry.Fields["job_id"])
	assert.Equal(t, "earner:acct_1", entry.Fields["account"])
	assert.Equal(t, "timeout", entry.Error)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelWarn, FormatText, &buf)

	logger.Info("hidden")
	logger.Debug("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warn: shown")
}

func TestDerivedLoggersDoNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	root := NewLoggerWithWriter(LevelInfo, FormatJSON, &buf)

	_ = root.WithAccount("a")
	root.Info("plain")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Empty(t, entry.Fields)
}

func TestConcurrentWritesStayLineDelimited(t *testing.T) {
	var buf bytes.Buffer
	root := NewLoggerWithWriter(LevelInfo, FormatJSON, &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			root.WithField("n", i).Info("tick")
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		var entry LogEntry
		assert.NoError(t, json.Unmarshal([]byte(line), &entry))
	}
}

func TestFromContext(t *testing.T) {
	logger := Discard().WithField("k", "v")
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLogLevel("verbose"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
