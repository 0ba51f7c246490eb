package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	entries []LogEntry
}

func (l *recordingLogger) Log(e LogEntry)             { l.entries = append(l.entries, e) }
func (l *recordingLogger) IsEnabled(LogLevel) bool { return true }

func TestOverloadLogger_RateLimited(t *testing.T) {
	rl := &recordingLogger{}
	ol := newOverloadLogger(rl, time.Minute, 1)

	ol.warnBacklog("ready", 100)
	ol.warnBacklog("ready", 200)

	assert.Len(t, rl.entries, 1, "second warning within the window must be suppressed")
	assert.Equal(t, "overload", rl.entries[0].Category)
}

func TestOverloadLogger_SeparateCategoriesHaveSeparateBudgets(t *testing.T) {
	rl := &recordingLogger{}
	ol := newOverloadLogger(rl, time.Minute, 1)

	ol.warnBacklog("ready", 100)
	ol.warnBacklog("waiting", 100)

	assert.Len(t, rl.entries, 2)
}
