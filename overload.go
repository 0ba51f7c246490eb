package scheduler

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// overloadLogger rate-limits the backlog warning that a scheduling pass
// emits when the waiting queue holds more than 10000 tasks (category
// "waiting"). Without a limit, a sustained backlog would
// otherwise log once per scheduling pass, which is itself a source of
// overload.
type overloadLogger struct {
	logger  Logger
	limiter *catrate.Limiter
}

func newOverloadLogger(logger Logger, window time.Duration, burst int) *overloadLogger {
	return &overloadLogger{
		logger:  logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{window: burst}),
	}
}

// warnBacklog logs at most burst times per window, keyed by category, so
// distinct overload conditions don't starve each other's budget. The
// scheduling pass currently reports only the "waiting" category.
func (o *overloadLogger) warnBacklog(category string, depth int) {
	if _, ok := o.limiter.Allow(category); !ok {
		return
	}
	logf(o.logger, LevelWarn, "overload", "backlog detected", map[string]any{
		"category": category,
		"depth":    depth,
	})
}
