package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Warning is one captured warning-or-above log entry.
type Warning struct {
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Capture records warnings logged through its Logger while still forwarding
// every entry to the base logger. One Capture is scoped to one suite run;
// there is no shared sink to swap in or restore.
type Capture struct {
	logger *zap.Logger
	logs   *observer.ObservedLogs
}

// NewCapture wraps base so that Warn and above are also recorded.
func NewCapture(base *zap.Logger) *Capture {
	if base == nil {
		base = zap.NewNop()
	}
	core, logs := observer.New(zapcore.WarnLevel)
	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	}))
	return &Capture{logger: logger, logs: logs}
}

// Logger returns the capturing logger to hand to hooks and checks.
func (c *Capture) Logger() *zap.Logger {
	return c.logger
}

// Len returns the number of captured warnings.
func (c *Capture) Len() int {
	return c.logs.Len()
}

// Warnings returns the captured entries in logging order.
func (c *Capture) Warnings() []Warning {
	entries := c.logs.All()
	out := make([]Warning, 0, len(entries))
	for _, e := range entries {
		w := Warning{
			Level:   e.Level.String(),
			Message: e.Message,
			Time:    e.Time,
		}
		if len(e.Context) > 0 {
			w.Fields = make(map[string]string, len(e.Context))
			for k, v := range e.ContextMap() {
				w.Fields[k] = stringify(v)
			}
		}
		out = append(out, w)
	}
	return out
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return fmt.Sprint(x)
	}
}
