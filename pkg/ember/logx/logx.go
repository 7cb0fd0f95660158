// Package logx is the structured-logging seam the daemon is handed rather
// than reaching for log.Printf directly: a Logger interface plus a
// hclog-backed default, matching the shape nabbar-golib wires through its
// own tooling.
package logx

import (
	"os"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-hclog"
)

// Logger is the minimal level-based logging surface every ember package
// that logs (daemon, reactor, conn) accepts. Fields are passed as
// alternating key/value pairs, same convention as hclog's own With.
type Logger interface {
	Debugf(msg string, kv ...any)
	Infof(msg string, kv ...any)
	Warnf(msg string, kv ...any)
	Errorf(msg string, kv ...any)
	With(kv ...any) Logger
}

type hclogLogger struct {
	l hclog.Logger
}

// NewHCLog builds the default Logger, a github.com/hashicorp/go-hclog
// instance writing structured key/value pairs to stderr.
func NewHCLog(name string) Logger {
	return &hclogLogger{l: hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.Info,
		Output: os.Stderr,
	})}
}

func (h *hclogLogger) Debugf(msg string, kv ...any) { h.l.Debug(msg, kv...) }
func (h *hclogLogger) Infof(msg string, kv ...any)  { h.l.Info(msg, kv...) }
func (h *hclogLogger) Warnf(msg string, kv ...any)  { h.l.Warn(msg, kv...) }
func (h *hclogLogger) Errorf(msg string, kv ...any) { h.l.Error(msg, kv...) }
func (h *hclogLogger) With(kv ...any) Logger        { return &hclogLogger{l: h.l.With(kv...)} }

type discardLogger struct{}

// Discard returns a Logger that drops everything, for tests that don't
// want daemon lifecycle noise.
func Discard() Logger { return discardLogger{} }

func (discardLogger) Debugf(string, ...any) {}
func (discardLogger) Infof(string, ...any)  {}
func (discardLogger) Warnf(string, ...any)  {}
func (discardLogger) Errorf(string, ...any) {}
func (discardLogger) With(...any) Logger    { return discardLogger{} }

// Fields marshals a set of key/value pairs to JSON using goccy/go-json,
// for callers (e.g. a NotifyConnection hook) that want to ship structured
// log lines to something other than a Logger, such as a metrics sink or
// an audit trail.
func Fields(kv ...any) ([]byte, error) {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[key] = kv[i+1]
	}
	return json.Marshal(m)
}
