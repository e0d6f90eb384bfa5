// Package zap adapts a *zap.Logger to sessioncache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/sessioncache"
	"go.uber.org/zap"
)

var _ sessioncache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "sessioncache" so its lines are easy to filter.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("sessioncache")} }

func (z ZapLogger) Debug(msg string, f sessioncache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f sessioncache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f sessioncache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f sessioncache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f sessioncache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
