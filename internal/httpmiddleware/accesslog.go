package httpmiddleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var sensitiveKeys = map[string]struct{}{
	"password": {}, "token": {}, "authorization": {}, "image": {},
}

// AccessLog writes one line per request. Paths in skip are not logged.
func AccessLog(l *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("request_id", c.GetString(KeyRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.Any("query", maskQuery(c.Request.URL.Query())),
			zap.Int("size", c.Writer.Size()),
		}
		switch {
		case len(c.Errors) > 0:
			l.Error("HTTP", append(fields, zap.String("errors", c.Errors.String()))...)
		case c.Writer.Status() >= 500:
			l.Warn("HTTP", fields...)
		default:
			l.Info("HTTP", fields...)
		}
	}
}

func maskQuery(kv map[string][]string) map[string][]string {
	out := make(map[string][]string, len(kv))
	for k, v := range kv {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = []string{"****"}
			continue
		}
		out[k] = v
	}
	return out
}
