package middleware

import (
	"net/http"
	"time"

	"github.com/supportdesk/internal/logger"
)

// RequestLog пишет method, path, status и длительность каждого запроса.
// Пробы /health уходят в debug, ответы 5xx в warn. Upgrade на /ws логируется по завершении соединения.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrapStatus(w)
		next.ServeHTTP(sw, r)
		ms := time.Since(start).Milliseconds()
		switch {
		case sw.status >= http.StatusInternalServerError:
			logger.Warnf("http %s %s status=%d duration_ms=%d", r.Method, r.URL.Path, sw.status, ms)
		case r.URL.Path == "/health":
			logger.Debugf("http %s %s status=%d duration_ms=%d", r.Method, r.URL.Path, sw.status, ms)
		default:
			logger.Infof("http %s %s status=%d duration_ms=%d", r.Method, r.URL.Path, sw.status, ms)
		}
	})
}
