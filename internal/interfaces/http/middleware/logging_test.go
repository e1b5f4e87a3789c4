package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type entry struct {
	level string
	msg   string
	kv    map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (l *captureLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	l.entries = append(l.entries, entry{level: level, msg: msg, kv: m})
}

func (l *captureLogger) Debug(msg string, args ...any)                   { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)                    { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)                    { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any)                   { l.add("error", msg, args) }
func (l *captureLogger) With(args ...any) logger.Interface               { return l }
func (l *captureLogger) Debugw(msg string, keysAndValues ...interface{}) { l.add("debug", msg, keysAndValues) }
func (l *captureLogger) Infow(msg string, keysAndValues ...interface{})  { l.add("info", msg, keysAndValues) }
func (l *captureLogger) Warnw(msg string, keysAndValues ...interface{})  { l.add("warn", msg, keysAndValues) }
func (l *captureLogger) Errorw(msg string, keysAndValues ...interface{}) { l.add("error", msg, keysAndValues) }
func (l *captureLogger) Fatalw(msg string, keysAndValues ...interface{}) { l.add("fatal", msg, keysAndValues) }

func TestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := &captureLogger{}
	engine := gin.New()
	engine.Use(Logger(log))
	engine.GET("/readyz", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/fail", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	tests := []struct {
		path  string
		level string
		route string
	}{
		{"/readyz", "debug", "/readyz"},
		{"/fail", "error", "/fail"},
		{"/nope", "warn", "unmatched"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		req.Header.Set("X-Request-ID", "req-1")
		engine.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, log.entries, len(tests))
	for i, tt := range tests {
		got := log.entries[i]
		assert.Equal(t, tt.level, got.level, tt.path)
		assert.Equal(t, tt.route, got.kv["route"], tt.path)
		assert.Equal(t, "req-1", got.kv["request_id"], tt.path)
	}
}
