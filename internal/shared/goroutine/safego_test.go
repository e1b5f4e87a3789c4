package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

type captureLogger struct {
	logger.Interface
	mu   sync.Mutex
	msgs []string
	done chan struct{}
}

func (c *captureLogger) Errorw(msg string, _ ...interface{}) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	close(c.done)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	log := &captureLogger{done: make(chan struct{})}

	SafeGo(log, "boom", func() { panic("rollout executor exploded") })
	<-log.done

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"goroutine panicked"}, log.msgs)
}

func TestRecover_NoPanicIsSilent(t *testing.T) {
	log := &captureLogger{done: make(chan struct{})}
	func() {
		defer Recover(log, "quiet")
	}()
	assert.Empty(t, log.msgs)
}
