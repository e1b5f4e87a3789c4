package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(TickTotal.WithLabelValues("error"))
	r.ObserveTick(20*time.Millisecond, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(TickTotal.WithLabelValues("error")))

	before = testutil.ToFloat64(InvalidationTotal.WithLabelValues("lock_timeout"))
	r.InvalidationFinished("lock_timeout")
	assert.Equal(t, before+1, testutil.ToFloat64(InvalidationTotal.WithLabelValues("lock_timeout")))

	before = testutil.ToFloat64(ActionStatusTotal.WithLabelValues("finished", "finished"))
	r.ActionStatusReported("finished", "finished")
	assert.Equal(t, before+1, testutil.ToFloat64(ActionStatusTotal.WithLabelValues("finished", "finished")))

	mfs, err := Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
