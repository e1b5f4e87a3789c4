package biztime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() { _ = Init("UTC") })

	require.NoError(t, Init(""))
	assert.Equal(t, time.UTC, Location())

	require.NoError(t, Init("Europe/Berlin"))
	assert.Equal(t, "Europe/Berlin", Location().String())

	assert.Error(t, Init("Mars/Olympus"))
	assert.Equal(t, "Europe/Berlin", Location().String())

	assert.Equal(t, time.UTC, NowUTC().Location())
}
