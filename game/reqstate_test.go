package game

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTrackerSingleInFlight(t *testing.T) {
	t.Parallel()

	rt := &requestTracker{}
	assert.Equal(t, StateIdle, rt.current())

	require.NoError(t, rt.begin())
	assert.Equal(t, StatePending, rt.current())
	assert.Error(t, rt.begin(), "second request while non-Idle")

	rt.sent()
	assert.Equal(t, StateProcessing, rt.current())
	assert.Error(t, rt.begin())

	rt.end(nil)
	assert.Equal(t, StateIdle, rt.current())
	assert.Equal(t, StateCompleted, rt.lastResult())

	require.NoError(t, rt.begin())
	rt.sent()
	rt.end(fmt.Errorf("boom"))
	assert.Equal(t, StateIdle, rt.current())
	assert.Equal(t, StateError, rt.lastResult())
}

func TestRequestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Pending", StatePending.String())
	assert.Equal(t, "Processing", StateProcessing.String())
	assert.Equal(t, "Completed", StateCompleted.String())
	assert.Equal(t, "Error", StateError.String())
	assert.Equal(t, "?", RequestState(99).String())
}
