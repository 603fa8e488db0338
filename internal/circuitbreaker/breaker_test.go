package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	assert.True(t, b.Allow("base"))
}

func TestTripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("base")
	b.RecordFailure("base")
	assert.True(t, b.Allow("base"), "two failures stay under the threshold")

	b.RecordFailure("base")
	assert.False(t, b.Allow("base"))
	assert.Equal(t, StateOpen, b.State("base"))
}

func TestOpenAdmitsOneProbeAfterCooldown(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("base")
	b.RecordFailure("base")
	require.False(t, b.Allow("base"))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, b.Allow("base"), "cooldown elapsed, probe admitted")
	assert.Equal(t, StateHalfOpen, b.State("base"))
	assert.False(t, b.Allow("base"), "only one probe at a time")
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("base")
	b.RecordFailure("base")
	time.Sleep(60 * time.Millisecond)
	b.Allow("base") // half-open

	b.RecordSuccess("base")
	assert.Equal(t, StateClosed, b.State("base"))
	assert.True(t, b.Allow("base"))
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("base")
	b.RecordFailure("base")
	time.Sleep(60 * time.Millisecond)
	b.Allow("base") // half-open

	b.RecordFailure("base")
	assert.Equal(t, StateOpen, b.State("base"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("base")
	b.RecordFailure("base")
	b.RecordSuccess("base")

	b.RecordFailure("base")
	assert.True(t, b.Allow("base"), "counter was reset, one failure is under threshold")
}

func TestNetworksAreIndependent(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("base")
	b.RecordFailure("base")

	assert.False(t, b.Allow("base"))
	assert.True(t, b.Allow("ethereum"), "a tripped base circuit must not block ethereum")
}

func TestUnknownNetworkIsClosed(t *testing.T) {
	b := New(2, 100*time.Millisecond)
	assert.Equal(t, StateClosed, b.State("polygon"))
}

func TestOnTransitionCallback(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(network string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("base")
	b.RecordFailure("base") // closed→open

	time.Sleep(20 * time.Millisecond) // callback runs on its own goroutine

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 1)
	assert.Equal(t, StateClosed, transitions[0].from)
	assert.Equal(t, StateOpen, transitions[0].to)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
