package circuit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := newFakeClock()
	b := NewBreaker("llm", Config{FailureThreshold: threshold, Cooldown: cooldown}, nil)
	b.now = clock.Now
	return b, clock
}

func failOnce(b *Breaker) error {
	_, err := b.Execute(func() (any, error) { return nil, errBoom })
	return err
}

func TestBreakerPassesThroughWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	result, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, failOnce(b), errBoom)
	}
	assert.Equal(t, Open, b.CurrentState())

	// The very next call is rejected without reaching the dependency.
	reached := false
	_, err := b.Execute(func() (any, error) {
		reached = true
		return nil, nil
	})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "llm", openErr.Dependency)
	assert.False(t, reached)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	require.Error(t, failOnce(b))
	require.Error(t, failOnce(b))

	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, 0, b.ConsecutiveFailures())

	// Two more failures do not reach the threshold after the reset.
	require.Error(t, failOnce(b))
	require.Error(t, failOnce(b))
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreakerAdmitsSingleProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	require.Error(t, failOnce(b))
	require.Equal(t, Open, b.CurrentState())

	// Before cooldown: still rejected.
	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.True(t, IsOpenError(err))

	clock.Advance(31 * time.Second)

	// One probe admitted; a concurrent caller is rejected while the probe
	// is outstanding.
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		_, probeErr := b.Execute(func() (any, error) {
			close(probeStarted)
			<-release
			return nil, nil
		})
		probeDone <- probeErr
	}()

	<-probeStarted
	assert.Equal(t, HalfOpen, b.CurrentState())
	_, err = b.Execute(func() (any, error) { return nil, nil })
	require.True(t, IsOpenError(err), "concurrent caller must be rejected while probe is in flight")

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, Closed, b.CurrentState())
	assert.Equal(t, 0, b.ConsecutiveFailures())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(1, 30*time.Second)

	require.Error(t, failOnce(b))
	clock.Advance(31 * time.Second)

	// Probe fails: back to OPEN with a fresh cooldown window.
	require.Error(t, failOnce(b))
	assert.Equal(t, Open, b.CurrentState())

	clock.Advance(15 * time.Second)
	_, err := b.Execute(func() (any, error) { return nil, nil })
	require.True(t, IsOpenError(err), "cooldown restarts from the failed probe")

	clock.Advance(16 * time.Second)
	_, err = b.Execute(func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreakerOnlyOneProbeUnderConcurrency(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	require.Error(t, failOnce(b))
	clock.Advance(2 * time.Second)

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	hold := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Execute(func() (any, error) {
				mu.Lock()
				admitted++
				mu.Unlock()
				<-hold
				return nil, nil
			})
		}()
	}

	// Give the goroutines a moment to contend for admission.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, admitted, "exactly one caller may be admitted as the probe")
	mu.Unlock()

	close(hold)
	wg.Wait()
}

func TestBreakerTransitionCallback(t *testing.T) {
	transitions := make(chan [2]State, 8)
	b := NewBreaker("memory_read", Config{FailureThreshold: 1, Cooldown: time.Minute},
		func(_ string, from, to State) {
			transitions <- [2]State{from, to}
		})

	require.Error(t, failOnce(b))

	select {
	case tr := <-transitions:
		assert.Equal(t, Closed, tr[0])
		assert.Equal(t, Open, tr[1])
	case <-time.After(time.Second):
		t.Fatal("expected a transition notification")
	}
}

func TestRegistryIsolatesDependencies(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute}, nil, nil)

	_, err := r.Execute("tool:set_appointment", func() (any, error) { return nil, errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, r.Get("tool:set_appointment").CurrentState())

	// A failing booking tool must not trip the availability tool's breaker.
	_, err = r.Execute("tool:check_availability_by_doctor", func() (any, error) { return "free", nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, r.Get("tool:check_availability_by_doctor").CurrentState())
}

func TestRegistryPerDependencyOverrides(t *testing.T) {
	r := NewRegistry(
		Config{FailureThreshold: 5, Cooldown: time.Minute},
		map[string]Config{"llm": {FailureThreshold: 2, Cooldown: 10 * time.Second}},
		nil,
	)

	llm := r.Get("llm").Snapshot()
	assert.Equal(t, 2, llm.FailureThreshold)
	assert.Equal(t, 10*time.Second, llm.Cooldown)

	mem := r.Get("memory_read").Snapshot()
	assert.Equal(t, 5, mem.FailureThreshold)
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(DefaultConfig, nil, nil)
	r.Get("llm")
	r.Get("memory_write")

	statuses := r.Snapshot()
	require.Len(t, statuses, 2)
	names := []string{statuses[0].Dependency, statuses[1].Dependency}
	assert.ElementsMatch(t, []string{"llm", "memory_write"}, names)
}
