package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStartRunsOncePerKey(t *testing.T) {
	m := NewManager("test", time.Minute)

	release := make(chan struct{})
	var calls atomic.Int32
	fn := func() error {
		calls.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := m.Start("abc", fn)
			assert.NoError(t, err)
			if outcome == Started {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	phase, err := m.State("abc")
	assert.Equal(t, PhaseRunning, phase)
	assert.NoError(t, err)
	assert.Equal(t, []string{"abc"}, m.Running())

	close(release)
	require.NoError(t, m.Drain(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), started.Load())

	phase, _ = m.State("abc")
	assert.Equal(t, PhaseIdle, phase)
	assert.Empty(t, m.Running())
}

func TestDistinctKeysRunIndependently(t *testing.T) {
	m := NewManager("test", time.Minute)

	var calls atomic.Int32
	for _, key := range []string{"a", "b", "c"} {
		_, err := m.Start(key, func() error {
			calls.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, m.Drain(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFailureIsRememberedAndCoolsDown(t *testing.T) {
	m := NewManager("test", time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	boom := errors.New("resolver unavailable")
	_, err := m.Start("abc", func() error { return boom })
	require.NoError(t, err)
	assert.ErrorIs(t, m.Wait(context.Background(), "abc"), boom)

	phase, lastErr := m.State("abc")
	assert.Equal(t, PhaseFailed, phase)
	assert.ErrorIs(t, lastErr, boom)

	_, err = m.Start("abc", func() error { return nil })
	assert.ErrorIs(t, err, ErrCoolingDown)
	assert.Contains(t, err.Error(), "resolver unavailable")

	now = now.Add(2 * time.Minute)

	outcome, err := m.Start("abc", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Started, outcome)
	require.NoError(t, m.Drain(context.Background()))

	phase, lastErr = m.State("abc")
	assert.Equal(t, PhaseIdle, phase)
	assert.NoError(t, lastErr)
}

func TestZeroCooldownRetriesImmediately(t *testing.T) {
	m := NewManager("test", 0)

	_, err := m.Start("abc", func() error { return errors.New("boom") })
	require.NoError(t, err)
	require.NoError(t, m.Drain(context.Background()))

	outcome, err := m.Start("abc", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Started, outcome)
	require.NoError(t, m.Drain(context.Background()))
}

func TestTransientFailureSkipsCooldown(t *testing.T) {
	m := NewManager("test", time.Hour)

	notYet := errors.New("dependency not ready")
	_, err := m.Start("abc", func() error { return Transient(notYet) })
	require.NoError(t, err)
	require.NoError(t, m.Drain(context.Background()))

	phase, lastErr := m.State("abc")
	assert.Equal(t, PhaseFailed, phase)
	assert.ErrorIs(t, lastErr, notYet)
	assert.Equal(t, "dependency not ready", lastErr.Error())

	outcome, err := m.Start("abc", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Started, outcome)
	require.NoError(t, m.Drain(context.Background()))

	phase, _ = m.State("abc")
	assert.Equal(t, PhaseIdle, phase)
}

func TestTransientNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	m := NewManager("test", time.Minute)

	_, err := m.Start("abc", func() error { panic("kaboom") })
	require.NoError(t, err)
	require.NoError(t, m.Drain(context.Background()))

	phase, lastErr := m.State("abc")
	assert.Equal(t, PhaseFailed, phase)
	assert.ErrorContains(t, lastErr, "kaboom")
}

func TestWaitUnknownKey(t *testing.T) {
	m := NewManager("test", time.Minute)
	assert.ErrorIs(t, m.Wait(context.Background(), "missing"), ErrNotFound)
}

func TestWaitHonoursContext(t *testing.T) {
	m := NewManager("test", time.Minute)
	release := make(chan struct{})
	_, err := m.Start("abc", func() error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx, "abc"), context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Drain(context.Background()))
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "running", PhaseRunning.String())
	assert.Equal(t, "failed", PhaseFailed.String())
}
