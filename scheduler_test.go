package opcov

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestDefaultRunScheduler_RunOnce(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewDefaultRunScheduler(10*time.Millisecond, true, testLogger())
	scheduler.RegisterCallback(func() error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "run-once mode must not schedule more runs")
}

func TestDefaultRunScheduler_Periodic(t *testing.T) {
	callChan := make(chan struct{}, 10)
	scheduler := NewDefaultRunScheduler(10*time.Millisecond, false, testLogger())
	scheduler.RegisterCallback(func() error {
		callChan <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))

	for i := 0; i < 3; i++ {
		select {
		case <-callChan:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for run %d", i+1)
		}
	}

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))

	// drain runs that completed before Stop took effect
	for len(callChan) > 0 {
		<-callChan
	}
	select {
	case <-callChan:
		t.Fatal("run happened after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, scheduler.Stopped())
}

func TestDefaultRunScheduler_PeriodicErrorsKeepRunning(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewDefaultRunScheduler(5*time.Millisecond, false, testLogger())
	scheduler.RegisterCallback(func() error {
		if calls.Add(1) > 1 {
			return errors.New("run failed")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))
}

func TestDefaultRunScheduler_CallbackError(t *testing.T) {
	expected := errors.New("callback error")
	for _, runOnce := range []bool{true, false} {
		scheduler := NewDefaultRunScheduler(time.Hour, runOnce, testLogger())
		scheduler.RegisterCallback(func() error { return expected })
		assert.Equal(t, expected, scheduler.Start(context.Background()), "runOnce=%v", runOnce)
		require.NoError(t, scheduler.Stop())
	}
}

func TestDefaultRunScheduler_InvalidSetup(t *testing.T) {
	scheduler := NewDefaultRunScheduler(time.Second, true, testLogger())
	err := scheduler.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback must be registered")

	scheduler = NewDefaultRunScheduler(0, false, testLogger())
	scheduler.RegisterCallback(func() error { return nil })
	assert.Error(t, scheduler.Start(context.Background()))
}

func TestDefaultRunScheduler_StopIsIdempotent(t *testing.T) {
	scheduler := NewDefaultRunScheduler(time.Second, true, testLogger())
	assert.NoError(t, scheduler.Stop())
	assert.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())
}

func TestDefaultRunScheduler_ContextCancel(t *testing.T) {
	scheduler := NewDefaultRunScheduler(time.Hour, false, testLogger())
	scheduler.RegisterCallback(func() error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, scheduler.WaitForShutdown(waitCtx))
	assert.True(t, scheduler.Stopped())
}
