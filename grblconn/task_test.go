package grblconn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thawkins/gcodekit/logger"
)

func TestTaskManagerInterval(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), logger.GetLogger())

	var ticks atomic.Int32
	_, err := mgr.StartInterval("sweep", func() bool {
		ticks.Add(1)
		return true
	}, 10*time.Millisecond, true)
	require.NoError(err)

	// runNow fires once before the first tick
	require.GreaterOrEqual(ticks.Load(), int32(1))
	require.Eventually(func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	// a second interval task under the same name is refused
	_, err = mgr.StartInterval("sweep", func() bool { return true }, 10*time.Millisecond, false)
	require.Error(err)

	require.NoError(mgr.StopInterval("sweep"))

	// let a pending tick drain before sampling
	time.Sleep(30 * time.Millisecond)
	seen := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(seen, ticks.Load())

	require.Error(mgr.StopInterval("sweep"))

	mgr.Stop()
	mgr.Wait()
	require.Equal(0, mgr.TaskCount())
}

func TestTaskManagerIntervalInvalid(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), logger.GetLogger())

	_, err := mgr.StartInterval("bad", func() bool { return true }, 0, false)
	require.Error(err)

	mgr.Stop()
	mgr.Wait()
}

func TestTaskManagerIntervalSelfStop(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), logger.GetLogger())

	var ticks atomic.Int32
	_, err := mgr.StartInterval("once", func() bool {
		ticks.Add(1)
		return false
	}, 10*time.Millisecond, false)
	require.NoError(err)

	require.Eventually(func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(int32(1), ticks.Load())

	// the terminated task released its name
	require.Error(mgr.StopInterval("once"))

	mgr.Stop()
	mgr.Wait()
}
