package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/mme-emmd/internal/emmtypes"
)

func TestController_StartFiresHandler(t *testing.T) {
	c := NewController()
	var fired int32
	done := make(chan struct{})

	c.Start(10*time.Millisecond, func(arg interface{}) {
		atomic.StoreInt32(&fired, 1)
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestController_StopPreventsHandler(t *testing.T) {
	c := NewController()
	var fired int32

	id := c.Start(30*time.Millisecond, func(arg interface{}) {
		atomic.StoreInt32(&fired, 1)
	}, nil)

	got := c.Stop(id)
	assert.Equal(t, emmtypes.NASTimerInactiveID, got)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.False(t, c.IsActive(id))
}

func TestController_StopOnAlreadyExpiredIsNoOp(t *testing.T) {
	c := NewController()
	done := make(chan struct{})

	id := c.Start(5*time.Millisecond, func(arg interface{}) {
		close(done)
	}, nil)

	<-done
	time.Sleep(5 * time.Millisecond)

	got := c.Stop(id)
	assert.Equal(t, emmtypes.NASTimerInactiveID, got)
}

func TestController_RestartRearmsWithSameParameters(t *testing.T) {
	c := NewController()
	var count int32
	done := make(chan struct{}, 2)

	id := c.Start(20*time.Millisecond, func(arg interface{}) {
		atomic.AddInt32(&count, 1)
		done <- struct{}{}
	}, "buf")

	newID := c.Restart(id)
	require.NotEqual(t, emmtypes.NASTimerInactiveID, newID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restarted timer never fired")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}
