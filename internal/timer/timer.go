// Package timer implements the Timer Controller (C2): start/stop/restart
// of per-context retransmission timers (T3450 among them), built on
// time.AfterFunc.
package timer

import (
	"sync"
	"time"

	"github.com/your-org/mme-emmd/internal/emmtypes"
)

// Handler is invoked with arg when a timer expires without being stopped
// first.
type Handler func(arg interface{})

type entry struct {
	timer    *time.Timer
	duration time.Duration
	handler  Handler
	arg      interface{}
	stopped  bool
}

// Controller is the Timer Controller (C2). Stop racing with expiry is
// safe: if the handler has already begun running it will not be
// interrupted, and if it hasn't begun it will never run (TS 24.301 §4.2).
type Controller struct {
	mu     sync.Mutex
	nextID uint32
	active map[uint32]*entry
}

func NewController() *Controller {
	return &Controller{active: make(map[uint32]*entry)}
}

// Start arms a new timer and returns its handle.
func (c *Controller) Start(d time.Duration, handler Handler, arg interface{}) uint32 {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	e := &entry{duration: d, handler: handler, arg: arg}
	c.active[id] = e
	c.mu.Unlock()

	e.timer = time.AfterFunc(d, func() { c.fire(id) })
	return id
}

func (c *Controller) fire(id uint32) {
	c.mu.Lock()
	e, ok := c.active[id]
	if !ok || e.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.active, id)
	c.mu.Unlock()

	e.handler(e.arg)
}

// Stop cancels a running timer. Returns the inactive sentinel regardless of
// whether id was still active, matching the procedure's stop() -> INACTIVE
// contract (TS 24.301 §4.2).
func (c *Controller) Stop(id uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[id]
	if !ok {
		return emmtypes.NASTimerInactiveID
	}
	e.stopped = true
	e.timer.Stop()
	delete(c.active, id)
	return emmtypes.NASTimerInactiveID
}

// Restart re-arms the timer identified by id with its original duration,
// handler and argument, returning the new handle. If id is not active,
// Restart is equivalent to Start would be with no duration known — callers
// must use Start directly in that case; Restart here returns the inactive
// sentinel.
func (c *Controller) Restart(id uint32) uint32 {
	c.mu.Lock()
	e, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return emmtypes.NASTimerInactiveID
	}
	e.stopped = true
	e.timer.Stop()
	delete(c.active, id)
	d, h, a := e.duration, e.handler, e.arg
	c.mu.Unlock()

	return c.Start(d, h, a)
}

// IsActive reports whether id currently names a running timer.
func (c *Controller) IsActive(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}
