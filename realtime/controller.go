// Package realtime implements a hysteresis-based controller that enables a
// transport's real-time display mode when queued data exists and disables
// it after an idle timeout, sampled on its own timer so it never blocks the
// producer path.
//
// It follows a "call the transport, update local cached state only once the
// call succeeds" pattern, with distinct success rules for the enable and
// disable directions.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"

	"github.com/mbndr/hidstream/hidproto"
	"github.com/mbndr/hidstream/internal/clock"
)

// Activity is the minimal view of queue pressure the controller samples.
// Callers (txqueue.Queue, swapchain.SwapChain) implement it over
// their own queue/present-queue state.
type Activity interface {
	// QueueNonEmpty reports whether there is currently queued, unsent data.
	QueueNonEmpty() bool
	// LastActivityNanos returns the monotonic timestamp of the most recent
	// enqueue, as produced by internal/clock.Now.
	LastActivityNanos() int64
}

// Controller maintains realtime_enabled per 
type Controller struct {
	transport hidproto.Transport
	bus       *hidproto.Bus
	activity  Activity

	monitorInterval   time.Duration
	realtimeTimeoutMs int64

	mu             sync.Mutex
	enabled        bool
	lastCheckNanos int64

	enableCount  atomic.Int64
	disableCount atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Controller. monitorIntervalMs defaults to 500 and
// realtimeTimeoutMs defaults to 3000 if given as <= 0.
func New(transport hidproto.Transport, bus *hidproto.Bus, activity Activity, monitorIntervalMs, realtimeTimeoutMs int) *Controller {
	if monitorIntervalMs <= 0 {
		monitorIntervalMs = 500
	}
	if realtimeTimeoutMs <= 0 {
		realtimeTimeoutMs = 3000
	}
	return &Controller{
		transport:         transport,
		bus:               bus,
		activity:          activity,
		monitorInterval:   time.Duration(monitorIntervalMs) * time.Millisecond,
		realtimeTimeoutMs: int64(realtimeTimeoutMs),
	}
}

// Start begins the sampling loop on its own goroutine.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *Controller) sample(ctx context.Context) {
	c.mu.Lock()
	enabled := c.enabled
	lastCheck := c.lastCheckNanos
	c.mu.Unlock()

	nonEmpty := c.activity.QueueNonEmpty()
	now := clock.Now()

	switch {
	case nonEmpty && !enabled:
		res, err := hidproto.SafeSetRealtimeMode(ctx, c.transport, true)
		if err != nil {
			log.Warnf("realtime: enable: %s", err)
			return
		}
		if res.AnySucceeded() {
			c.mu.Lock()
			c.enabled = true
			c.lastCheckNanos = now
			c.mu.Unlock()
			c.enableCount.Add(1)
			c.publish(true, res)
		}

	case !nonEmpty && enabled:
		idleFor := clock.Since(c.activity.LastActivityNanos())
		sinceCheck := clock.Since(lastCheck)
		if idleFor.Milliseconds() > c.realtimeTimeoutMs && sinceCheck.Milliseconds() > c.realtimeTimeoutMs/2 {
			res, err := hidproto.SafeSetRealtimeMode(ctx, c.transport, false)
			if err != nil {
				log.Warnf("realtime: disable: %s", err)
			}
			// Local state flips to disabled regardless of per-device outcome;
			// we trust the attempt rather than conditioning on its result.
			c.mu.Lock()
			c.enabled = false
			c.lastCheckNanos = now
			c.mu.Unlock()
			c.disableCount.Add(1)
			c.publish(false, res)
		}
	}
}

func (c *Controller) publish(enabled bool, res hidproto.DeviceResults) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(hidproto.Event{
		Kind: hidproto.KindRealtimeModeChanged,
		At:   clock.WallClock(),
		RealtimeModeChanged: &hidproto.RealtimeModeChangedData{
			Enabled:      enabled,
			SuccessCount: res.SuccessCount(),
			TotalDevices: len(res),
		},
	})
}

// Enabled reports the controller's current view of the transport's
// real-time mode.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// EnableCount and DisableCount return cumulative successful transition
// counts. They are kept on the Controller only; the owning component's
// stats.Aggregator realtime counters are not updated from them.
func (c *Controller) EnableCount() int64  { return c.enableCount.Load() }
func (c *Controller) DisableCount() int64 { return c.disableCount.Load() }

// Disable forces the controller into the disabled state immediately,
// calling the transport directly. Used by txqueue.Queue.DisableRealtimeMode
// to force a synchronous transition outside the sampling
// cadence.
func (c *Controller) Disable(ctx context.Context) {
	res, err := hidproto.SafeSetRealtimeMode(ctx, c.transport, false)
	if err != nil {
		log.Warnf("realtime: forced disable: %s", err)
	}
	c.mu.Lock()
	was := c.enabled
	c.enabled = false
	c.lastCheckNanos = clock.Now()
	c.mu.Unlock()
	if was {
		c.disableCount.Add(1)
		c.publish(false, res)
	}
}

// Stop cancels the sampling loop and waits for it to exit. Stop is safe to
// call multiple times.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}
