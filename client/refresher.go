package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// autoRefresher runs the proactive-refresh check on a fixed interval so
// tokens stay fresh even while no requests are being issued. Wake covers
// the app-resume case: a process that slept past token expiry can force
// an immediate check instead of waiting out the interval.
type autoRefresher struct {
	c    *Client
	mu   sync.Mutex
	stop chan struct{}
	wake chan struct{}
}

// StartAutoRefresh launches the background refresh loop. Calling it
// again restarts the loop; there is never more than one running.
func (c *Client) StartAutoRefresh() {
	c.bg.mu.Lock()
	defer c.bg.mu.Unlock()

	if c.bg.stop != nil {
		close(c.bg.stop)
	}
	c.bg.stop = make(chan struct{})
	c.bg.wake = make(chan struct{}, 1)

	go c.bg.run(c.bg.stop, c.bg.wake)
}

// StopAutoRefresh halts the background refresh loop. Safe to call when
// the loop is not running.
func (c *Client) StopAutoRefresh() {
	c.bg.mu.Lock()
	defer c.bg.mu.Unlock()

	if c.bg.stop != nil {
		close(c.bg.stop)
		c.bg.stop = nil
		c.bg.wake = nil
	}
}

// Wake triggers an immediate proactive-refresh check, typically called
// when the application regains the foreground after a long suspend.
func (c *Client) Wake() {
	c.bg.mu.Lock()
	wake := c.bg.wake
	c.bg.mu.Unlock()

	if wake != nil {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (r *autoRefresher) run(stop <-chan struct{}, wake <-chan struct{}) {
	ticker := time.NewTicker(r.c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-wake:
		}
		r.check()
	}
}

func (r *autoRefresher) check() {
	ctx, cancel := context.WithTimeout(context.Background(), r.c.cfg.Timeout)
	defer cancel()

	if err := r.c.ensureFresh(ctx); err != nil {
		r.c.log.Warn("background token refresh failed", slog.String("error", err.Error()))
	}
}
