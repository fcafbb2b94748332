package authflow

import (
	"sync"
	"time"
)

// startCooldown calls tick once per interval, seconds times at most, and
// returns a func that stops it. tick may still run once concurrently with
// stop, so callers must tolerate a late tick.
func startCooldown(seconds int, interval time.Duration, tick func()) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for remaining := seconds; remaining > 0; remaining-- {
			select {
			case <-done:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
