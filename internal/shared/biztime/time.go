// Package biztime holds the process clock and the business timezone.
// Storage is UTC. The business timezone only anchors the scheduler.
package biztime

import (
	"sync"
	"time"
)

var (
	mu       sync.RWMutex
	location = time.UTC
)

// Init sets the business timezone. An empty name keeps UTC.
func Init(tz string) error {
	if tz == "" {
		return nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return err
	}
	mu.Lock()
	location = loc
	mu.Unlock()
	return nil
}

// Location returns the business timezone.
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return location
}

// NowUTC is the clock every state change is stamped with.
func NowUTC() time.Time {
	return time.Now().UTC()
}
