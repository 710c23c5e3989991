package monitoring

import (
	"sync"
	"time"
)

// RequestCounter counts API calls in hourly buckets over the last day.
type RequestCounter struct {
	mu      sync.Mutex
	buckets [24]int64
	hours   [24]int64
	now     func() time.Time
}

// NewRequestCounter creates an empty counter.
func NewRequestCounter() *RequestCounter {
	return &RequestCounter{now: time.Now}
}

// Inc records one call.
func (c *RequestCounter) Inc() {
	h := c.now().Unix() / 3600
	i := h % 24
	c.mu.Lock()
	if c.hours[i] != h {
		c.hours[i] = h
		c.buckets[i] = 0
	}
	c.buckets[i]++
	c.mu.Unlock()
}

// Last24h returns the calls recorded in the current and previous 23 hours.
func (c *RequestCounter) Last24h() int64 {
	h := c.now().Unix() / 3600
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for i := range c.buckets {
		if h-c.hours[i] < 24 {
			n += c.buckets[i]
		}
	}
	return n
}
