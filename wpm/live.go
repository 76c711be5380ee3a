package wpm

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidValue is returned for live readings outside 0..255.
var ErrInvalidValue = errors.New("live wpm must be between 0 and 255")

// LiveMetric is the most recent typing speed reported by the overlay. It is
// written by one producer and read by any number of handlers without locking.
type LiveMetric struct {
	value atomic.Uint32
}

// NewLiveMetric returns a metric reading zero.
func NewLiveMetric() *LiveMetric {
	return &LiveMetric{}
}

// Set stores v. Values outside the byte range are rejected, not clamped.
func (m *LiveMetric) Set(v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%w: got %d", ErrInvalidValue, v)
	}
	m.value.Store(uint32(v))
	return nil
}

// Get returns the last stored value.
func (m *LiveMetric) Get() uint8 {
	return uint8(m.value.Load())
}
