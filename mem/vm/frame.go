package vm

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrFramesExhausted is returned when no more frames can be handed out.
var ErrFramesExhausted = errors.New("physical frames exhausted")

// A FrameAllocator hands out physical frames.
type FrameAllocator interface {
	// AllocateFrame returns a frame that has never been returned before.
	AllocateFrame() (PFN, error)
}

// SequentialFrameAllocator hands out frames 0, 1, 2, ... until the PFN
// space is used up. Frames are never reclaimed.
type SequentialFrameAllocator struct {
	allocated uint64
}

// NewSequentialFrameAllocator creates a SequentialFrameAllocator.
func NewSequentialFrameAllocator() *SequentialFrameAllocator {
	return &SequentialFrameAllocator{}
}

// AllocateFrame returns the next frame.
func (a *SequentialFrameAllocator) AllocateFrame() (PFN, error) {
	n := atomic.AddUint64(&a.allocated, 1)
	if n > math.MaxUint32+1 {
		atomic.AddUint64(&a.allocated, ^uint64(0))
		return 0, ErrFramesExhausted
	}

	return PFN(n - 1), nil
}

// NumAllocated returns how many frames have been handed out.
func (a *SequentialFrameAllocator) NumAllocated() uint64 {
	return atomic.LoadUint64(&a.allocated)
}
