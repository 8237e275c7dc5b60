package mmu

import (
	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/sim"
)

// A Builder can build MMU component
type Builder struct {
	processTeller  ProcessTeller
	frameAllocator vm.FrameAllocator
	hooks          []sim.Hook
}

// MakeBuilder creates a new builder
func MakeBuilder() Builder {
	return Builder{}
}

// WithProcessTeller sets where the MMU finds the running process.
func (b Builder) WithProcessTeller(t ProcessTeller) Builder {
	b.processTeller = t
	return b
}

// WithFrameAllocator sets the allocator that backs page faults. A
// SequentialFrameAllocator is used if none is given.
func (b Builder) WithFrameAllocator(a vm.FrameAllocator) Builder {
	b.frameAllocator = a
	return b
}

// WithHook registers a hook on the built MMU.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// Build returns a newly created MMU component
func (b Builder) Build(name string) *Comp {
	if b.processTeller == nil {
		panic("mmu: process teller is not set")
	}

	c := &Comp{
		HookableBase:   sim.NewHookableBase(),
		name:           name,
		processTeller:  b.processTeller,
		frameAllocator: b.frameAllocator,
	}

	if c.frameAllocator == nil {
		c.frameAllocator = vm.NewSequentialFrameAllocator()
	}

	for _, h := range b.hooks {
		c.AcceptHook(h)
	}

	return c
}
