package driver

import (
	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/mem/vm/mmu"
	"github.com/sarchlab/cowvm/mem/vm/sched"
	"github.com/sarchlab/cowvm/sim"
)

// A Builder can build a Driver.
type Builder struct {
	initialPID     vm.PID
	frameAllocator vm.FrameAllocator
	hooks          []sim.Hook
}

// MakeBuilder creates a new builder. The initial process has pid 0.
func MakeBuilder() Builder {
	return Builder{}
}

// WithInitialPID sets the pid of the process that runs first.
func (b Builder) WithInitialPID(pid vm.PID) Builder {
	b.initialPID = pid
	return b
}

// WithFrameAllocator sets the allocator that backs page faults.
func (b Builder) WithFrameAllocator(a vm.FrameAllocator) Builder {
	b.frameAllocator = a
	return b
}

// WithHook registers a hook on both the MMU and the process registry.
func (b Builder) WithHook(h sim.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// Build creates the Driver.
func (b Builder) Build() *Driver {
	d := &Driver{}

	d.registry = sched.NewRegistry(b.initialPID)
	d.mmu = mmu.MakeBuilder().
		WithProcessTeller(d.registry).
		WithFrameAllocator(b.frameAllocator).
		Build("MMU")

	counter := sim.HookFunc(d.countEvent)
	d.registry.AcceptHook(counter)
	d.mmu.AcceptHook(counter)

	for _, h := range b.hooks {
		d.registry.AcceptHook(h)
		d.mmu.AcceptHook(h)
	}

	return d
}
