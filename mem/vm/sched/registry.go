// Package sched keeps the set of live processes and switches between them,
// forking the running process when switching to a pid nobody owns yet.
package sched

import (
	"container/list"

	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/sim"
)

// HookPosSwitch marks that the running process has changed.
var HookPosSwitch = &sim.HookPos{Name: "Switch"}

// A SwitchEvent describes a completed switch.
type SwitchEvent struct {
	From   vm.PID
	To     vm.PID
	Forked bool

	// SharedPages is the number of pages the child shares with its parent
	// after a fork.
	SharedPages int
}

// A Registry owns the running process and the FIFO ready queue holding
// every other process. It is not safe for concurrent use; callers that
// share a Registry must lock around it together with the MMU that reads
// its current process.
type Registry struct {
	*sim.HookableBase

	current *vm.Process
	ready   *list.List
}

// NewRegistry creates a Registry whose running process has the given pid
// and an empty page table.
func NewRegistry(initial vm.PID) *Registry {
	return &Registry{
		HookableBase: sim.NewHookableBase(),
		current:      vm.NewProcess(initial),
		ready:        list.New(),
	}
}

// CurrentProcess returns the running process.
func (r *Registry) CurrentProcess() *vm.Process {
	return r.current
}

// ReadyQueue returns the pids of the waiting processes, head first.
func (r *Registry) ReadyQueue() []vm.PID {
	pids := make([]vm.PID, 0, r.ready.Len())
	for e := r.ready.Front(); e != nil; e = e.Next() {
		pids = append(pids, e.Value.(*vm.Process).PID)
	}

	return pids
}

// Processes returns the running process followed by the ready queue.
func (r *Registry) Processes() []*vm.Process {
	processes := make([]*vm.Process, 0, r.ready.Len()+1)
	processes = append(processes, r.current)

	for e := r.ready.Front(); e != nil; e = e.Next() {
		processes = append(processes, e.Value.(*vm.Process))
	}

	return processes
}

// FindProcess looks a process up among the running one and the ready
// queue.
func (r *Registry) FindProcess(pid vm.PID) (*vm.Process, bool) {
	if r.current.PID == pid {
		return r.current, true
	}

	elem := r.findReady(pid)
	if elem == nil {
		return nil, false
	}

	return elem.Value.(*vm.Process), true
}

// SwitchTo makes the process with the given pid the running one. The
// previous running process goes to the tail of the ready queue. If no
// queued process has the pid, the running process is forked with
// copy-on-write page sharing and the child runs. The running process is
// not searched, so switching to its own pid forks it.
func (r *Registry) SwitchTo(pid vm.PID) SwitchEvent {
	prev := r.current
	event := SwitchEvent{From: prev.PID, To: pid}

	if elem := r.findReady(pid); elem != nil {
		r.ready.Remove(elem)
		r.current = elem.Value.(*vm.Process)
	} else {
		child, shared := fork(prev, pid)
		r.current = child
		event.Forked = true
		event.SharedPages = shared
	}

	r.ready.PushBack(prev)

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Pos:    HookPosSwitch,
		Item:   event,
	})

	return event
}

func (r *Registry) findReady(pid vm.PID) *list.Element {
	for e := r.ready.Front(); e != nil; e = e.Next() {
		if e.Value.(*vm.Process).PID == pid {
			return e
		}
	}

	return nil
}

// fork creates a child whose page table maps every page the parent maps,
// to the same frame. Both sides lose write permission so that the first
// write from either side takes a private copy.
func fork(parent *vm.Process, pid vm.PID) (*vm.Process, int) {
	child := vm.NewProcess(pid)
	shared := 0

	for i := 0; i < vm.NumOuterPTEs; i++ {
		parentDir, found := parent.PageTable.Directory(i)
		if !found {
			continue
		}

		childDir := child.PageTable.EnsureDirectory(i)

		for j := 0; j < vm.NumPTEsPerPage; j++ {
			parentPTE := parentDir.Entry(j)
			if !parentPTE.Valid {
				continue
			}

			parentPTE.Writable = false
			*childDir.Entry(j) = vm.PTE{
				Valid: true,
				PFN:   parentPTE.PFN,
			}
			shared++
		}
	}

	return child, shared
}
