// Package driver plays the framework around the MMU. It issues the
// translations, calls the fault handler when a translation fails, and
// forwards switch requests, all under one lock.
package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/mem/vm/mmu"
	"github.com/sarchlab/cowvm/mem/vm/sched"
	"github.com/sarchlab/cowvm/sim"
)

var (
	// ErrVPNOutOfRange is returned for VPNs the page table cannot address.
	ErrVPNOutOfRange = errors.New("vpn out of range")

	// ErrTranslationFailed is returned when a translation still fails after
	// its page fault has been handled.
	ErrTranslationFailed = errors.New("translation failed after page fault")
)

// Stats counts what the driver has done.
type Stats struct {
	Accesses          uint64 `json:"accesses"`
	Faults            uint64 `json:"faults"`
	FirstTouchFaults  uint64 `json:"first_touch_faults"`
	CopyOnWriteFaults uint64 `json:"copy_on_write_faults"`
	SpuriousFaults    uint64 `json:"spurious_faults"`
	Switches          uint64 `json:"switches"`
	Forks             uint64 `json:"forks"`
	FramesAllocated   uint64 `json:"frames_allocated"`
}

// ProcessSnapshot is a copy of what a process maps.
type ProcessSnapshot struct {
	PID         vm.PID       `json:"pid"`
	Running     bool         `json:"running"`
	Directories int          `json:"directories"`
	Mappings    []vm.Mapping `json:"mappings"`
}

// Snapshot is a copy of the whole memory system state.
type Snapshot struct {
	Current    vm.PID            `json:"current"`
	ReadyQueue []vm.PID          `json:"ready_queue"`
	Processes  []ProcessSnapshot `json:"processes"`
	Stats      Stats             `json:"stats"`
}

// Driver owns a process registry and the MMU that works on its running
// process. It is safe for concurrent use.
type Driver struct {
	sync.Mutex

	registry *sched.Registry
	mmu      *mmu.Comp
	stats    Stats
}

// A Translation tells which frame backs a page of a process.
type Translation struct {
	PID vm.PID `json:"pid"`
	VPN vm.VPN `json:"vpn"`
	PFN vm.PFN `json:"pfn"`
}

// Access reads or writes a page of the running process and returns the frame
// that backs it, together with the pid the access ran under. A failed
// translation is followed by the fault handler and one more translation.
func (d *Driver) Access(access vm.AccessType, vpn vm.VPN) (Translation, error) {
	if vpn >= vm.NumVPNs {
		return Translation{}, fmt.Errorf("%w: %d", ErrVPNOutOfRange, vpn)
	}

	d.Lock()
	defer d.Unlock()

	d.stats.Accesses++

	t := Translation{
		PID: d.registry.CurrentProcess().PID,
		VPN: vpn,
	}

	pfn, ok := d.mmu.Translate(access, vpn)
	if ok {
		t.PFN = pfn
		return t, nil
	}

	err := d.mmu.HandleFault(access, vpn)
	if err != nil {
		return Translation{}, err
	}

	pfn, ok = d.mmu.Translate(access, vpn)
	if !ok {
		return Translation{}, fmt.Errorf("%w: %s vpn %d",
			ErrTranslationFailed, access, vpn)
	}

	t.PFN = pfn

	return t, nil
}

// Read is Access with vm.Read.
func (d *Driver) Read(vpn vm.VPN) (vm.PFN, error) {
	t, err := d.Access(vm.Read, vpn)
	return t.PFN, err
}

// Write is Access with vm.Write.
func (d *Driver) Write(vpn vm.VPN) (vm.PFN, error) {
	t, err := d.Access(vm.Write, vpn)
	return t.PFN, err
}

// SwitchTo runs the queued process with the given pid, forking the running
// process if no queued process has it.
func (d *Driver) SwitchTo(pid vm.PID) sched.SwitchEvent {
	d.Lock()
	defer d.Unlock()

	return d.registry.SwitchTo(pid)
}

// CurrentPID returns the pid of the running process.
func (d *Driver) CurrentPID() vm.PID {
	d.Lock()
	defer d.Unlock()

	return d.registry.CurrentProcess().PID
}

// Stats returns a copy of the counters.
func (d *Driver) Stats() Stats {
	d.Lock()
	defer d.Unlock()

	return d.stats
}

// Snapshot copies the state of every process.
func (d *Driver) Snapshot() Snapshot {
	d.Lock()
	defer d.Unlock()

	current := d.registry.CurrentProcess()
	s := Snapshot{
		Current:    current.PID,
		ReadyQueue: d.registry.ReadyQueue(),
		Stats:      d.stats,
	}

	for _, p := range d.registry.Processes() {
		s.Processes = append(s.Processes, snapshotProcess(p, p == current))
	}

	return s
}

// ProcessSnapshot copies the state of one process. The bool return value
// indicates if the process exists.
func (d *Driver) ProcessSnapshot(pid vm.PID) (ProcessSnapshot, bool) {
	d.Lock()
	defer d.Unlock()

	p, found := d.registry.FindProcess(pid)
	if !found {
		return ProcessSnapshot{}, false
	}

	return snapshotProcess(p, p == d.registry.CurrentProcess()), true
}

func snapshotProcess(p *vm.Process, running bool) ProcessSnapshot {
	return ProcessSnapshot{
		PID:         p.PID,
		Running:     running,
		Directories: p.PageTable.NumDirectories(),
		Mappings:    p.PageTable.Mappings(),
	}
}

// countEvent updates the counters from fault and switch events. It runs
// while the driver holds its lock.
func (d *Driver) countEvent(ctx sim.HookCtx) {
	switch item := ctx.Item.(type) {
	case mmu.FaultEvent:
		d.stats.Faults++

		switch item.Kind {
		case mmu.FaultFirstTouch:
			d.stats.FirstTouchFaults++
			d.stats.FramesAllocated++
		case mmu.FaultCopyOnWrite:
			d.stats.CopyOnWriteFaults++
			d.stats.FramesAllocated++
		case mmu.FaultSpurious:
			d.stats.SpuriousFaults++
		}
	case sched.SwitchEvent:
		d.stats.Switches++

		if item.Forked {
			d.stats.Forks++
		}
	}
}
