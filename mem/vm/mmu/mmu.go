// Package mmu translates virtual pages of the current process and resolves
// the page faults raised when a translation fails.
package mmu

import (
	"fmt"

	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/sim"
)

// A ProcessTeller tells which process is currently running.
type ProcessTeller interface {
	CurrentProcess() *vm.Process
}

// HookPosPageFault marks that a page fault has been handled.
var HookPosPageFault = &sim.HookPos{Name: "PageFault"}

// FaultKind tells how a page fault was resolved.
type FaultKind int

// Enumeration of fault kinds.
const (
	// FaultFirstTouch maps a fresh frame to a never-mapped page.
	FaultFirstTouch FaultKind = iota
	// FaultCopyOnWrite gives the writer a private frame.
	FaultCopyOnWrite
	// FaultSpurious changes nothing; the page was already accessible.
	FaultSpurious
)

func (k FaultKind) String() string {
	switch k {
	case FaultFirstTouch:
		return "first-touch"
	case FaultCopyOnWrite:
		return "copy-on-write"
	case FaultSpurious:
		return "spurious"
	default:
		return "unknown"
	}
}

// A FaultEvent describes a handled page fault.
type FaultEvent struct {
	PID    vm.PID
	VPN    vm.VPN
	Access vm.AccessType
	Kind   FaultKind
	OldPFN vm.PFN
	NewPFN vm.PFN
}

// Comp is the default mmu implementation.
type Comp struct {
	*sim.HookableBase

	name           string
	processTeller  ProcessTeller
	frameAllocator vm.FrameAllocator
}

// Name returns the name of the MMU.
func (c *Comp) Name() string {
	return c.name
}

// Translate walks the page table of the current process. The bool return
// value is false if the page is not mapped, or if the access is a write to
// a copy-on-write page. The page table is never modified.
func (c *Comp) Translate(access vm.AccessType, vpn vm.VPN) (vm.PFN, bool) {
	pt := c.processTeller.CurrentProcess().PageTable

	pte, found := pt.Lookup(vpn)
	if !found || !pte.Valid {
		return 0, false
	}

	if access == vm.Write && !pte.Writable {
		return 0, false
	}

	return pte.PFN, true
}

// HandleFault fixes the page table of the current process after a failed
// translation of the same access. An error is only returned if a frame
// cannot be allocated, in which case the PTE is left as it was.
func (c *Comp) HandleFault(access vm.AccessType, vpn vm.VPN) error {
	process := c.processTeller.CurrentProcess()
	outer, inner := vm.Decompose(vpn)

	dir := process.PageTable.EnsureDirectory(outer)
	pte := dir.Entry(inner)

	event := FaultEvent{
		PID:    process.PID,
		VPN:    vpn,
		Access: access,
		OldPFN: pte.PFN,
	}

	switch {
	case !pte.Valid:
		pfn, err := c.allocateFrame(process, vpn)
		if err != nil {
			return err
		}

		pte.Valid = true
		pte.Writable = true
		pte.PFN = pfn
		event.Kind = FaultFirstTouch
	case access == vm.Write && !pte.Writable:
		pfn, err := c.allocateFrame(process, vpn)
		if err != nil {
			return err
		}

		pte.Writable = true
		pte.PFN = pfn
		event.Kind = FaultCopyOnWrite
	default:
		event.Kind = FaultSpurious
	}

	event.NewPFN = pte.PFN
	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosPageFault,
		Item:   event,
	})

	return nil
}

func (c *Comp) allocateFrame(process *vm.Process, vpn vm.VPN) (vm.PFN, error) {
	pfn, err := c.frameAllocator.AllocateFrame()
	if err != nil {
		return 0, fmt.Errorf("%s: pid %d, vpn %d: %w",
			c.name, process.PID, vpn, err)
	}

	return pfn, nil
}
