// Package vm provides the models for address translations: page-table
// entries, the two-level page table, processes and frame allocation.
package vm

import (
	"log"
)

// NumPTEsPerPage is the number of entries held by an inner directory.
const NumPTEsPerPage = 16

// NumOuterPTEs is the number of directory slots in the outer table.
const NumOuterPTEs = 16

// NumVPNs is the number of virtual pages a process can address.
const NumVPNs = NumOuterPTEs * NumPTEsPerPage

// VPN stands for Virtual Page Number.
type VPN uint32

// PFN stands for Page Frame Number. It is opaque beyond equality.
type PFN uint32

// PID stands for Process ID.
type PID uint32

// AccessType tells whether a memory access reads or writes.
type AccessType int

// Enumeration of access types.
const (
	Read AccessType = iota
	Write
)

func (a AccessType) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// A PTE is an entry in the page table. PFN is only meaningful when Valid is
// set. A valid PTE that is not Writable marks a copy-on-write page; every
// page is writable from the process's point of view.
type PTE struct {
	Valid    bool
	Writable bool
	PFN      PFN
}

// A Directory is the inner level of the page table.
type Directory struct {
	PTEs [NumPTEsPerPage]PTE
}

// Entry returns the PTE at the given inner index.
func (d *Directory) Entry(inner int) *PTE {
	return &d.PTEs[inner]
}

// A Mapping is a valid translation held by a page table.
type Mapping struct {
	VPN      VPN  `json:"vpn"`
	PFN      PFN  `json:"pfn"`
	Writable bool `json:"writable"`
}

// A PageTable is the two-level translation structure of a process. Each
// outer slot either owns a directory or is absent. Directories are
// allocated on first need and never freed.
type PageTable struct {
	outer [NumOuterPTEs]*Directory
}

// NewPageTable creates a PageTable with every outer slot absent.
func NewPageTable() *PageTable {
	return &PageTable{}
}

// Decompose splits a VPN into its outer and inner indices. VPNs out of the
// addressable range are a caller error.
func Decompose(vpn VPN) (outer, inner int) {
	if vpn >= NumVPNs {
		log.Panicf("vpn %d out of range [0, %d)", vpn, NumVPNs)
	}

	return int(vpn / NumPTEsPerPage), int(vpn % NumPTEsPerPage)
}

// Compose is the inverse of Decompose.
func Compose(outer, inner int) VPN {
	return VPN(outer*NumPTEsPerPage + inner)
}

// Directory returns the directory owned by the outer slot. The bool return
// value indicates if the slot is present.
func (pt *PageTable) Directory(outer int) (*Directory, bool) {
	dir := pt.outer[outer]
	return dir, dir != nil
}

// EnsureDirectory returns the directory owned by the outer slot, installing
// a zeroed one if the slot is absent. A present directory is never
// replaced.
func (pt *PageTable) EnsureDirectory(outer int) *Directory {
	if pt.outer[outer] == nil {
		pt.outer[outer] = new(Directory)
	}

	return pt.outer[outer]
}

// Lookup returns a copy of the PTE that covers the VPN. The bool return
// value is false if the directory covering the VPN is absent.
func (pt *PageTable) Lookup(vpn VPN) (PTE, bool) {
	outer, inner := Decompose(vpn)

	dir, found := pt.Directory(outer)
	if !found {
		return PTE{}, false
	}

	return *dir.Entry(inner), true
}

// NumDirectories returns how many outer slots are present.
func (pt *PageTable) NumDirectories() int {
	n := 0
	for _, dir := range pt.outer {
		if dir != nil {
			n++
		}
	}

	return n
}

// Mappings lists the valid entries in VPN order.
func (pt *PageTable) Mappings() []Mapping {
	var mappings []Mapping

	for i, dir := range pt.outer {
		if dir == nil {
			continue
		}

		for j, pte := range dir.PTEs {
			if !pte.Valid {
				continue
			}

			mappings = append(mappings, Mapping{
				VPN:      Compose(i, j),
				PFN:      pte.PFN,
				Writable: pte.Writable,
			})
		}
	}

	return mappings
}
