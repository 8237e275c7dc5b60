package vm

// A Process is a simulated process. It only carries what the memory system
// needs.
type Process struct {
	PID       PID
	PageTable *PageTable
}

// NewProcess creates a process with an empty page table.
func NewProcess(pid PID) *Process {
	return &Process{
		PID:       pid,
		PageTable: NewPageTable(),
	}
}
