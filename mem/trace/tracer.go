// Package trace provides hooks that trace page faults and process switches.
package trace

import (
	"log"

	"github.com/rs/xid"
	"github.com/sarchlab/cowvm/datarecording"
	"github.com/sarchlab/cowvm/mem/vm/mmu"
	"github.com/sarchlab/cowvm/mem/vm/sched"
	"github.com/sarchlab/cowvm/sim"
)

// pageFaultEntry represents a handled page fault in the database
type pageFaultEntry struct {
	ID     string
	Seq    uint64
	PID    uint32
	VPN    uint32
	Access string
	Kind   string
	OldPFN uint32
	NewPFN uint32
}

// processSwitchEntry represents a process switch in the database
type processSwitchEntry struct {
	ID          string
	Seq         uint64
	FromPID     uint32
	ToPID       uint32
	Forked      bool
	SharedPages int
}

// A logTracer is a hook that prints page faults and switches.
type logTracer struct {
	sim.LogHookBase
}

// NewLogTracer creates a hook that prints one line per event.
func NewLogTracer(logger *log.Logger) sim.Hook {
	t := &logTracer{}
	t.Logger = logger

	return t
}

func (t *logTracer) Func(ctx sim.HookCtx) {
	switch item := ctx.Item.(type) {
	case mmu.FaultEvent:
		t.Printf("fault, %d, %s, %d, %s, %d, %d\n",
			item.PID, item.Access, item.VPN, item.Kind,
			item.OldPFN, item.NewPFN)
	case sched.SwitchEvent:
		t.Printf("switch, %d, %d, %t, %d\n",
			item.From, item.To, item.Forked, item.SharedPages)
	}
}

// A dbTracer is a hook that records page faults and switches into a
// database using the data recorder.
type dbTracer struct {
	dataRecorder datarecording.DataRecorder
	seq          uint64
}

// NewDBTracer creates a hook that records events through the data recorder.
func NewDBTracer(dataRecorder datarecording.DataRecorder) sim.Hook {
	t := &dbTracer{
		dataRecorder: dataRecorder,
	}

	t.dataRecorder.CreateTable("page_faults", pageFaultEntry{})
	t.dataRecorder.CreateTable("process_switches", processSwitchEntry{})

	return t
}

func (t *dbTracer) Func(ctx sim.HookCtx) {
	switch item := ctx.Item.(type) {
	case mmu.FaultEvent:
		t.seq++
		t.dataRecorder.InsertData("page_faults", pageFaultEntry{
			ID:     xid.New().String(),
			Seq:    t.seq,
			PID:    uint32(item.PID),
			VPN:    uint32(item.VPN),
			Access: item.Access.String(),
			Kind:   item.Kind.String(),
			OldPFN: uint32(item.OldPFN),
			NewPFN: uint32(item.NewPFN),
		})
	case sched.SwitchEvent:
		t.seq++
		t.dataRecorder.InsertData("process_switches", processSwitchEntry{
			ID:          xid.New().String(),
			Seq:         t.seq,
			FromPID:     uint32(item.From),
			ToPID:       uint32(item.To),
			Forked:      item.Forked,
			SharedPages: item.SharedPages,
		})
	}
}
