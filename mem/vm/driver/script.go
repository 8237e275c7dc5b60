package driver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/cowvm/mem/vm"
)

// ErrBadCommand is returned for script lines that cannot be parsed.
var ErrBadCommand = errors.New("bad command")

// CommandKind is the verb of a script command.
type CommandKind int

// Enumeration of script commands.
const (
	CmdRead CommandKind = iota
	CmdWrite
	CmdSwitch
	CmdShow
	CmdPages
	CmdExit
)

var commandNames = map[string]CommandKind{
	"r":      CmdRead,
	"read":   CmdRead,
	"w":      CmdWrite,
	"write":  CmdWrite,
	"s":      CmdSwitch,
	"switch": CmdSwitch,
	"show":   CmdShow,
	"pages":  CmdPages,
	"exit":   CmdExit,
	"quit":   CmdExit,
}

// A Command is one parsed script line. Arg holds the VPN of reads and
// writes and the pid of switches, written in decimal.
type Command struct {
	Kind CommandKind
	Arg  uint32
}

func (k CommandKind) takesArg() bool {
	return k == CmdRead || k == CmdWrite || k == CmdSwitch
}

// ParseCommand parses one script line. The bool return value is false for
// blank lines and comments, which start with '#'.
func ParseCommand(line string) (Command, bool, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false, nil
	}

	kind, found := commandNames[strings.ToLower(fields[0])]
	if !found {
		return Command{}, false,
			fmt.Errorf("%w: unknown command %q", ErrBadCommand, fields[0])
	}

	cmd := Command{Kind: kind}

	if !kind.takesArg() {
		if len(fields) != 1 {
			return Command{}, false,
				fmt.Errorf("%w: %s takes no argument", ErrBadCommand, fields[0])
		}

		return cmd, true, nil
	}

	if len(fields) != 2 {
		return Command{}, false,
			fmt.Errorf("%w: %s takes one argument", ErrBadCommand, fields[0])
	}

	arg, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Command{}, false,
			fmt.Errorf("%w: %s: %v", ErrBadCommand, fields[0], err)
	}

	cmd.Arg = uint32(arg)

	return cmd, true, nil
}

// An Interpreter runs scripts against a Driver and reports to a writer.
type Interpreter struct {
	driver *Driver
	out    io.Writer
	onLine func(lineNo int)
}

// NewInterpreter creates an Interpreter.
func NewInterpreter(d *Driver, out io.Writer) *Interpreter {
	return &Interpreter{driver: d, out: out}
}

// OnLine registers a function called after each line has been processed,
// including blank lines and comments.
func (in *Interpreter) OnLine(f func(lineNo int)) *Interpreter {
	in.onLine = f
	return in
}

// Run executes the script line by line until the input ends or an exit
// command is met. The first failing line stops the script.
func (in *Interpreter) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		cmd, ok, err := ParseCommand(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		if !ok {
			in.lineDone(lineNo)
			continue
		}

		exit, err := in.Execute(cmd)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		in.lineDone(lineNo)

		if exit {
			return nil
		}
	}

	return scanner.Err()
}

func (in *Interpreter) lineDone(lineNo int) {
	if in.onLine != nil {
		in.onLine(lineNo)
	}
}

// Execute runs one command. It returns true if the script should stop.
func (in *Interpreter) Execute(cmd Command) (bool, error) {
	switch cmd.Kind {
	case CmdRead, CmdWrite:
		access := vm.Read
		if cmd.Kind == CmdWrite {
			access = vm.Write
		}

		return false, in.access(access, vm.VPN(cmd.Arg))
	case CmdSwitch:
		in.switchTo(vm.PID(cmd.Arg))
	case CmdShow:
		in.show()
	case CmdPages:
		in.pages()
	case CmdExit:
		return true, nil
	}

	return false, nil
}

func (in *Interpreter) access(access vm.AccessType, vpn vm.VPN) error {
	t, err := in.driver.Access(access, vpn)
	if err != nil {
		return err
	}

	fmt.Fprintf(in.out, "[%d] %c %d -> %d\n",
		t.PID, access.String()[0], t.VPN, t.PFN)

	return nil
}

func (in *Interpreter) switchTo(pid vm.PID) {
	event := in.driver.SwitchTo(pid)

	if event.Forked {
		fmt.Fprintf(in.out, "switch %d -> %d (forked)\n", event.From, event.To)
		return
	}

	fmt.Fprintf(in.out, "switch %d -> %d\n", event.From, event.To)
}

func (in *Interpreter) show() {
	s := in.driver.Snapshot()

	for _, p := range s.Processes {
		state := "ready"
		if p.Running {
			state = "running"
		}

		fmt.Fprintf(in.out, "pid %d (%s)\n", p.PID, state)

		for _, m := range p.Mappings {
			perm := "ro"
			if m.Writable {
				perm = "rw"
			}

			fmt.Fprintf(in.out, "  %3d -> %3d %s\n", m.VPN, m.PFN, perm)
		}
	}
}

func (in *Interpreter) pages() {
	s := in.driver.Stats()

	fmt.Fprintf(in.out, "frames %d, faults %d (first-touch %d, "+
		"copy-on-write %d, spurious %d), switches %d, forks %d\n",
		s.FramesAllocated, s.Faults, s.FirstTouchFaults,
		s.CopyOnWriteFaults, s.SpuriousFaults, s.Switches, s.Forks)
}
