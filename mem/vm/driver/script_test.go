package driver

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseCommand", func() {
	DescribeTable("valid lines",
		func(line string, expected Command) {
			cmd, ok, err := ParseCommand(line)

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(cmd).To(Equal(expected))
		},
		Entry("short read", "r 12", Command{Kind: CmdRead, Arg: 12}),
		Entry("long write", "write 16", Command{Kind: CmdWrite, Arg: 16}),
		Entry("leading zeros", "r 010", Command{Kind: CmdRead, Arg: 10}),
		Entry("switch", "  S 99  ", Command{Kind: CmdSwitch, Arg: 99}),
		Entry("show with comment", "show # dump", Command{Kind: CmdShow}),
		Entry("pages", "pages", Command{Kind: CmdPages}),
		Entry("quit", "quit", Command{Kind: CmdExit}),
	)

	It("should skip blank lines and comments", func() {
		for _, line := range []string{"", "   ", "# r 1"} {
			_, ok, err := ParseCommand(line)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		}
	})

	DescribeTable("bad lines",
		func(line string) {
			_, _, err := ParseCommand(line)
			Expect(err).To(MatchError(ErrBadCommand))
		},
		Entry("unknown verb", "jump 3"),
		Entry("missing argument", "r"),
		Entry("extra argument", "show 1"),
		Entry("not a number", "w x"),
		Entry("hex argument", "w 0x10"),
		Entry("too many arguments", "s 1 2"),
	)
})

var _ = Describe("Interpreter", func() {
	var (
		out *bytes.Buffer
		in  *Interpreter
	)

	BeforeEach(func() {
		out = new(bytes.Buffer)
		in = NewInterpreter(MakeBuilder().WithInitialPID(1).Build(), out)
	})

	It("should run a script", func() {
		script := strings.Join([]string{
			"# fork with a shared page",
			"w 5",
			"s 2",
			"r 5",
			"w 5",
			"s 1",
			"show",
			"pages",
			"exit",
			"r 6",
		}, "\n")

		err := in.Run(strings.NewReader(script))

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(Equal(strings.Join([]string{
			"[1] w 5 -> 0",
			"switch 1 -> 2 (forked)",
			"[2] r 5 -> 0",
			"[2] w 5 -> 1",
			"switch 2 -> 1",
			"pid 1 (running)",
			"    5 ->   0 ro",
			"pid 2 (ready)",
			"    5 ->   1 rw",
			"frames 2, faults 2 (first-touch 1, copy-on-write 1, " +
				"spurious 0), switches 2, forks 1",
			"",
		}, "\n")))
	})

	It("should report the failing line", func() {
		err := in.Run(strings.NewReader("r 1\n\nr 300\nr 2\n"))

		Expect(err).To(MatchError(ErrVPNOutOfRange))
		Expect(err.Error()).To(HavePrefix("line 3:"))
		Expect(out.String()).To(Equal("[1] r 1 -> 0\n"))
	})

	It("should stop on parse errors", func() {
		err := in.Run(strings.NewReader("r 1\nfly\n"))

		Expect(err).To(MatchError(ErrBadCommand))
		Expect(err.Error()).To(HavePrefix("line 2:"))
	})

	It("should report every processed line", func() {
		var lines []int
		in.OnLine(func(lineNo int) { lines = append(lines, lineNo) })

		err := in.Run(strings.NewReader("r 1\n# note\n\nr 2\nexit\nr 3\n"))

		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(Equal([]int{1, 2, 3, 4, 5}))
	})
})
