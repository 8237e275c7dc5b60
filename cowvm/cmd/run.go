package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/pkg/browser"
	"github.com/sarchlab/cowvm/datarecording"
	"github.com/sarchlab/cowvm/mem/trace"
	"github.com/sarchlab/cowvm/mem/vm"
	"github.com/sarchlab/cowvm/mem/vm/driver"
	"github.com/sarchlab/cowvm/monitoring"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run a script of memory accesses and process switches.",
		Long: "Run reads one command per line from the script, or from " +
			"stdin if no script is given:\n\n" +
			"  r|read VPN     read a page of the running process\n" +
			"  w|write VPN    write a page of the running process\n" +
			"  s|switch PID   switch to a queued process, else fork\n" +
			"  show           list the mappings of every process\n" +
			"  pages          print fault and frame counters\n" +
			"  exit|quit      stop the script\n\n" +
			"VPN and PID are decimal numbers. " +
			"Settings can also be given as COWVM_* environment variables.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")

			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}

			err = cfg.applyFlags(cmd.Flags())
			if err != nil {
				return err
			}

			script, err := readScript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg, script,
				cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	runCmd.Flags().Uint32("initial-pid", 0, "pid of the first process")
	runCmd.Flags().String("trace-db", "",
		"record faults and switches into <trace-db>.sqlite3")
	runCmd.Flags().Bool("log-trace", false,
		"print faults and switches to stderr")
	runCmd.Flags().Bool("monitor", false,
		"serve the monitoring API and wait for interrupt after the script")
	runCmd.Flags().Int("monitor-port", 0,
		"port of the monitoring API, random if below 1000")
	runCmd.Flags().Bool("open-browser", false,
		"open the monitoring API in a browser")

	return runCmd
}

func readScript(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 {
		return io.ReadAll(stdin)
	}

	return os.ReadFile(args[0])
}

func run(
	ctx context.Context,
	cfg config,
	script []byte,
	out, errOut io.Writer,
) error {
	builder := driver.MakeBuilder().WithInitialPID(vm.PID(cfg.InitialPID))

	if cfg.LogTrace {
		builder = builder.WithHook(trace.NewLogTracer(log.New(errOut, "", 0)))
	}

	if cfg.TraceDB != "" {
		recorder := datarecording.New(cfg.TraceDB)
		defer recorder.Close()

		builder = builder.WithHook(trace.NewDBTracer(recorder))
	}

	d := builder.Build()
	interpreter := driver.NewInterpreter(d, out)

	if !cfg.Monitor {
		return interpreter.Run(bytes.NewReader(script))
	}

	monitor := monitoring.NewMonitor(d).WithPortNumber(cfg.MonitorPort)

	url, err := monitor.StartServer()
	if err != nil {
		return err
	}

	if cfg.OpenBrowser {
		err = browser.OpenURL(url + "/api/processes")
		if err != nil {
			fmt.Fprintf(errOut, "Cannot open browser: %v\n", err)
		}
	}

	bar := monitor.CreateProgressBar("script",
		uint64(bytes.Count(script, []byte("\n"))+1))
	interpreter.OnLine(func(int) { bar.IncrementFinished(1) })

	err = interpreter.Run(bytes.NewReader(script))
	monitor.CompleteProgressBar(bar)

	if err != nil {
		return err
	}

	fmt.Fprintf(errOut, "Script done, monitoring %s until interrupted\n", url)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	<-ctx.Done()

	return nil
}
