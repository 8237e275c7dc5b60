package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// config collects the settings of a run. Values come from the environment,
// optionally filled from an env file, and are overridden by flags.
type config struct {
	InitialPID  uint32
	TraceDB     string
	LogTrace    bool
	Monitor     bool
	MonitorPort int
	OpenBrowser bool
}

const (
	envInitialPID  = "COWVM_INITIAL_PID"
	envTraceDB     = "COWVM_TRACE_DB"
	envLogTrace    = "COWVM_LOG_TRACE"
	envMonitor     = "COWVM_MONITOR"
	envMonitorPort = "COWVM_MONITOR_PORT"
	envOpenBrowser = "COWVM_OPEN_BROWSER"
)

// loadConfig reads the COWVM_* variables. Variables in envFile are added to
// the environment first, without overriding variables already set. A
// missing envFile is not an error.
func loadConfig(envFile string) (config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	c := config{}

	pid, err := envUint(envInitialPID)
	if err != nil {
		return config{}, err
	}
	c.InitialPID = uint32(pid)

	c.TraceDB = os.Getenv(envTraceDB)

	if c.LogTrace, err = envBool(envLogTrace); err != nil {
		return config{}, err
	}

	if c.Monitor, err = envBool(envMonitor); err != nil {
		return config{}, err
	}

	port, err := envUint(envMonitorPort)
	if err != nil {
		return config{}, err
	}
	c.MonitorPort = int(port)

	if c.OpenBrowser, err = envBool(envOpenBrowser); err != nil {
		return config{}, err
	}

	return c, nil
}

func envUint(name string) (uint64, error) {
	v, found := os.LookupEnv(name)
	if !found || v == "" {
		return 0, nil
	}

	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}

	return n, nil
}

func envBool(name string) (bool, error) {
	v, found := os.LookupEnv(name)
	if !found || v == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}

	return b, nil
}

// applyFlags overrides the config with the flags the user has set.
func (c *config) applyFlags(flags *pflag.FlagSet) error {
	var err error

	if flags.Changed("initial-pid") {
		c.InitialPID, err = flags.GetUint32("initial-pid")
		if err != nil {
			return err
		}
	}

	if flags.Changed("trace-db") {
		c.TraceDB, err = flags.GetString("trace-db")
		if err != nil {
			return err
		}
	}

	if flags.Changed("log-trace") {
		c.LogTrace, err = flags.GetBool("log-trace")
		if err != nil {
			return err
		}
	}

	if flags.Changed("monitor") {
		c.Monitor, err = flags.GetBool("monitor")
		if err != nil {
			return err
		}
	}

	if flags.Changed("monitor-port") {
		c.MonitorPort, err = flags.GetInt("monitor-port")
		if err != nil {
			return err
		}
	}

	if flags.Changed("open-browser") {
		c.OpenBrowser, err = flags.GetBool("open-browser")
		if err != nil {
			return err
		}
	}

	return nil
}
