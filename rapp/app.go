// Package rapp holds the process-wide state every rcom binary shares:
// parsed CLI flags, a quit flag, the bound IP address, and graceful signal
// handling, matching the original app.c's init/cleanup sequence.
package rapp

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/romi/rcom/rlog"
	"github.com/spf13/pflag"
)

// Config is the parsed set of process-wide flags (see ParseFlags).
type Config struct {
	Name          string
	RegistryAddr  string
	Port          int
	IP            string
	LogDir        string
	Session       string
	ConfigFile    string
	PrintOnly     bool
	LogLevel      string
	Pretty        bool
}

var quit atomic.Bool

// Quit reports whether the process has been asked to shut down.
func Quit() bool {
	return quit.Load()
}

// DefaultRegistryPort is the well-known port the registry listens on when
// no -P flag is given, matching the default every proxy dials via -A.
const DefaultRegistryPort = 10101

// ParseFlags parses the process's command-line flags into a Config:
// -N/--name, -A/--registry, -P/--port, -I/--ip, -L/--logdir, -s/--session,
// -C/--config, -D/--dry-run, -R/--log-level and -p/--pretty. There is no
// -a flag, and no dump, replay or stand-alone mode.
// defaultPort is used for -P when it is not given explicitly.
func ParseFlags(name string, defaultPort int, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cfg := &Config{Name: name}

	fs.StringVarP(&cfg.Name, "name", "N", name, "node name")
	fs.StringVarP(&cfg.RegistryAddr, "registry", "A", "127.0.0.1:10101", "registry address")
	fs.IntVarP(&cfg.Port, "port", "P", defaultPort, "listen port (0 picks a free port)")
	fs.StringVarP(&cfg.IP, "ip", "I", "", "bind IP (autodetected if empty)")
	fs.StringVarP(&cfg.LogDir, "logdir", "L", "", "log directory")
	fs.StringVarP(&cfg.Session, "session", "s", "", "session name")
	fs.StringVarP(&cfg.ConfigFile, "config", "C", "", "config file path")
	fs.BoolVarP(&cfg.PrintOnly, "dry-run", "D", false, "print config and exit")
	fs.StringVarP(&cfg.LogLevel, "log-level", "R", "info", "log level")
	fs.BoolVarP(&cfg.Pretty, "pretty", "p", false, "pretty-print logs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.IP == "" {
		ip, err := detectIP()
		if err != nil {
			return nil, fmt.Errorf("rapp: detecting bind IP: %w", err)
		}
		cfg.IP = ip
	}

	return cfg, nil
}

func detectIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Init sets up logging from cfg and installs graceful signal handling.
// Logs go to <LogDir>/<Name>.log when a log directory is given, and to
// stderr otherwise or when that file cannot be opened.
// The returned function should be deferred by main to run cleanup exactly
// once, mirroring rcom_cleanup's ordering.
func Init(cfg *Config) func() {
	var w io.Writer
	var logErr error
	if cfg.LogDir != "" {
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, cfg.Name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logErr = err
		} else {
			w = f
		}
	}
	rlog.Init(cfg.LogLevel, cfg.Pretty, w)
	if logErr != nil {
		rlog.L.Error().Err(logErr).Msg("cannot open log file, logging to stderr")
	}
	stop := installSignalHandlers()
	return stop
}

// installSignalHandlers arranges for SIGINT/SIGHUP/SIGTERM to set the quit
// flag that Quit and WaitForQuit read, so main can return and run its
// deferred cleanup. Accept loops and the proxy's registry retries do not
// check the flag; they stop when their owner closes them. A fourth signal
// forces an immediate exit, matching the original's
// "patience runs out" escape hatch — Go's signal.Notify channel buffers
// signals, so counting them is enough; there is no SIGSEGV/SIGFPE handler
// here, since Go's runtime already turns those into panics that recover()
// can observe, and there's no C-style backtrace to reproduce.
func installSignalHandlers() func() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		count := 0
		for {
			select {
			case <-sigCh:
				count++
				quit.Store(true)
				rlog.L.Info().Int("count", count).Msg("shutdown signal received")
				if count >= 4 {
					rlog.L.Error().Msg("forcing immediate exit after repeated signals")
					os.Exit(1)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}

// WaitForQuit blocks until Quit() is true, polling at the same one-second
// granularity the rest of the system uses.
func WaitForQuit() {
	for !Quit() {
		time.Sleep(1 * time.Second)
	}
}
