package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/neodata/fetchd/fetch"
	"github.com/neodata/fetchd/fetch/load"
	"github.com/neodata/fetchd/fetch/report"
)

// A worker is this same binary re-executed with these variables set.
// Running each rule in its own process keeps a crashing or leaking
// adapter from taking the scheduler down with it.
const (
	envWorker    = "FETCHD_WORKER"
	envConfig    = "FETCHD_CONFIG"
	envRule      = "FETCHD_RULE"
	envScheduled = "FETCHD_SCHEDULED"
	envLog       = "FETCHD_LOG"
	envLock      = "FETCHD_LOCK"
)

// A Handle tracks one spawned worker process.
type Handle struct {
	Name          string
	PID           int
	LogFile       string
	LockFile      string
	ScheduledTime time.Time
	Rule          *load.Rule
	ExitCode      int

	cmd *exec.Cmd
}

// Spawn starts a worker for one firing of a rule. The worker re-reads
// the config by path, so a reload in the supervisor never hands a
// half-updated rule to a child.
func Spawn(configPath string, rule *load.Rule, scheduled time.Time, logDir, lockDir string) (*Handle, error) {
	id := rule.SanitizedName()
	hhmm := scheduled.Local().Format("1504")

	h := &Handle{
		Name:          fmt.Sprintf("fetch-%s-%s", hhmm, id),
		LogFile:       filepath.Join(logDir, fmt.Sprintf("%s-%s.log", hhmm, id)),
		LockFile:      filepath.Join(lockDir, id+".lck"),
		ScheduledTime: scheduled,
		Rule:          rule,
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locating own executable")
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		envWorker+"=1",
		envConfig+"="+configPath,
		envRule+"="+rule.Name,
		envScheduled+"="+strconv.FormatInt(scheduled.Unix(), 10),
		envLog+"="+h.LogFile,
		envLock+"="+h.LockFile,
	)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting worker for %q", rule.Name)
	}
	h.cmd = cmd
	h.PID = cmd.Process.Pid
	return h, nil
}

// Wait blocks until the worker exits and returns its exit code. A
// worker killed by a signal reports the negated signal number.
func (h *Handle) Wait() int {
	err := h.cmd.Wait()
	h.ExitCode = exitStatus(err)
	return h.ExitCode
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

// IsWorker reports whether this process was spawned as a worker.
func IsWorker() bool {
	return os.Getenv(envWorker) != ""
}

// WorkerMain runs one firing of one rule and returns the process exit
// code: 0 for success or a held lock, 1 for a remote failure, 2 for
// everything else.
func WorkerMain() int {
	signal.Reset()

	configPath := os.Getenv(envConfig)
	ruleName := os.Getenv(envRule)
	logFile := os.Getenv(envLog)
	lockFile := os.Getenv(envLock)
	scheduledSecs, err := strconv.ParseInt(os.Getenv(envScheduled), 10, 64)
	if err != nil {
		logrus.Errorf("Bad scheduled time %q", os.Getenv(envScheduled))
		return 2
	}
	scheduled := time.Unix(scheduledSecs, 0)

	if err := redirectOutput(logFile); err != nil {
		logrus.WithError(err).Errorf("Could not redirect to log %q", logFile)
		return 2
	}

	held, err := attemptLock(lockFile)
	if err != nil {
		logrus.WithError(err).Errorf("Could not open lock %q", lockFile)
		return 2
	}
	if !held {
		logrus.Debugf("Lock is activated. Skipping run. %q", ruleName)
		return 0
	}

	cfg, err := load.Load(configPath)
	if err != nil {
		logrus.WithError(err).Error("Could not load config")
		return 2
	}
	applyLogging(cfg)

	rule := cfg.Rule(ruleName)
	if rule == nil {
		logrus.Errorf("No rule %q in config", ruleName)
		return 2
	}

	name := fmt.Sprintf("fetch-%s-%s", scheduled.Local().Format("1504"), rule.SanitizedName())
	setProcTitle(name)

	var listeners []report.FailureListener
	if len(cfg.NotifyAddresses) > 0 {
		listeners = append(listeners, report.NewEmailer(cfg.NotifyAddresses))
	}
	reporter := report.New(rule.SanitizedName(), report.NewBus(cfg.Messaging), listeners...)

	logrus.Debugf("Triggering %s", name)
	err = rule.Source.Trigger(context.Background(), &wrapHandler{
		rule:      rule,
		scheduled: scheduled,
		next:      reporter,
	})
	if err != nil {
		var remote *fetch.RemoteFetchError
		if errors.As(err, &remote) {
			printRemoteFailure(os.Stderr, remote)
			return 1
		}
		logrus.WithError(err).Error("Run failed")
		return 2
	}
	logrus.Debug("Module completed.")
	return 0
}

// printRemoteFailure writes the summary and detail of a fatal remote
// failure to the worker's error stream.
func printRemoteFailure(w io.Writer, remote *fetch.RemoteFetchError) {
	fmt.Fprintln(w, strings.Repeat("-", 10))
	fmt.Fprintln(w, remote.Summary)
	fmt.Fprintln(w, strings.Repeat("-", 10))
	fmt.Fprintln(w, remote.Detailed)
}

// redirectOutput points stdout, stderr and the logger at the worker's
// own log file.
func redirectOutput(logFile string) error {
	f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	fd := int(f.Fd())
	if err := unix.Dup3(fd, 1, 0); err != nil {
		return err
	}
	if err := unix.Dup3(fd, 2, 0); err != nil {
		return err
	}
	logrus.SetOutput(os.Stderr)
	return nil
}

// attemptLock takes an exclusive advisory lock on lockFile, creating it
// world-writable under a zeroed umask so any operator account can run
// the rule. The descriptor is deliberately left open: the lock must
// live as long as the process.
func attemptLock(lockFile string) (bool, error) {
	old := unix.Umask(0)
	fd, err := unix.Open(lockFile, unix.O_WRONLY|unix.O_CREAT, 0222)
	unix.Umask(old)
	if err != nil {
		return false, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// wrapHandler runs the rule's post-processor on each completed file,
// then tags the metadata with the firing that produced it.
type wrapHandler struct {
	rule      *load.Rule
	scheduled time.Time
	next      fetch.ResultHandler
}

func (w *wrapHandler) FileError(uri, summary, body string) {
	w.next.FileError(uri, summary, body)
}

func (w *wrapHandler) FileComplete(sourceURI, path string, metadata map[string]string) error {
	path, err := w.process(path)
	if err != nil {
		return err
	}
	return w.next.FileComplete(sourceURI, path, w.tag(metadata))
}

func (w *wrapHandler) FilesComplete(sourceURI string, paths []string, metadata map[string]string) error {
	for i, path := range paths {
		processed, err := w.process(path)
		if err != nil {
			return err
		}
		paths[i] = processed
	}
	return w.next.FilesComplete(sourceURI, paths, w.tag(metadata))
}

func (w *wrapHandler) process(path string) (string, error) {
	if w.rule.Process == nil {
		return path, nil
	}
	return w.rule.Process.Process(path)
}

func (w *wrapHandler) tag(metadata map[string]string) map[string]string {
	md := map[string]string{}
	for k, v := range metadata {
		md[k] = v
	}
	md["fetch-cron-pattern"] = w.rule.CronPattern
	md["fetch-trigger-name"] = w.rule.Name
	md["fetch-trigger-time"] = w.scheduled.UTC().Format("2006-01-02 15:04:05")
	return md
}
