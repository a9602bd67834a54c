package daemon

import (
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/neodata/fetchd/fetch/load"
	"github.com/neodata/fetchd/fetch/report"
)

// How long to sleep when there is nothing scheduled at all. A reload
// signal still interrupts it.
const emptyScheduleSleep = 500 * time.Second

// Supervisor owns the main loop: it watches the schedule, spawns a
// worker for each due rule, reaps finished workers, and reloads its
// config on SIGHUP.
type Supervisor struct {
	configPath string
	cfg        *load.Config
	schedule   *Schedule
	lockDir    string
	logDir     string
	listeners  []report.FailureListener

	running   map[int]*Handle
	completed chan *Handle
	sigCh     chan os.Signal
	exiting   bool

	now func() time.Time
}

// New loads the config at configPath and prepares a supervisor.
func New(configPath string) (*Supervisor, error) {
	s := &Supervisor{
		configPath: configPath,
		running:    map[int]*Handle{},
		completed:  make(chan *Handle, 16),
		now:        time.Now,
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads the config, replacing the schedule and settings. The
// lock directory is kept across reloads so held locks stay meaningful.
func (s *Supervisor) reload() error {
	cfg, err := load.Load(s.configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Directory); err != nil {
		return errors.Errorf("configured base folder does not exist: %q", cfg.Directory)
	}
	applyLogging(cfg)

	if s.lockDir == "" {
		s.lockDir = filepath.Join(cfg.Directory, "lock")
		logrus.Infof("Using lock directory %s", s.lockDir)
		if err := os.MkdirAll(s.lockDir, 0755); err != nil {
			return err
		}
	}
	s.logDir = filepath.Join(cfg.Directory, "log")
	logrus.Infof("Using log directory %s", s.logDir)
	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return err
	}

	s.listeners = nil
	if len(cfg.NotifyAddresses) > 0 {
		s.listeners = append(s.listeners, report.NewEmailer(cfg.NotifyAddresses))
	}
	logrus.Infof("%d addresses for error notification: %s", len(cfg.NotifyAddresses), cfg.NotifyAddresses)
	if cfg.Messaging != nil {
		logrus.Info("Loaded messaging configuration.")
	} else {
		logrus.Info("No messaging configuration.")
	}

	s.cfg = cfg
	s.schedule = NewSchedule(cfg.Rules, s.now())
	return nil
}

// Run is the main loop. It returns after a SIGINT or SIGTERM once all
// running workers have been reaped.
func (s *Supervisor) Run() error {
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(s.sigCh)

	for !s.exiting {
		s.reap()
		if s.exiting {
			break
		}
		logrus.Debugf("%d recorded children", len(s.running))

		if s.schedule.Len() == 0 {
			logrus.Info("No scheduled items. Sleeping.")
			s.wait(emptyScheduleSleep)
			continue
		}

		now := s.now()
		next := s.schedule.Peek()
		if due(next.When, now) {
			entry := s.schedule.Pop()
			s.launch(entry.Rule, entry.When)
			nextTrigger := s.schedule.Add(entry.Rule, now)
			logrus.Debugf("Next %q trigger %s", entry.Rule.Name, nextTrigger)
		} else {
			sleep := next.When.Sub(now) + 100*time.Millisecond
			logrus.Debugf("Next action %s: %q (sleeping %s)", next.When, next.Rule.Name, sleep)
			s.wait(sleep)
		}
	}

	logrus.Info("Shutting down.")
	s.drain()
	return nil
}

// RunRules triggers the named rules immediately and waits for them to
// finish. Used by the one-shot command.
func (s *Supervisor) RunRules(names ...string) error {
	var chosen []*load.Rule
	var missing []string
	for _, name := range names {
		if rule := s.cfg.Rule(name); rule != nil {
			chosen = append(chosen, rule)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		available := make([]string, 0, len(s.cfg.Rules))
		for _, rule := range s.cfg.Rules {
			available = append(available, rule.Name)
		}
		return errors.Errorf(
			"no rule exists with name(s): %s\n\nPossible values:\n\t%s",
			strings.Join(missing, ", "), strings.Join(available, "\n\t"))
	}

	logrus.Infof("Triggering items %q", names)
	now := s.now()
	for _, rule := range chosen {
		s.launch(rule, now)
	}
	s.drain()
	return nil
}

func (s *Supervisor) launch(rule *load.Rule, scheduled time.Time) {
	logDir, err := dayLogDir(s.logDir, scheduled)
	if err != nil {
		logrus.WithError(err).Errorf("Could not create log directory for %q", rule.Name)
		return
	}
	h, err := Spawn(s.configPath, rule, scheduled, logDir, s.lockDir)
	if err != nil {
		logrus.WithError(err).Errorf("Could not start worker for %q", rule.Name)
		return
	}
	logrus.Infof("Starting %q. Log %q, Lock %q", h.Name, h.LogFile, h.LockFile)
	s.running[h.PID] = h
	go func() {
		h.Wait()
		s.completed <- h
	}()
}

// wait sleeps up to d, waking early for a finished child or a signal.
func (s *Supervisor) wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case sig := <-s.sigCh:
		s.onSignal(sig)
	case h := <-s.completed:
		s.finish(h)
	case <-timer.C:
	}
}

// reap handles everything already pending without blocking.
func (s *Supervisor) reap() {
	for {
		select {
		case h := <-s.completed:
			s.finish(h)
		case sig := <-s.sigCh:
			s.onSignal(sig)
			if s.exiting {
				return
			}
		default:
			return
		}
	}
}

func (s *Supervisor) onSignal(sig os.Signal) {
	if sig == syscall.SIGHUP {
		logrus.Info("Reloading configuration.")
		if err := s.reload(); err != nil {
			logrus.WithError(err).Error("Reload failed, keeping previous configuration")
		}
		return
	}
	s.exiting = true
}

func (s *Supervisor) finish(h *Handle) {
	delete(s.running, h.PID)
	logrus.Debugf("Child finished %q %d", h.Name, h.PID)
	if h.ExitCode != 0 {
		logrus.Errorf("Error return code %d from %q. Output logged to %q", h.ExitCode, h.Name, h.LogFile)
		for _, listener := range s.listeners {
			listener.OnProcessFailure(h.Name, h.LogFile, h.ExitCode)
		}
	}
}

// drain waits for every running worker.
func (s *Supervisor) drain() {
	logrus.Infof("Waiting on %d children", len(s.running))
	for len(s.running) > 0 {
		s.finish(<-s.completed)
	}
}

// due reports whether an entry scheduled for when should fire at now.
// Firing exactly on the scheduled second counts.
func due(when, now time.Time) bool {
	return !when.After(now)
}

// dayLogDir returns the per-day log directory, creating it if needed.
// Local time, to match the cron scheduling.
func dayLogDir(base string, t time.Time) (string, error) {
	local := t.Local()
	dir := filepath.Join(base, local.Format("2006"), local.Format("01-02"))
	return dir, os.MkdirAll(dir, 0755)
}

// applyLogging applies the config's log settings: an optional rotating
// file for the supervisor's own log, and the most verbose of the
// configured component levels.
func applyLogging(cfg *load.Config) {
	if cfg.LogPath != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
		}
		logrus.SetOutput(io.MultiWriter(os.Stderr, rotated))
	}

	level := logrus.InfoLevel
	for name, levelName := range cfg.LogLevels {
		parsed, err := logrus.ParseLevel(levelName)
		if err != nil {
			logrus.Warnf("Unknown log level %q for %q", levelName, name)
			continue
		}
		if parsed > level {
			level = parsed
		}
	}
	logrus.SetLevel(level)
}
