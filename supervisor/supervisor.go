// Package supervisor restarts the monitored services as local OS processes.
//
// Every service name maps to a LaunchSpec. A restart terminates the running
// instance, either through the handle kept from a previous start or, when no
// handle is known, by matching the script path against the command lines of
// the process table, and then always starts a fresh instance in its own
// process group. Failures are logged and never returned to the caller.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/autoops/go-autoheal/internal/s"
	"github.com/autoops/go-autoheal/metrics"
)

// DefaultGracePeriod is how long a process has to exit after SIGTERM before
// it is killed
const DefaultGracePeriod = 5 * time.Second

// ErrUnknownService is returned for service names without a LaunchSpec
var ErrUnknownService = errors.New("unknown service")

// LaunchSpec describes how to start one service
type LaunchSpec struct {
	// Interpreter runs Script; when empty Script is executed directly
	Interpreter string   `yaml:"interpreter"`
	Script      string   `yaml:"script"`
	Args        []string `yaml:"args"`
	Dir         string   `yaml:"dir"`
	// Env is added to the supervisor environment
	Env map[string]string `yaml:"env"`
	// LogFile receives the process stdout and stderr; they are inherited when
	// empty
	LogFile string `yaml:"log_file"`
}

func (spec LaunchSpec) command() *exec.Cmd {
	var cmd *exec.Cmd
	if spec.Interpreter == "" {
		cmd = exec.Command(spec.Script, spec.Args...)
	} else {
		cmd = exec.Command(spec.Interpreter, append([]string{spec.Script}, spec.Args...)...)
	}
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cmd.Env = os.Environ()
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+spec.Env[k])
		}
	}
	setProcessGroup(cmd)
	return cmd
}

// Handle describes a process started by the Supervisor
type Handle struct {
	Service   string    `json:"service"`
	PID       int       `json:"pid"`
	Script    string    `json:"script"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

type managedProcess struct {
	handle Handle
	done   chan struct{}
}

func (mp *managedProcess) exited() bool {
	select {
	case <-mp.done:
		return true
	default:
		return false
	}
}

// Opt configures a Supervisor
type Opt func(*Supervisor)

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Opt {
	return func(sup *Supervisor) {
		sup.log = log
	}
}

// WithMetrics counts restarts
func WithMetrics(m *metrics.Metrics) Opt {
	return func(sup *Supervisor) {
		sup.metrics = m
	}
}

// WithGracePeriod sets the time between SIGTERM and SIGKILL
func WithGracePeriod(d time.Duration) Opt {
	return func(sup *Supervisor) {
		sup.grace = d
	}
}

// WithRestartTolerance skips restarts of a service beyond maxRestarts within
// window. A zero maxRestarts disables the check.
func WithRestartTolerance(maxRestarts uint32, window time.Duration) Opt {
	return func(sup *Supervisor) {
		sup.maxRestarts = maxRestarts
		sup.restartWindow = window
	}
}

// Supervisor restarts services by name. It is safe for concurrent use;
// restarts are serialized.
type Supervisor struct {
	specs         map[string]LaunchSpec
	log           *logrus.Entry
	metrics       *metrics.Metrics
	grace         time.Duration
	maxRestarts   uint32
	restartWindow time.Duration
	procRoot      string

	restartMu sync.Mutex
	guards    map[string]*s.RestartGuard

	mu    sync.Mutex
	procs map[string]*managedProcess
}

// New creates a Supervisor for the given launch table
func New(specs map[string]LaunchSpec, opts ...Opt) *Supervisor {
	sup := &Supervisor{
		specs:    make(map[string]LaunchSpec, len(specs)),
		log:      logrus.NewEntry(logrus.StandardLogger()),
		grace:    DefaultGracePeriod,
		procRoot: "/proc",
		guards:   make(map[string]*s.RestartGuard),
		procs:    make(map[string]*managedProcess),
	}
	for name, spec := range specs {
		sup.specs[name] = spec
	}
	for _, optFn := range opts {
		optFn(sup)
	}
	if sup.maxRestarts > 0 {
		for name := range sup.specs {
			sup.guards[name] = s.NewRestartGuard(sup.maxRestarts, sup.restartWindow)
		}
	}
	return sup
}

// Services returns the known service names, sorted
func (sup *Supervisor) Services() []string {
	names := make([]string, 0, len(sup.specs))
	for name := range sup.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Restart terminates the running instance of the named service, if any, and
// starts a new one. Unknown names are logged and ignored.
func (sup *Supervisor) Restart(name string) {
	log := sup.log.WithField("service", name)
	if err := sup.restart(name); err != nil {
		switch {
		case errors.Is(err, ErrUnknownService):
			log.Warn("unknown service name provided for restart")
			sup.metrics.ObserveRestart(name, "unknown")
		case errors.Is(err, errRestartSkipped):
			log.WithField("max_restarts", sup.maxRestarts).Warn("restart skipped, service is flapping")
			sup.metrics.ObserveRestart(name, "skipped")
		default:
			log.WithError(err).Error("could not start service")
			sup.metrics.ObserveRestart(name, "failed")
		}
		return
	}
	sup.metrics.ObserveRestart(name, "started")
}

var errRestartSkipped = errors.New("restart tolerance reached")

func (sup *Supervisor) restart(name string) error {
	spec, ok := sup.specs[name]
	if !ok {
		return fmt.Errorf("Supervisor.Restart %q: %w", name, ErrUnknownService)
	}

	sup.restartMu.Lock()
	defer sup.restartMu.Unlock()

	if guard := sup.guards[name]; guard != nil && !guard.Allow() {
		return errRestartSkipped
	}

	sup.log.WithFields(logrus.Fields{"service": name, "script": spec.Script}).Info("restarting service")
	sup.terminate(name, spec)
	return sup.start(name, spec)
}

// terminate stops the current instance of a service. It prefers the handle of
// an instance this Supervisor started and otherwise signals every process
// whose command line contains the script path.
func (sup *Supervisor) terminate(name string, spec LaunchSpec) {
	log := sup.log.WithField("service", name)

	sup.mu.Lock()
	mp := sup.procs[name]
	sup.mu.Unlock()

	if mp != nil && !mp.exited() {
		sup.stopManaged(log, mp)
		return
	}

	pids, err := findProcesses(sup.procRoot, spec.Script, os.Getpid())
	if err != nil {
		log.WithError(err).Warn("could not scan the process table")
		return
	}
	for _, pid := range pids {
		sup.stopExternal(log.WithField("pid", pid), pid)
	}
}

func (sup *Supervisor) stopManaged(log *logrus.Entry, mp *managedProcess) {
	log = log.WithField("pid", mp.handle.PID)
	if err := signalGroup(mp.handle.PID, syscall.SIGTERM); err != nil {
		log.WithError(err).Debug("SIGTERM failed")
	}
	select {
	case <-mp.done:
		return
	case <-time.After(sup.grace):
	}
	log.Warn("process did not exit after SIGTERM, killing it")
	if err := signalGroup(mp.handle.PID, syscall.SIGKILL); err != nil {
		log.WithError(err).Debug("SIGKILL failed")
	}
	select {
	case <-mp.done:
	case <-time.After(sup.grace):
		log.Error("process survived SIGKILL")
	}
}

func (sup *Supervisor) stopExternal(log *logrus.Entry, pid int) {
	if err := signalPID(pid, syscall.SIGTERM); err != nil {
		log.WithError(err).Debug("SIGTERM failed")
		return
	}
	if waitExit(pid, sup.grace) {
		return
	}
	log.Warn("process did not exit after SIGTERM, killing it")
	if err := signalPID(pid, syscall.SIGKILL); err != nil {
		log.WithError(err).Debug("SIGKILL failed")
	}
}

func waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isAlive(pid) {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return !isAlive(pid)
}

func (sup *Supervisor) start(name string, spec LaunchSpec) error {
	cmd := spec.command()

	var logFile *os.File
	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o755); err != nil {
			return fmt.Errorf("Supervisor.start: %w", err)
		}
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("Supervisor.start: %w", err)
		}
		logFile = f
		cmd.Stdout, cmd.Stderr = f, f
	} else {
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	}

	if err := cmd.Start(); err != nil {
		closeQuietly(logFile)
		return fmt.Errorf("Supervisor.start: %w", err)
	}

	mp := &managedProcess{
		handle: Handle{
			Service:   name,
			PID:       cmd.Process.Pid,
			Script:    spec.Script,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	sup.mu.Lock()
	sup.procs[name] = mp
	sup.mu.Unlock()

	log := sup.log.WithFields(logrus.Fields{"service": name, "pid": mp.handle.PID})
	log.Info("service started")

	go func() {
		err := cmd.Wait()
		closeQuietly(logFile)
		close(mp.done)
		if err != nil {
			log.WithError(err).Info("service exited")
			return
		}
		log.Info("service exited")
	}()
	return nil
}

func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// Handles returns a snapshot of the processes started by this Supervisor,
// sorted by service name.
func (sup *Supervisor) Handles() []Handle {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	out := make([]Handle, 0, len(sup.procs))
	for _, mp := range sup.procs {
		h := mp.handle
		h.Running = !mp.exited()
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Stop terminates every running process started by this Supervisor
func (sup *Supervisor) Stop() {
	sup.restartMu.Lock()
	defer sup.restartMu.Unlock()

	sup.mu.Lock()
	running := make([]*managedProcess, 0, len(sup.procs))
	for _, mp := range sup.procs {
		if !mp.exited() {
			running = append(running, mp)
		}
	}
	sup.mu.Unlock()

	var wg sync.WaitGroup
	for _, mp := range running {
		wg.Add(1)
		go func(mp *managedProcess) {
			defer wg.Done()
			sup.stopManaged(sup.log.WithField("service", mp.handle.Service), mp)
		}(mp)
	}
	wg.Wait()
}
