// Package task implements the per-process state machine (§4.1 of the
// spec): one Task owns one child's PID, stdio sinks, state, retry
// counter, and timers, and advances only under its owning Supervisor's
// lock (I4/I5) — Task itself holds no mutex of its own.
package task

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/taskmaster/taskmaster/internal/config"
	"github.com/taskmaster/taskmaster/internal/quiet"
)

// BackoffDelay is the fixed pause between a BACKOFF entry and the next
// spawn attempt (§4.1's supervise table).
const BackoffDelay = 2 * time.Second

// Result is returned by every mutating operation, used by the Supervisor
// to build its waiting lists (§4.1).
type Result struct {
	Success []*Task
	Errors  []*Task
}

// Merge concatenates two Results, as TaskGroup's fan-out does across
// replicas.
func (r Result) Merge(o Result) Result {
	return Result{
		Success: append(append([]*Task{}, r.Success...), o.Success...),
		Errors:  append(append([]*Task{}, r.Errors...), o.Errors...),
	}
}

// Task is one supervised child process.
type Task struct {
	displayName string
	Decl        config.Program

	state State
	pid   int
	cmd   *exec.Cmd

	stdoutFile *os.File
	stderrFile *os.File

	startTime      time.Time
	stopTime       time.Time
	backoffTime    time.Time
	activeStopSig  string
	activeStopTime int
	lastExitCode   int
	retry          int

	clock Clock
	quiet *quiet.Flag
	log   *zap.Logger
	out   *os.File
}

// New creates a Task in NEVER_STARTED state for decl, displayed under
// name (the bare program name, or "program:i" for a replica).
func New(name string, decl config.Program, clock Clock, q *quiet.Flag, log *zap.Logger) *Task {
	return &Task{
		displayName:    name,
		Decl:           decl,
		state:          NeverStarted,
		clock:          clock,
		quiet:          q,
		log:            log,
		out:            os.Stdout,
		activeStopSig:  decl.StopSignal,
		activeStopTime: decl.StopTime,
	}
}

func (t *Task) Name() string   { return t.displayName }
func (t *Task) State() State   { return t.state }
func (t *Task) PID() int       { return t.pid }
func (t *Task) RetryCount() int { return t.retry }

func (t *Task) announce(format string, args ...any) {
	if t.quiet.Enabled() {
		return
	}
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *Task) info(msg string)  { t.log.Info(fmt.Sprintf("%s %s", t.displayName, msg)) }
func (t *Task) errorf(msg string, args ...any) {
	t.log.Error(fmt.Sprintf("%s %s", t.displayName, fmt.Sprintf(msg, args...)))
}

// Start spawns the child if not already STARTING/RUNNING, resetting the
// retry counter: every externally-requested start is a fresh attempt
// window (I3). Internal continuations out of BACKOFF go through
// start(false) instead, which must NOT reset retry.
func (t *Task) Start() Result {
	return t.start(true)
}

func (t *Task) start(resetRetry bool) Result {
	if t.state == Starting || t.state == Running {
		t.announce("%s : ERROR (already started)", t.displayName)
		return Result{Errors: []*Task{t}}
	}

	stdoutFile, err := t.openSink(t.Decl.Stdout)
	if err != nil {
		t.state = Fatal
		t.errorf("fatal: opening stdout: %v", err)
		return Result{Errors: []*Task{t}}
	}
	stderrFile, err := t.openSink(t.Decl.Stderr)
	if err != nil {
		stdoutFile.Close()
		t.state = Fatal
		t.errorf("fatal: opening stderr: %v", err)
		return Result{Errors: []*Task{t}}
	}

	line := buildShellCommand(t.Decl.Umask, t.Decl.Cmd)
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.Dir = t.Decl.WorkingDir
	cmd.Env = envSlice(t.Decl.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	// Setsid decouples the child from the supervisor's controlling
	// terminal and session, so SIGINT/SIGHUP/SIGQUIT delivered to the
	// supervisor are never propagated to children by the kernel (§5).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	t.startTime = t.clock.Now()
	t.state = Starting
	t.info("starting")

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		t.state = Fatal
		t.errorf("fatal: spawn failed: %v", err)
		return Result{Errors: []*Task{t}}
	}

	t.cmd = cmd
	t.pid = cmd.Process.Pid
	t.stdoutFile = stdoutFile
	t.stderrFile = stderrFile
	if resetRetry {
		t.retry = 0
	}
	return Result{Success: []*Task{t}}
}

func (t *Task) openSink(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (t *Task) closeSinks() {
	if t.stdoutFile != nil {
		t.stdoutFile.Close()
		t.stdoutFile = nil
	}
	if t.stderrFile != nil {
		t.stderrFile.Close()
		t.stderrFile = nil
	}
}

// Stop sends the declared stopsignal and waits (via Supervise ticks) for
// the child to exit, escalating to SIGKILL after stoptime.
func (t *Task) Stop() Result {
	return t.stopWith(t.Decl.StopSignal, t.Decl.StopTime)
}

// Shutdown is Stop with stopsignal forced to TERM and stoptime bounded to
// 2 seconds, used by the global shutdown path (§4.1).
func (t *Task) Shutdown() Result {
	return t.stopWith(config.SigTERM, 2)
}

func (t *Task) stopWith(sigName string, stopTime int) Result {
	if t.state.StoppedLike() {
		t.announce("%s : ERROR (not running)", t.displayName)
		return Result{Errors: []*Task{t}}
	}
	if t.pid == 0 {
		// Reached for a BACKOFF task: poll() already zeroed pid and
		// reaped the child before this state was entered, so there is
		// nothing left to signal, but the transition to STOPPED still
		// succeeds and must be reported like any other successful stop.
		t.state = Stopped
		return Result{Success: []*Task{t}}
	}

	t.activeStopSig = sigName
	t.activeStopTime = stopTime

	// Negative pid targets the whole process group: the child was
	// started with Setsid, so its pgid equals its pid, and this also
	// reaches any grandchildren the shell wrapper spawned.
	unix.Kill(-t.pid, signalFor(sigName))

	if exited, _ := t.poll(); exited {
		t.state = Stopped
		t.info("stopped")
		t.closeSinks()
	} else {
		t.stopTime = t.clock.Now()
		t.state = Stopping
		t.info("stopping")
	}
	return Result{Success: []*Task{t}}
}

// poll performs a non-blocking reap of the child, mirroring the
// SIGCHLD-driven syscall.Wait4(..., WNOHANG, ...) loop the copied teacher
// used, but invoked from the tick instead of a signal handler (I5: no
// transition happens asynchronously from a signal handler).
func (t *Task) poll() (exited bool, exitCode int) {
	if t.pid == 0 {
		return true, t.lastExitCode
	}
	var wstatus unix.WaitStatus
	pid, err := unix.Wait4(t.pid, &wstatus, unix.WNOHANG, nil)
	if err != nil {
		// Child already reaped by someone else, or gone: treat as exited.
		t.pid = 0
		return true, t.lastExitCode
	}
	if pid == 0 {
		return false, 0
	}
	if wstatus.Exited() {
		t.lastExitCode = wstatus.ExitStatus()
	} else if wstatus.Signaled() {
		t.lastExitCode = 128 + int(wstatus.Signal())
	}
	t.pid = 0
	return true, t.lastExitCode
}

// Supervise advances this Task by one tick, driven only by the monitor
// loop (§4.1's table / I5).
func (t *Task) Supervise() {
	switch t.state {
	case Starting:
		t.superviseStarting()
	case Backoff:
		if t.clock.Now().Sub(t.backoffTime) >= BackoffDelay {
			t.start(false)
		}
	case Running:
		t.superviseRunning()
	case Stopping:
		t.superviseStopping()
	}
}

func (t *Task) superviseStarting() {
	exited, code := t.poll()
	if exited && !containsInt(t.Decl.ExitCodes, code) {
		if t.retry < t.Decl.StartRetries {
			t.retry++
			t.state = Backoff
			t.backoffTime = t.clock.Now()
			t.info("backoff")
			t.closeSinks()
		} else {
			t.state = Fatal
			t.info("fatal")
			t.closeSinks()
		}
		return
	}
	// An acceptable-code exit during STARTING is not a failure; keep
	// observing until starttime elapses, matching §4.1's table exactly
	// (Open Question (a) in the spec resolves this way).
	if t.clock.Now().Sub(t.startTime) >= time.Duration(t.Decl.StartTime)*time.Second {
		t.retry = 0
		t.state = Running
		t.info("running")
	}
}

func (t *Task) superviseRunning() {
	exited, code := t.poll()
	if !exited {
		return
	}
	t.closeSinks()
	if containsInt(t.Decl.ExitCodes, code) {
		t.stopTime = t.clock.Now()
		t.state = Exited
		t.info("exited")
		if t.Decl.AutoRestart == config.AutorestartAlways {
			t.retry = 0
			t.state = Backoff
			t.backoffTime = t.clock.Now()
			t.info("backoff")
		}
		return
	}
	if t.Decl.AutoRestart == config.AutorestartAlways || t.Decl.AutoRestart == config.AutorestartUnexpected {
		t.retry = 0
		t.state = Backoff
		t.backoffTime = t.clock.Now()
		t.info("backoff")
	} else {
		t.state = Fatal
		t.info("fatal")
	}
}

func (t *Task) superviseStopping() {
	exited, _ := t.poll()
	if exited {
		t.closeSinks()
		t.state = Stopped
		t.info("stopped")
		return
	}
	if t.clock.Now().Sub(t.stopTime) >= time.Duration(t.activeStopTime)*time.Second {
		unix.Kill(-t.pid, unix.SIGKILL)
		// SIGKILL cannot be caught or blocked, so the child dies
		// immediately; reap it now rather than leaving a zombie no
		// later tick would otherwise collect.
		var wstatus unix.WaitStatus
		unix.Wait4(t.pid, &wstatus, 0, nil)
		t.pid = 0
		t.closeSinks()
		t.state = Stopped
		t.info("stopped")
	}
}

// Status renders the one-line operator-facing status row (§4.1).
func (t *Task) Status() string {
	buf := fmt.Sprintf("%-32s%-10s", t.displayName, t.state.String())
	switch t.state {
	case Running:
		uptime := t.clock.Now().Sub(t.startTime)
		buf += fmt.Sprintf("pid %d, uptime %s", t.pid, formatUptime(uptime))
	case Stopped, Exited:
		if !t.stopTime.IsZero() {
			buf += t.stopTime.Local().Format("Jan 02 03:04 PM")
		} else {
			buf += "Not started"
		}
	}
	return buf
}

// formatUptime renders a duration as Python's timedelta str() does:
// "H:MM:SS", hours unpadded, minutes/seconds zero-padded.
func formatUptime(d time.Duration) string {
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
