package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
	"github.com/gofrs/flock"
)

// ErrSupervisorRunning another supervisor holds the lock
var ErrSupervisorRunning = errors.New("another supervisor is already running")

// ErrHandoffRefused the supervisor will not accept a handoff from the sender
var ErrHandoffRefused = errors.New("handoff refused")

// ChildProcess a running recorder process
type ChildProcess interface {
	// PID the process ID
	PID() int

	// Wait block until the process exits
	Wait() error

	// Terminate ask the process to stop
	Terminate() error
}

// ProcessLauncher starts recorder processes
type ProcessLauncher interface {
	/*
		Launch start a new recorder process

			@param ctxt context.Context - execution context
			@returns the started process
	*/
	Launch(ctxt context.Context) (ChildProcess, error)
}

// execChild ChildProcess over os/exec
type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) PID() int {
	return c.cmd.Process.Pid
}

func (c *execChild) Wait() error {
	return c.cmd.Wait()
}

func (c *execChild) Terminate() error {
	return c.cmd.Process.Signal(syscall.SIGTERM)
}

// execLauncher ProcessLauncher over os/exec
type execLauncher struct {
	executable string
	args       []string
}

/*
NewExecLauncher define a launcher running an executable

	@param executable string - the executable. Empty means the current executable.
	@param args []string - arguments to pass
	@returns new ProcessLauncher
*/
func NewExecLauncher(executable string, args []string) (ProcessLauncher, error) {
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		executable = self
	}
	return &execLauncher{executable: executable, args: args}, nil
}

func (l *execLauncher) Launch(_ context.Context) (ChildProcess, error) {
	cmd := exec.Command(l.executable, l.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execChild{cmd: cmd}, nil
}

// Supervisor keeps one recorder running and brokers restart handoffs between recorders
type Supervisor interface {
	/*
		Run hold the supervisor lock and keep a recorder running until the context ends

			@param ctxt context.Context - execution context
	*/
	Run(ctxt context.Context) error

	/*
		Handoff store the exiting recorder's snapshot and start its successor

			@param ctxt context.Context - execution context
			@param senderPID int - process ID of the exiting recorder
			@param snapshot common.HandoffSnapshot - in-flight recordings
	*/
	Handoff(ctxt context.Context, senderPID int, snapshot common.HandoffSnapshot) error

	/*
		TakeSnapshot hand the stored snapshot to the successor. It is only handed out once.

			@param ctxt context.Context - execution context
			@returns the stored snapshot, empty if there is none
	*/
	TakeSnapshot(ctxt context.Context) common.HandoffSnapshot
}

type childExit struct {
	pid int
	err error
}

// supervisorImpl implements Supervisor
type supervisorImpl struct {
	goutils.Component
	lockFile       string
	launcher       ProcessLauncher
	restartBackoff time.Duration
	stopTimeout    time.Duration

	lock     sync.Mutex
	current  ChildProcess
	children map[int]ChildProcess
	retired  map[int]bool
	snapshot common.HandoffSnapshot
	stopping bool

	exits chan childExit
	wg    sync.WaitGroup
}

/*
NewSupervisor define a new recorder supervisor

	@param lockFile string - supervisor single instance lock file
	@param launcher ProcessLauncher - recorder process launcher
	@param restartBackoff time.Duration - wait before restarting a crashed recorder
	@returns new Supervisor
*/
func NewSupervisor(
	lockFile string, launcher ProcessLauncher, restartBackoff time.Duration,
) Supervisor {
	return &supervisorImpl{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "handoff", "component": "supervisor"},
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		lockFile:       lockFile,
		launcher:       launcher,
		restartBackoff: restartBackoff,
		stopTimeout:    time.Second * 30,
		children:       make(map[int]ChildProcess),
		retired:        make(map[int]bool),
		exits:          make(chan childExit, 4),
		wg:             sync.WaitGroup{},
	}
}

// launch start a recorder and make it the current one. Caller holds the lock.
func (s *supervisorImpl) launch(ctxt context.Context) error {
	logTags := s.GetLogTagsForContext(ctxt)
	child, err := s.launcher.Launch(ctxt)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to launch recorder")
		return err
	}
	pid := child.PID()
	s.current = child
	s.children[pid] = child
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := child.Wait()
		s.exits <- childExit{pid: pid, err: err}
	}()
	log.WithFields(logTags).WithField("pid", pid).Info("Launched recorder")
	return nil
}

func (s *supervisorImpl) Run(ctxt context.Context) error {
	logTags := s.GetLogTagsForContext(ctxt)

	instanceLock := flock.New(s.lockFile)
	locked, err := instanceLock.TryLock()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to acquire supervisor lock")
		return err
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrSupervisorRunning, s.lockFile)
	}
	defer func() {
		if err := instanceLock.Unlock(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to release supervisor lock")
		}
	}()

	var relaunch <-chan time.Time
	s.lock.Lock()
	if err := s.launch(ctxt); err != nil {
		relaunch = time.After(s.restartBackoff)
	}
	s.lock.Unlock()

	for {
		select {
		case <-ctxt.Done():
			s.shutdown()
			return nil

		case exit := <-s.exits:
			if s.childExited(exit) {
				relaunch = time.After(s.restartBackoff)
			}

		case <-relaunch:
			relaunch = nil
			s.lock.Lock()
			if s.current == nil {
				if err := s.launch(ctxt); err != nil {
					relaunch = time.After(s.restartBackoff)
				}
			}
			s.lock.Unlock()
		}
	}
}

// childExited process a recorder exit, returning whether a replacement is needed
func (s *supervisorImpl) childExited(exit childExit) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.children, exit.pid)
	wasRetired := s.retired[exit.pid]
	delete(s.retired, exit.pid)

	entry := log.WithFields(s.LogTags).WithField("pid", exit.pid)
	if exit.err != nil {
		entry = entry.WithError(exit.err)
	}

	if wasRetired {
		entry.Info("Handed over recorder exited")
		return false
	}
	if s.current == nil || s.current.PID() != exit.pid {
		entry.Debug("Untracked recorder exited")
		return false
	}

	s.current = nil
	if s.stopping {
		return false
	}
	entry.Warn("Recorder exited unexpectedly. Restarting")
	return true
}

func (s *supervisorImpl) shutdown() {
	s.lock.Lock()
	s.stopping = true
	for pid, child := range s.children {
		if err := child.Terminate(); err != nil {
			log.WithError(err).WithFields(s.LogTags).WithField("pid", pid).Warn("Unable to stop recorder")
		}
	}
	s.lock.Unlock()

	done := make(chan struct{})
	go func() {
		// Keep the exit queue drained while the children stop
		for {
			select {
			case <-s.exits:
			case <-done:
				return
			}
		}
	}()
	err := goutils.TimeBoundedWaitGroupWait(context.Background(), &s.wg, s.stopTimeout)
	close(done)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Recorders did not stop in time")
		return
	}
	log.WithFields(s.LogTags).Info("All recorders stopped")
}

func (s *supervisorImpl) Handoff(
	ctxt context.Context, senderPID int, snapshot common.HandoffSnapshot,
) error {
	logTags := s.GetLogTagsForContext(ctxt)

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopping {
		return fmt.Errorf("%w: supervisor is stopping", ErrHandoffRefused)
	}
	if s.current != nil && s.current.PID() != senderPID {
		return fmt.Errorf("%w: process %d is not the current recorder", ErrHandoffRefused, senderPID)
	}

	s.snapshot = snapshot
	previous := s.current
	if err := s.launch(ctxt); err != nil {
		// The sender exits after draining, and is then replaced as a crashed recorder
		s.current = previous
		return err
	}
	if previous != nil {
		s.retired[previous.PID()] = true
	}

	log.
		WithFields(logTags).
		WithField("from-pid", senderPID).
		WithField("to-pid", s.current.PID()).
		WithField("recordings", snapshot.Entries()).
		Info("Recorder handoff started")
	return nil
}

func (s *supervisorImpl) TakeSnapshot(_ context.Context) common.HandoffSnapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	snapshot := s.snapshot
	s.snapshot = nil
	if snapshot == nil {
		snapshot = common.HandoffSnapshot{}
	}
	return snapshot
}
