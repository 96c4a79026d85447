package handoff

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
)

// ErrRestartInProgress a restart was already triggered
var ErrRestartInProgress = errors.New("restart already in progress")

// Drainer the recording manager operations used while exiting
type Drainer interface {
	// BeginDrain refuse new admissions from now on
	BeginDrain()

	// Snapshot capture the in-flight recordings
	Snapshot() common.HandoffSnapshot

	/*
		WaitIdle block until no live recording session remains

			@param ctxt context.Context - execution context
	*/
	WaitIdle(ctxt context.Context) error
}

// Coordinator drives a graceful restart of the recorder process
type Coordinator interface {
	/*
		Restart hand the in-flight recordings over to a successor and begin draining

			@param ctxt context.Context - execution context
			@param trigger string - what caused the restart
	*/
	Restart(ctxt context.Context, trigger string) error

	// Restarting whether a restart was triggered
	Restarting() bool

	// Exiting closed once draining finished and the process should exit
	Exiting() <-chan struct{}

	/*
		Stop stop the drain support tasks

			@param ctxt context.Context - execution context
	*/
	Stop(ctxt context.Context) error
}

// CoordinatorParams restart coordinator parameters
type CoordinatorParams struct {
	// Drainer the recording manager
	Drainer Drainer
	// Supervisor supervisor client. When nil, the Respawner starts the successor.
	Supervisor SupervisorClient
	// Respawner starts a successor without a supervisor
	Respawner Respawner
	// DrainGrace wait after the last session closes before exiting
	DrainGrace time.Duration
	// MaxDrain upper bound on the wait for sessions to close
	MaxDrain time.Duration
}

// coordinatorImpl implements Coordinator
type coordinatorImpl struct {
	goutils.Component
	params     CoordinatorParams
	restarting atomic.Bool
	exiting    chan struct{}

	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewCoordinator define a new restart coordinator

	@param parentCtxt context.Context - parent context
	@param params CoordinatorParams - coordinator parameters
	@returns new Coordinator
*/
func NewCoordinator(parentCtxt context.Context, params CoordinatorParams) (Coordinator, error) {
	if params.Drainer == nil {
		return nil, errors.New("restart coordinator requires a drainer")
	}
	if params.Supervisor == nil && params.Respawner == nil {
		return nil, errors.New("restart coordinator requires a supervisor client or a respawner")
	}
	instance := &coordinatorImpl{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "handoff", "component": "restart-coordinator"},
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params:  params,
		exiting: make(chan struct{}),
		wg:      sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)
	return instance, nil
}

func (c *coordinatorImpl) Restarting() bool {
	return c.restarting.Load()
}

func (c *coordinatorImpl) Exiting() <-chan struct{} {
	return c.exiting
}

func (c *coordinatorImpl) Restart(ctxt context.Context, trigger string) error {
	logTags := c.GetLogTagsForContext(ctxt)

	if !c.restarting.CompareAndSwap(false, true) {
		return ErrRestartInProgress
	}

	log.WithFields(logTags).WithField("trigger", trigger).Info("Graceful restart triggered")

	// Stop admissions before capturing the snapshot so nothing new escapes it
	c.params.Drainer.BeginDrain()
	snapshot := c.params.Drainer.Snapshot()

	var err error
	if c.params.Supervisor != nil {
		err = c.params.Supervisor.RequestRestart(ctxt, os.Getpid(), snapshot)
	} else {
		err = c.params.Respawner.Respawn(ctxt, snapshot)
	}
	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			WithField("recordings", snapshot.Entries()).
			Warn("Successor not started. Draining anyway")
	}

	c.wg.Add(1)
	go c.drain()
	return nil
}

func (c *coordinatorImpl) drain() {
	defer c.wg.Done()
	logTags := c.GetLogTagsForContext(c.workerCtxt)

	drainCtxt := c.workerCtxt
	if c.params.MaxDrain > 0 {
		var cancel context.CancelFunc
		drainCtxt, cancel = context.WithTimeout(c.workerCtxt, c.params.MaxDrain)
		defer cancel()
	}

	if err := c.params.Drainer.WaitIdle(drainCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Gave up waiting for recordings to close")
	} else if c.params.DrainGrace > 0 {
		log.
			WithFields(logTags).
			WithField("grace", c.params.DrainGrace.String()).
			Info("All recordings closed. Waiting out the grace period")
		select {
		case <-time.After(c.params.DrainGrace):
		case <-drainCtxt.Done():
		}
	}

	log.WithFields(logTags).Info("Drain complete")
	close(c.exiting)
}

func (c *coordinatorImpl) Stop(ctxt context.Context) error {
	c.workerCtxtCancel()
	return goutils.TimeBoundedWaitGroupWait(ctxt, &c.wg, time.Second*10)
}
