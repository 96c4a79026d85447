package handoff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
)

// TriggerFileName creating a file with this name in the trigger DIR starts a restart
const TriggerFileName = "restart"

// Restarter receives restart triggers
type Restarter interface {
	/*
		Restart begin a graceful restart

			@param ctxt context.Context - execution context
			@param trigger string - what caused the restart
	*/
	Restart(ctxt context.Context, trigger string) error
}

// Trigger a restart trigger source
type Trigger interface {
	/*
		Stop stop watching for the trigger

			@param ctxt context.Context - execution context
	*/
	Stop(ctxt context.Context) error
}

// uptimeTrigger restarts after a fixed process uptime
type uptimeTrigger struct {
	goutils.Component
	target           Restarter
	timer            goutils.IntervalTimer
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewUptimeTrigger define a trigger firing once the process has been up for a duration

	@param parentCtxt context.Context - parent context
	@param uptime time.Duration - uptime before restarting
	@param target Restarter - restart target
	@returns new Trigger
*/
func NewUptimeTrigger(
	parentCtxt context.Context, uptime time.Duration, target Restarter,
) (Trigger, error) {
	logTags := log.Fields{
		"module": "handoff", "component": "restart-trigger", "instance": "uptime",
	}
	instance := &uptimeTrigger{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		target: target,
		wg:     sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	timer, err := goutils.GetIntervalTimerInstance(instance.workerCtxt, &instance.wg, logTags)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define uptime timer")
		return nil, err
	}
	instance.timer = timer
	if err := timer.Start(uptime, instance.fire, true); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start uptime timer")
		return nil, err
	}
	log.WithFields(logTags).WithField("uptime", uptime.String()).Info("Uptime restart armed")
	return instance, nil
}

func (t *uptimeTrigger) fire() error {
	err := t.target.Restart(t.workerCtxt, "uptime")
	if err != nil && !errors.Is(err, ErrRestartInProgress) {
		log.WithError(err).WithFields(t.LogTags).Error("Uptime restart failed")
	}
	return nil
}

func (t *uptimeTrigger) Stop(ctxt context.Context) error {
	t.workerCtxtCancel()
	if err := t.timer.Stop(); err != nil {
		return err
	}
	return goutils.TimeBoundedWaitGroupWait(ctxt, &t.wg, time.Second*5)
}

// fileTrigger restarts when the trigger file appears in a watched DIR
type fileTrigger struct {
	goutils.Component
	dir              string
	target           Restarter
	watcher          utils.FileSystemWatcher
	events           chan utils.FSEvent
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewFileTrigger define a trigger firing when a file named "restart" is created in a DIR

	@param parentCtxt context.Context - parent context
	@param dir string - the DIR to watch
	@param target Restarter - restart target
	@returns new Trigger
*/
func NewFileTrigger(parentCtxt context.Context, dir string, target Restarter) (Trigger, error) {
	logTags := log.Fields{
		"module": "handoff", "component": "restart-trigger", "instance": "file", "dir": dir,
	}

	events := make(chan utils.FSEvent, 4)
	watcher, err := utils.NewFileSystemWatcher(events, TriggerFileName)
	if err != nil {
		return nil, err
	}

	instance := &fileTrigger{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		dir:     dir,
		target:  target,
		watcher: watcher,
		events:  events,
		wg:      sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	if err := watcher.AddPath(parentCtxt, dir); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to watch trigger DIR")
		return nil, err
	}
	if err := watcher.Start(parentCtxt, instance.workerCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start trigger DIR watcher")
		return nil, err
	}

	// A trigger left behind before startup is stale
	_ = os.Remove(filepath.Join(dir, TriggerFileName))

	instance.wg.Add(1)
	go instance.run()
	return instance, nil
}

func (t *fileTrigger) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.workerCtxt.Done():
			return
		case event := <-t.events:
			log.WithFields(t.LogTags).WithField("path", event.Name).Info("Observed restart trigger file")
			if err := os.Remove(event.Name); err != nil {
				log.WithError(err).WithFields(t.LogTags).Warn("Unable to remove restart trigger file")
			}
			err := t.target.Restart(t.workerCtxt, "trigger-file")
			if err != nil && !errors.Is(err, ErrRestartInProgress) {
				log.WithError(err).WithFields(t.LogTags).Error("Trigger file restart failed")
			}
		}
	}
}

func (t *fileTrigger) Stop(ctxt context.Context) error {
	if err := t.watcher.Stop(ctxt); err != nil {
		return err
	}
	t.workerCtxtCancel()
	return goutils.TimeBoundedWaitGroupWait(ctxt, &t.wg, time.Second*5)
}
