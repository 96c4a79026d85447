package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/db"
	"github.com/apex/log"
	"gorm.io/gorm"
)

// ErrRecordingLive the recording is still being written
var ErrRecordingLive = errors.New("recording is still live")

// ArchiveRemover removes archived copies of a recording
type ArchiveRemover interface {
	/*
		RemoveRecording delete the archived objects of a recording

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	RemoveRecording(ctxt context.Context, id int64) error
}

// InUseCheck reports whether a recording is still being written
type InUseCheck func(id int64) bool

// Reaper periodically deletes expired recordings
type Reaper interface {
	/*
		Reap delete every expired recording now

			@param ctxt context.Context - execution context
			@param now time.Time - current time
			@returns number of recordings deleted
	*/
	Reap(ctxt context.Context, now time.Time) (int, error)

	/*
		Purge delete one recording now: its artifacts, archived copy and index entry

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	Purge(ctxt context.Context, id int64) error

	/*
		Stop stop the periodic reaping

			@param ctxt context.Context - execution context
	*/
	Stop(ctxt context.Context) error
}

// reaperImpl implements Reaper
type reaperImpl struct {
	goutils.Component
	store            Store
	index            db.PersistenceManager
	archive          ArchiveRemover
	inUse            InUseCheck
	timer            goutils.IntervalTimer
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewReaper define a new expired recording reaper

	@param parentCtxt context.Context - parent context
	@param store Store - local recording storage
	@param index db.PersistenceManager - recording index
	@param archive ArchiveRemover - archived copy remover, optional
	@param inUse InUseCheck - live recording check, optional
	@param interval time.Duration - reaping interval, zero to only reap on demand
	@returns new Reaper
*/
func NewReaper(
	parentCtxt context.Context,
	store Store,
	index db.PersistenceManager,
	archive ArchiveRemover,
	inUse InUseCheck,
	interval time.Duration,
) (Reaper, error) {
	logTags := log.Fields{"module": "storage", "component": "reaper"}

	instance := &reaperImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		store:   store,
		index:   index,
		archive: archive,
		inUse:   inUse,
		wg:      sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	timer, err := goutils.GetIntervalTimerInstance(instance.workerCtxt, &instance.wg, logTags)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define reaper timer")
		return nil, err
	}
	instance.timer = timer

	if interval > 0 {
		if err := timer.Start(interval, instance.periodicReap, false); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start reaper timer")
			return nil, err
		}
	}

	return instance, nil
}

func (r *reaperImpl) periodicReap() error {
	_, err := r.Reap(r.workerCtxt, time.Now())
	return err
}

func (r *reaperImpl) Reap(ctxt context.Context, now time.Time) (int, error) {
	logTags := r.GetLogTagsForContext(ctxt)

	expired, err := r.index.ListExpiredRecordings(ctxt, now)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to list expired recordings")
		return 0, err
	}

	deleted := 0
	for _, entry := range expired {
		if r.inUse != nil && r.inUse(entry.ID) {
			log.WithFields(logTags).WithField("recording", entry.ID).Debug("Expired recording still live")
			continue
		}
		if err := r.purgeEntry(ctxt, entry, true); err != nil {
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.WithFields(logTags).WithField("deleted", deleted).Info("Reaped expired recordings")
	}
	return deleted, nil
}

func (r *reaperImpl) Purge(ctxt context.Context, id int64) error {
	logTags := r.GetLogTagsForContext(ctxt)

	if r.inUse != nil && r.inUse(id) {
		return ErrRecordingLive
	}

	entry, err := r.index.GetRecording(ctxt, id)
	indexed := err == nil
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithError(err).WithFields(logTags).WithField("recording", id).Error("Recording index read failed")
			return err
		}
		// Artifacts without an index entry are still removed
		entry = common.RecordingEntry{ID: id}
	}

	if err := r.purgeEntry(ctxt, entry, indexed); err != nil {
		return err
	}
	log.WithFields(logTags).WithField("recording", id).Info("Deleted recording")
	return nil
}

// purgeEntry delete the artifacts, then the archived copy, then the index entry
func (r *reaperImpl) purgeEntry(ctxt context.Context, entry common.RecordingEntry, indexed bool) error {
	logTags := r.GetLogTagsForContext(ctxt)

	if err := r.store.Delete(ctxt, entry.ID); err != nil {
		log.WithError(err).WithFields(logTags).WithField("recording", entry.ID).Error("Unable to delete recording artifacts")
		return err
	}
	if entry.Archived && r.archive != nil {
		if err := r.archive.RemoveRecording(ctxt, entry.ID); err != nil {
			log.
				WithError(err).
				WithFields(logTags).
				WithField("recording", entry.ID).
				Error("Unable to delete archived copy of recording")
			return err
		}
	}
	if !indexed {
		return nil
	}
	if err := r.index.DeleteRecording(ctxt, entry.ID); err != nil {
		log.WithError(err).WithFields(logTags).WithField("recording", entry.ID).Error("Unable to unindex recording")
		return err
	}
	return nil
}

func (r *reaperImpl) Stop(ctxt context.Context) error {
	r.workerCtxtCancel()
	if err := r.timer.Stop(); err != nil {
		return err
	}
	return goutils.TimeBoundedWaitGroupWait(ctxt, &r.wg, time.Second*5)
}
