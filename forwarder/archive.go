package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/db"
	"github.com/alwitt/voxmux/storage"
	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
)

// RecordingArchiver copies closed recordings into object storage
type RecordingArchiver interface {
	storage.ArchiveRemover

	/*
		Stop stop any background support tasks

			@param ctxt context.Context - execution context
	*/
	Stop(ctxt context.Context) error

	/*
		ArchiveRecording queue a closed recording for archival

			@param ctxt context.Context - execution context
			@param id int64 - recording ID
	*/
	ArchiveRecording(ctxt context.Context, id int64) error

	/*
		ObjectKey the object key of one recording artifact

			@param id int64 - recording ID
			@param artifact storage.Artifact - the artifact
			@returns object key
	*/
	ObjectKey(id int64, artifact storage.Artifact) string
}

// s3RecordingArchiver S3 version of RecordingArchiver
type s3RecordingArchiver struct {
	goutils.Component
	archiveCfg       common.ArchiveConfig
	store            storage.Store
	index            db.PersistenceManager
	s3Client         utils.S3Client
	txWorkers        goutils.TaskProcessor
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewS3RecordingArchiver define new S3 version of RecordingArchiver

	@param parentCtxt context.Context - archiver's parent execution context
	@param archiveCfg common.ArchiveConfig - archive config
	@param store storage.Store - local recording storage
	@param index db.PersistenceManager - recording index
	@param s3Client utils.S3Client - S3 client
	@param tpMetrics goutils.TaskProcessorMetricHelper - task processor metrics helper
	@returns new RecordingArchiver
*/
func NewS3RecordingArchiver(
	parentCtxt context.Context,
	archiveCfg common.ArchiveConfig,
	store storage.Store,
	index db.PersistenceManager,
	s3Client utils.S3Client,
	tpMetrics goutils.TaskProcessorMetricHelper,
) (RecordingArchiver, error) {
	logTags := log.Fields{
		"module":    "forwarder",
		"component": "s3-recording-archiver",
		"bucket":    archiveCfg.StorageBucket,
	}

	if err := s3Client.EnsureBucket(parentCtxt, archiveCfg.StorageBucket); err != nil {
		log.WithError(err).WithFields(logTags).Error("Archive bucket is not available")
		return nil, err
	}

	instance := &s3RecordingArchiver{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		archiveCfg: archiveCfg,
		store:      store,
		index:      index,
		s3Client:   s3Client,
		wg:         sync.WaitGroup{},
	}

	// Worker context
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	maxInFlight := archiveCfg.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 1
	}

	// -----------------------------------------------------------------------------
	// Prepare TX workers
	txWorkerLogTags := log.Fields{
		"module":     "forwarder",
		"component":  "s3-recording-archiver",
		"sub-module": "transmit-worker",
	}
	workers, err := goutils.GetNewTaskDemuxProcessorInstance(
		instance.workerCtxt,
		"recording-archive-transmit",
		maxInFlight*4,
		maxInFlight,
		txWorkerLogTags,
		tpMetrics,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to define transmission worker")
		return nil, err
	}
	instance.txWorkers = workers

	// -----------------------------------------------------------------------------
	// Define support tasks

	if err := workers.AddToTaskExecutionMap(
		reflect.TypeOf(recordingArchiveRequest{}), instance.archiveRecording,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to install task definition")
		return nil, err
	}

	// -----------------------------------------------------------------------------
	// Start the worker

	if err := workers.StartEventLoop(&instance.wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start the transmission worker threads")
		return nil, err
	}

	return instance, nil
}

func (f *s3RecordingArchiver) Stop(ctxt context.Context) error {
	f.workerCtxtCancel()
	if err := f.txWorkers.StopEventLoop(); err != nil {
		return err
	}
	return goutils.TimeBoundedWaitGroupWait(ctxt, &f.wg, time.Second*10)
}

func (f *s3RecordingArchiver) ObjectKey(id int64, artifact storage.Artifact) string {
	if f.archiveCfg.StorageObjectPrefix == "" {
		return fmt.Sprintf("%d/%d.ogg.%s", id, id, artifact)
	}
	return fmt.Sprintf("%s/%d/%d.ogg.%s", f.archiveCfg.StorageObjectPrefix, id, id, artifact)
}

// ======================================================================================
// Archival

type recordingArchiveRequest struct {
	id int64
}

func (f *s3RecordingArchiver) ArchiveRecording(ctxt context.Context, id int64) error {
	logTags := f.GetLogTagsForContext(ctxt)
	if err := f.txWorkers.Submit(ctxt, recordingArchiveRequest{id: id}); err != nil {
		log.WithError(err).WithFields(logTags).WithField("recording", id).Error("Failed to submit archive request")
		return err
	}
	return nil
}

func (f *s3RecordingArchiver) archiveRecording(params interface{}) error {
	if request, ok := params.(recordingArchiveRequest); ok {
		return f.handleArchiveRecording(request)
	}
	err := fmt.Errorf("received unexpected call parameters: %s", reflect.TypeOf(params))
	logTags := f.GetLogTagsForContext(f.workerCtxt)
	log.WithError(err).WithFields(logTags).Error("'ArchiveRecording' processing failure")
	return err
}

func (f *s3RecordingArchiver) handleArchiveRecording(param recordingArchiveRequest) error {
	logTags := f.GetLogTagsForContext(f.workerCtxt)

	uploaded := 0
	for _, artifact := range storage.AllArtifacts {
		filePath := f.store.Path(param.id, artifact)
		if _, err := os.Stat(filePath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		objectKey := f.ObjectKey(param.id, artifact)
		if err := f.s3Client.UploadFile(
			f.workerCtxt, f.archiveCfg.StorageBucket, objectKey, filePath,
		); err != nil {
			log.
				WithError(err).
				WithFields(logTags).
				WithField("recording", param.id).
				WithField("object", objectKey).
				Error("Unable to archive recording artifact")
			return err
		}
		uploaded++
	}
	if uploaded == 0 {
		log.WithFields(logTags).WithField("recording", param.id).Warn("Recording has no artifacts to archive")
		return nil
	}

	if err := f.index.MarkRecordingArchived(f.workerCtxt, param.id); err != nil {
		log.WithError(err).WithFields(logTags).WithField("recording", param.id).Error("Unable to mark recording archived")
		return err
	}

	log.
		WithFields(logTags).
		WithField("recording", param.id).
		WithField("artifacts", uploaded).
		Info("Recording archived")
	return nil
}

func (f *s3RecordingArchiver) RemoveRecording(ctxt context.Context, id int64) error {
	logTags := f.GetLogTagsForContext(ctxt)

	prefix := fmt.Sprintf("%d/", id)
	if f.archiveCfg.StorageObjectPrefix != "" {
		prefix = fmt.Sprintf("%s/%d/", f.archiveCfg.StorageObjectPrefix, id)
	}
	keys, err := f.s3Client.ListObjects(ctxt, f.archiveCfg.StorageBucket, prefix)
	if err != nil {
		log.WithError(err).WithFields(logTags).WithField("recording", id).Error("Unable to list archived objects")
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return f.s3Client.DeleteObjects(ctxt, f.archiveCfg.StorageBucket, keys)
}
