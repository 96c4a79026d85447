package utils

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
)

// FileSystemWatcher reports files appearing in watched DIRs
type FileSystemWatcher interface {
	/*
		Start begin the file system watch loop

			@param ctxt context.Context - execution context
			@param runtimeCtxt context.Context - runtime context for any background tasks
	*/
	Start(ctxt, runtimeCtxt context.Context) error

	/*
		Stop end the file system watch loop, and release the watcher

			@param ctxt context.Context - execution context
	*/
	Stop(ctxt context.Context) error

	/*
		AddPath add path to list of path to watch

			@param ctxt context.Context - execution context
			@param newPath string - new path to watch
	*/
	AddPath(ctxt context.Context, newPath string) error

	/*
		RemovePath remove path from list of watched path

			@param ctxt context.Context - execution context
			@param path string - new path to watch
	*/
	RemovePath(ctxt context.Context, path string) error
}

// FSEvent a file appeared in a watched DIR
type FSEvent struct {
	// The original event
	fsnotify.Event
	// Meta file metadata. Nil if the file was gone before it could be inspected.
	Meta fs.FileInfo
}

/*
NewFileSystemWatcher define new FileSystemWatcher

	@param eventChan chan FSEvent - the channel to return file system events
	@param names ...string - only report files with these base names. All files when empty.
	@returns watcher
*/
func NewFileSystemWatcher(eventChan chan FSEvent, names ...string) (FileSystemWatcher, error) {
	logTags := log.Fields{"module": "utils", "component": "file-system-watcher"}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to define 'fsnotify' watcher")
		return nil, err
	}

	var filter map[string]bool
	if len(names) > 0 {
		filter = make(map[string]bool, len(names))
		for _, name := range names {
			filter[name] = true
		}
	}

	return &fileSystemWatchImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		eventChan: eventChan,
		names:     filter,
		watcher:   watcher,
	}, nil
}

// fileSystemWatchImpl implement FileSystemWatcher
type fileSystemWatchImpl struct {
	goutils.Component
	eventChan     chan FSEvent
	names         map[string]bool
	watcher       *fsnotify.Watcher
	running       atomic.Bool
	wg            sync.WaitGroup
	contextCancel context.CancelFunc
}

func (w *fileSystemWatchImpl) relevant(event fsnotify.Event) bool {
	// Renames into the DIR arrive as Create
	if !event.Has(fsnotify.Create) {
		return false
	}
	return w.names == nil || w.names[filepath.Base(event.Name)]
}

func (w *fileSystemWatchImpl) Start(ctxt, runtimeCtxt context.Context) error {
	logTags := w.GetLogTagsForContext(ctxt)

	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("file system watcher already running")
	}

	watcherContext, contextCancel := context.WithCancel(runtimeCtxt)
	w.contextCancel = contextCancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		log.WithFields(logTags).Info("Starting file system watcher")
		defer log.WithFields(logTags).Info("File system watcher stopped")

		for {
			select {
			case <-watcherContext.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if !w.relevant(event) {
					continue
				}
				log.
					WithFields(logTags).
					WithField("path", event.Name).
					WithField("op", event.Op.String()).
					Debug("Observed new relevant event")
				stat, err := os.Stat(event.Name)
				if err != nil {
					log.
						WithError(err).
						WithFields(logTags).
						WithField("path", event.Name).
						Debug("Unable to `stat` file")
					stat = nil
				}
				select {
				case w.eventChan <- FSEvent{Event: event, Meta: stat}:
				case <-watcherContext.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).WithFields(logTags).Error("File system monitor returned error")
			}
		}
	}()

	return nil
}

func (w *fileSystemWatchImpl) Stop(ctxt context.Context) error {
	if !w.running.CompareAndSwap(true, false) {
		return w.watcher.Close()
	}
	w.contextCancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *fileSystemWatchImpl) AddPath(ctxt context.Context, newPath string) error {
	return w.watcher.Add(newPath)
}

func (w *fileSystemWatchImpl) RemovePath(ctxt context.Context, path string) error {
	return w.watcher.Remove(path)
}
